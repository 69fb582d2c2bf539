package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const timeout = 15 * time.Second

type servers struct {
	http, https *http.Server
	done        chan error
}

// Router returns the handler of the RESTful API.
func (a *API) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", a.homeHandler)
	r.HandleFunc("/networks", a.networksHandler).Methods(http.MethodGet)                         // available networks
	r.HandleFunc("/state", a.stateHandler).Methods(http.MethodGet)                               // server state
	r.HandleFunc("/tx/{hash}", a.txHandler).Methods(http.MethodGet)                              // decode transaction
	r.HandleFunc("/tx/{hash}", a.txRequestHandler).Methods(http.MethodPost)                      // decode via explorer
	r.HandleFunc("/decode", a.decodeHandler).Methods(http.MethodPost)                            // decode raw transaction
	r.HandleFunc("/blocks", a.blocksHandler).Methods(http.MethodGet)                             // asset messages of blocks
	r.HandleFunc("/balances/{address}", a.balancesHandler).Methods(http.MethodGet)               // balances of address
	r.HandleFunc("/address", a.hdAddrHandler).Methods(http.MethodGet)                            // address from HD wallet
	r.HandleFunc("/listen/{asset}", a.listenHandler).Methods(http.MethodPost, http.MethodDelete) // track asset
	r.HandleFunc("/send", a.sendHandler).Methods(http.MethodPost)                                // send a transaction
	r.HandleFunc("/events", a.eventsHandler).Methods(http.MethodGet)                             // latest events
	r.Handle("/metrics", promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{}))

	return r
}

// Init sets up and starts the http/https servers of the RESTful API and blocks until they are shut down. If sslPort,
// sslCert and sslKey are informed, it will start an https (TLS) server on the specified endpoint.
func (a *API) Init(endpoint, port, sslPort, sslCert, sslKey string) error {
	h := a.Router()
	s := &servers{done: make(chan error, 2)}
	started := 0

	if port != "" {
		s.http = &http.Server{Handler: h, Addr: endpoint + ":" + port, WriteTimeout: timeout, ReadTimeout: timeout}

		go func() { s.done <- s.http.ListenAndServe() }()

		started++

		a.log.Info("listening to http requests", zap.String("addr", s.http.Addr))
	}

	if sslPort != "" && sslCert != "" && sslKey != "" {
		s.https = &http.Server{Handler: h, Addr: endpoint + ":" + sslPort, WriteTimeout: timeout, ReadTimeout: timeout}

		go func() { s.done <- s.https.ListenAndServeTLS(sslCert, sslKey) }()

		started++

		a.log.Info("listening to https requests", zap.String("addr", s.https.Addr))
	}

	a.mu.Lock()
	a.srv = s
	a.mu.Unlock()

	var errs []error

	for i := 0; i < started; i++ {
		if err := <-s.done; !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (a *API) shutdown(ctx context.Context) {
	a.mu.RLock()
	s := a.srv
	a.mu.RUnlock()

	if s == nil {
		return
	}

	for _, srv := range []*http.Server{s.http, s.https} {
		if srv == nil {
			continue
		}

		if err := srv.Shutdown(ctx); err != nil {
			a.log.Error("cannot shutdown server", zap.String("addr", srv.Addr), zap.Error(err))
		}
	}
}
