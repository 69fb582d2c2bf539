// Package main: explorer service
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tarancss/chainkit/explorer"
	"github.com/tarancss/chainkit/lib/block"
	"github.com/tarancss/chainkit/lib/config"
	"github.com/tarancss/chainkit/lib/logging"
	"github.com/tarancss/chainkit/lib/msg/amqp"
	"github.com/tarancss/chainkit/lib/store/db"
)

func main() {
	// get command line flags
	confPath := flag.String("c", "", "configuration file (YAML or JSON)")
	monitor := flag.Bool("m", false, "serve Prometheus metrics at :9100/metrics")
	flag.Parse()

	// extract configuration
	conf, err := config.ExtractConfiguration(*confPath)
	if err != nil {
		panic(err)
	}

	log, err := logging.New(conf.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("configuration", zap.String("network", conf.Network), zap.String("layer", conf.Layer),
		zap.String("cache", conf.CacheType), zap.Strings("assets", conf.Assets))

	// connect to cache store
	cache, err := db.New(conf.CacheType, conf.CacheConn)
	if err != nil {
		log.Fatal("cannot open cache store", zap.Error(err))
	}

	defer func() {
		log.Info("closing cache store", zap.Error(db.Close(conf.CacheType, cache)))
	}()

	reg := prometheus.NewRegistry()

	// load the blockchain layer
	l, _, err := block.Init(context.Background(), conf, cache, reg, log)
	if err != nil {
		log.Fatal("cannot load blockchain layer", zap.Error(err))
	}
	defer l.Close()

	// load Prometheus monitor
	if *monitor {
		go func() {
			h := http.NewServeMux()
			h.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			log.Info("serving metrics API", zap.Error(http.ListenAndServe(":9100", h))) //nolint:gosec // no timeouts
		}()
	}

	// load message broker
	if conf.MbType != "amqp" {
		log.Fatal("unknown message broker type", zap.String("type", conf.MbType))
	}

	mb, err := amqp.Connect(conf.MbConn, 30*time.Second, log)
	if err != nil {
		log.Fatal("cannot connect to message broker", zap.Error(err))
	}

	defer func() {
		log.Info("closing message broker", zap.Error(mb.Close()))
	}()

	// create explorer service
	e := explorer.New(cache, mb, map[string]block.Layer{conf.Network: l}, explorer.Options{
		Assets: conf.Assets,
		Batch:  conf.RPC.BlockBatch,
		Wait:   conf.RPC.LastBlockWait() * 10, //nolint:gomnd // new blocks come every few minutes
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// capture CTRL+C or docker's SIGTERM for gracious exit
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		log.Info("program killed")
		// do last actions and wait for all write operations to end
		e.StopExplorer()
	}()

	// launch explorer (for each network) creating a waiting channel for each
	log.Info("explore", zap.String("ret", <-e.Explore(ctx)))
}
