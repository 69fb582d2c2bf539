// Package main: REST API service.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/tarancss/hd"
	"go.uber.org/zap"

	"github.com/tarancss/chainkit/api"
	"github.com/tarancss/chainkit/lib/block"
	"github.com/tarancss/chainkit/lib/config"
	"github.com/tarancss/chainkit/lib/logging"
	"github.com/tarancss/chainkit/lib/msg/amqp"
	"github.com/tarancss/chainkit/lib/store/db"
)

func main() {
	// get command line flags
	confPath := flag.String("c", "", "configuration file (YAML or JSON)")
	dryRun := flag.Bool("n", false, "build transactions without broadcasting them")
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
		zap.String("port", conf.Port), zap.String("sslport", conf.SSLPort))

	api.DryRun = *dryRun

	// connect to cache store
	cache, err := db.New(conf.CacheType, conf.CacheConn)
	if err != nil {
		log.Fatal("cannot open cache store", zap.Error(err))
	}

	defer func() {
		log.Info("closing cache store", zap.Error(db.Close(conf.CacheType, cache)))
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// load the blockchain layer
	l, _, err := block.Init(context.Background(), conf, cache, reg, log)
	if err != nil {
		log.Fatal("cannot load blockchain layer", zap.Error(err))
	}

	// load message broker
	if conf.MbType != "amqp" {
		log.Fatal("unknown message broker type", zap.String("type", conf.MbType))
	}

	mb, err := amqp.Connect(conf.MbConn, 30*time.Second, log)
	if err != nil {
		log.Fatal("cannot connect to message broker", zap.Error(err))
	}

	// load HD wallet
	var hdw *hd.HdWallet

	if conf.Seed != "" {
		seed, err := hex.DecodeString(conf.Seed)
		if err != nil {
			log.Fatal("invalid HD seed", zap.Error(err))
		}

		if hdw, err = hd.Init(seed); err != nil {
			log.Fatal("cannot initialise HD wallet", zap.Error(err))
		}
	}

	// create API service
	a := api.New(mb, map[string]block.Layer{conf.Network: l}, hdw, reg, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// capture CTRL+C or docker's SIGTERM for gracious exit
	finish := make(chan struct{})

	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		log.Info("program killed")
		cancel()

		sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer scancel()
		// do last actions and wait for all write operations to end
		a.Stop(sctx)
		close(finish)
	}()

	// manage explorer and broadcaster events
	if err = a.ManageEvents(ctx); err != nil {
		log.Error("cannot consume events", zap.Error(err))
	}

	// init RESTful API, wait for its return and log response
	if err = a.Init(conf.RestfulEndpoint, conf.Port, conf.SSLPort, conf.SSLCert, conf.SSLKey); err != nil {
		log.Fatal("api servers failed", zap.Error(err))
	}

	<-finish
}
