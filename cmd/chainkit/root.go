package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/tarancss/hd"
	"go.uber.org/zap"

	"github.com/tarancss/chainkit/lib/block"
	"github.com/tarancss/chainkit/lib/config"
	"github.com/tarancss/chainkit/lib/logging"
	"github.com/tarancss/chainkit/lib/rpc"
	"github.com/tarancss/chainkit/lib/store"
	"github.com/tarancss/chainkit/lib/store/db"
)

var json = jsoniter.Config{EscapeHTML: false, SortMapKeys: true}.Froze()

const configFlag = "config"

// newRootCmd returns the chainkit command and its subcommands.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "chainkit",
		Short: "Blockchain access middleware",
		Long: `chainkit decodes protocol transactions, resolves the daemons of a network, broadcasts transactions and
runs the broadcaster service. The configuration is read from the file given (YAML or JSON) and CK_* OS ENV
variables.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringP(configFlag, "c", "", "configuration file (YAML or JSON)")

	root.AddCommand(
		newAssetCmd(),
		newPayloadCmd(),
		newResolveCmd(),
		newDecodeCmd(),
		newBroadcastCmd(),
		newBroadcasterCmd(),
	)

	return root
}

// env holds what the commands reaching the daemons need.
type env struct {
	conf  config.ServiceConfig
	log   *zap.Logger
	cache store.Cache
}

func newEnv(cmd *cobra.Command) (*env, error) {
	path, _ := cmd.Flags().GetString(configFlag)

	conf, err := config.ExtractConfiguration(path)
	if err != nil {
		return nil, err
	}

	log, err := logging.New(conf.LogLevel)
	if err != nil {
		return nil, err
	}

	cache, err := db.New(conf.CacheType, conf.CacheConn)
	if err != nil {
		return nil, fmt.Errorf("cannot open cache store: %w", err)
	}

	return &env{conf: conf, log: log, cache: cache}, nil
}

func (e *env) layer(ctx context.Context) (block.Layer, *rpc.Gateway, error) {
	return block.Init(ctx, e.conf, e.cache, nil, e.log)
}

// hdWallet returns the HD wallet of the configured seed, or nil when no seed is configured.
func (e *env) hdWallet() (*hd.HdWallet, error) {
	if e.conf.Seed == "" {
		return nil, nil
	}

	seed, err := hex.DecodeString(e.conf.Seed)
	if err != nil {
		return nil, fmt.Errorf("invalid HD seed: %w", err)
	}

	return hd.Init(seed)
}

func (e *env) close() {
	if err := db.Close(e.conf.CacheType, e.cache); err != nil {
		e.log.Error("cannot close cache store", zap.Error(err))
	}

	_ = e.log.Sync()
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(w, string(b))

	return err
}

func serveMetrics(addr string, reg *prometheus.Registry, log *zap.Logger) {
	h := http.NewServeMux()
	h.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	s := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	log.Info("serving metrics API", zap.String("addr", addr), zap.Error(s.ListenAndServe()))
}
