package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tarancss/chainkit/broadcaster"
	"github.com/tarancss/chainkit/lib/block"
	"github.com/tarancss/chainkit/lib/msg/amqp"
	"github.com/tarancss/chainkit/lib/queue"
)

func newBroadcastCmd() *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "broadcast <raw>",
		Short: "Sign and broadcast a raw transaction and print its hash",
		Long: `Signs the raw transaction with the key given, or with the signing queue when the queue is configured, and
broadcasts it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			l, gw, err := e.layer(cmd.Context())
			if err != nil {
				return err
			}
			defer l.Close()

			qt, err := queue.New(l, gw, queue.FromConfig(e.conf.Queue), e.log).Broadcast(cmd.Context(), args[0], key)
			if qt.Hash == "" && err != nil {
				return err
			}

			out := map[string]interface{}{"hash": qt.Hash, "status": qt.Status.String()}
			if qt.ID != "" {
				out["queueId"] = qt.ID
			}

			if err != nil {
				out["error"] = err.Error()
			}

			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().StringVarP(&key, "key", "k", "", "private key used to sign locally")

	return cmd
}

func newBroadcasterCmd() *cobra.Command {
	var metrics string

	cmd := &cobra.Command{
		Use:   "broadcaster",
		Short: "Run the broadcaster service",
		Long: `Consumes the broadcast requests published by the API, broadcasts the transactions and publishes their
outcome. Transfers from HD wallet addresses are signed with the HD wallet of the configured seed. Stops on CTRL+C or SIGTERM once the request being processed is done.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			reg := prometheus.NewRegistry()

			l, gw, err := block.Init(cmd.Context(), e.conf, e.cache, reg, e.log)
			if err != nil {
				return err
			}
			defer l.Close()

			mb, err := amqp.Connect(e.conf.MbConn, 30*time.Second, e.log)
			if err != nil {
				return err
			}

			defer func() {
				e.log.Info("closing message broker", zap.Error(mb.Close()))
			}()

			hdw, err := e.hdWallet()
			if err != nil {
				return err
			}

			if metrics != "" {
				go serveMetrics(metrics, reg, e.log)
			}

			qs := map[string]broadcaster.Queue{
				e.conf.Network: queue.New(l, gw, queue.FromConfig(e.conf.Queue), e.log),
			}
			b := broadcaster.New(mb, qs, hdw, reg, e.log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err = b.Start(ctx); err != nil {
				return err
			}

			<-ctx.Done()
			e.log.Info("program killed")
			b.Wait()

			return nil
		},
	}

	cmd.Flags().StringVarP(&metrics, "metrics", "m", "", "address to serve Prometheus metrics at, ie :9100")

	return cmd
}
