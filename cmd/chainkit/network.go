package main

import (
	"github.com/spf13/cobra"

	"github.com/tarancss/chainkit/lib/codec"
)

func newResolveCmd() *cobra.Command {
	var verify bool

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve the service set of the network and print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			e.conf.RPC.CheckServices = e.conf.RPC.CheckServices || verify

			l, gw, err := e.layer(cmd.Context())
			if err != nil {
				return err
			}
			defer l.Close()

			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"network": e.conf.Network, "layer": l.Kind(), "daemons": gw.Daemons(),
				"set": gw.Resolved().Redacted(),
			})
		},
	}

	cmd.Flags().BoolVar(&verify, "verify", false, "health check the candidates even if disabled in the configuration")

	return cmd
}

func newDecodeCmd() *cobra.Command {
	var hash bool

	cmd := &cobra.Command{
		Use:   "decode <raw|hash>",
		Short: "Decode the asset movement of a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			l, _, err := e.layer(cmd.Context())
			if err != nil {
				return err
			}
			defer l.Close()

			r, err := l.GetAssetInfoFromTx(cmd.Context(), args[0], hash)
			if err != nil && r.Outcome != codec.Malformed {
				return err
			}

			return printJSON(cmd.OutOrStdout(), decoded(r))
		},
	}

	cmd.Flags().BoolVar(&hash, "hash", false, "the argument is a transaction hash")

	return cmd
}

func decoded(r codec.Result) map[string]interface{} {
	m := map[string]interface{}{"outcome": r.Outcome.String(), "tx": r.Tx}
	if r.Err != nil {
		m["error"] = r.Err.Error()
	}

	return m
}
