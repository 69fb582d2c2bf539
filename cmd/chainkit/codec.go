package main

import (
	"errors"
	"math/big"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tarancss/chainkit/lib/codec"
)

func newAssetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "asset <name|id>",
		Short: "Convert between asset names and asset ids",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if id, ok := new(big.Int).SetString(args[0], 10); ok {
				if id.Sign() < 0 {
					return codec.ErrInvalidAsset
				}

				return printJSON(cmd.OutOrStdout(), map[string]interface{}{"id": id, "name": codec.AssetName(id)})
			}

			id, err := codec.EncodeAsset(strings.ToUpper(args[0]))
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), map[string]interface{}{"id": id, "name": codec.AssetName(id)})
		},
	}
}

func newPayloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "payload <hex>",
		Short: "Decode the data of a protocol transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := codec.DecodePayload(args[0])

			var ut *codec.UnknownTypeError
			if errors.As(err, &ut) {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{"type": ut.Code, "error": err.Error()})
			}

			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"type": p.Type.String(), "asset": p.Asset, "assetId": p.AssetID, "quantity": p.Quantity,
			})
		},
	}
}
