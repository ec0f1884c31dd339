package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/zenmigration/zenmigrate/internal/claim"
	"github.com/zenmigration/zenmigrate/internal/network"
	"github.com/zenmigration/zenmigrate/internal/protocol"
)

var (
	nodeURL     string
	nodeTimeout time.Duration

	claimWIF         string
	claimDestination string
	claimFrom        string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the token and ledger state of a running node",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), nodeTimeout)
		defer cancel()
		client := network.NewClient(nodeURL, nil)

		info, err := client.Info(ctx)
		if err != nil {
			return err
		}
		tok, err := client.Token(ctx)
		if err != nil {
			return err
		}
		out := map[string]any{"info": info, "token": tok}
		for _, name := range []string{"eon", "zend"} {
			status, err := client.LedgerStatus(ctx, name)
			if err != nil {
				return err
			}
			out[name] = status
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

var claimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Sign and submit a P2PKH claim of a ZEND balance",
	Long: `Sign the claim message for --destination with the zend private key given
in wallet import format and submit it to the node. The transaction is sent
from --from, which defaults to the destination.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wif, err := btcutil.DecodeWIF(claimWIF)
		if err != nil {
			return fmt.Errorf("invalid private key: %w", err)
		}
		if !common.IsHexAddress(claimDestination) {
			return fmt.Errorf("invalid destination %q", claimDestination)
		}
		dest := common.HexToAddress(claimDestination)
		from := dest
		if claimFrom != "" {
			if !common.IsHexAddress(claimFrom) {
				return fmt.Errorf("invalid sender %q", claimFrom)
			}
			from = common.HexToAddress(claimFrom)
		}
		net, err := claim.NetworkByName(cfg.Network)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), nodeTimeout)
		defer cancel()
		client := network.NewClient(nodeURL, nil)
		info, err := client.Info(ctx)
		if err != nil {
			return err
		}

		verifier := claim.NewVerifier(net)
		message := claim.ClaimMessage(info.Symbol+cfg.Phrase, dest)
		sig, err := verifier.SignMessage(wif.PrivKey, message, wif.CompressPubKey)
		if err != nil {
			return err
		}
		pub := wif.SerializePubKey()
		addr := net.EncodeAddress(net.P2PKH, claim.Hash160(pub))

		resp, err := client.ClaimP2PKH(ctx, "zend", protocol.ClaimP2PKHRequest{
			From:        from,
			Destination: dest,
			Signature:   hexutil.Bytes(sig),
			PublicKey:   hexutil.Bytes(pub),
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Claimed %s ZEN of %s to %s (tx %s)\n", resp.Amount.Value, addr, dest.Hex(), resp.TxHash.Hex())
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{statusCmd, claimCmd} {
		c.Flags().StringVar(&nodeURL, "node", "http://localhost:8080", "Base URL of the migration node")
		c.Flags().DurationVar(&nodeTimeout, "timeout", network.DefaultTimeout, "Request timeout")
	}
	claimCmd.Flags().StringVar(&claimWIF, "wif", "", "Zend private key in wallet import format")
	claimCmd.Flags().StringVar(&claimDestination, "destination", "", "Address receiving the claimed tokens")
	claimCmd.Flags().StringVar(&claimFrom, "from", "", "Transaction sender (defaults to the destination)")
	claimCmd.MarkFlagRequired("wif")
	claimCmd.MarkFlagRequired("destination")

	rootCmd.AddCommand(statusCmd, claimCmd)
}
