package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

const flagJSON = "json"

// addressArg returns the first argument, or the main account's address.
func addressArg(a *appState, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	acct, err := a.Engine.MainAccount()
	if err != nil {
		return "", err
	}
	addr, _ := acct.Address()
	return addr.Hex(), nil
}

func requestContext(a *appState, cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if a.Config.HTTPTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	// room for the indexer's retries
	return context.WithTimeout(ctx, a.Config.HTTPTimeout*time.Duration(a.Config.IndexerMaxRetries+1))
}

func balanceCmd(a *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "balance [address]",
		Short: "Show the balance of an address, the main account by default",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := addressArg(a, args)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(a, cmd)
			defer cancel()

			balance, err := a.Engine.Balance(ctx, address)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s ETH\n", strconv.FormatFloat(balance, 'f', -1, 64))
			return nil
		},
	}
}

func historyCmd(a *appState) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history [address]",
		Short: "Show the transaction history of an address, oldest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := addressArg(a, args)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(a, cmd)
			defer cancel()

			txs, err := a.Engine.History(ctx, address)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(txs)
			}
			for _, tx := range txs {
				direction, peer := "IN ", tx.Extra.FromAddress
				if tx.Extra.Sent {
					direction, peer = "OUT", tx.Extra.ToAddress
				}
				fmt.Fprintf(out, "%s %s %s %s ETH %s\n", tx.TimeStamp, direction, peer,
					strconv.FormatFloat(tx.Extra.ValueEth, 'f', -1, 64), tx.Hash)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, flagJSON, false, "print raw JSON")
	return cmd
}
