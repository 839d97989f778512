package main

import (
	"fmt"

	"github.com/OKaluzny/wallet-engine/internal/walleterr"
	"github.com/OKaluzny/wallet-engine/pkg/models"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
)

func sendCmd(a *appState) *cobra.Command {
	var (
		from         string
		data         string
		gasLimit     uint64
		gasPriceGwei int64
	)
	cmd := &cobra.Command{
		Use:   "send <to> <value-wei>",
		Short: "Sign and broadcast a transfer",
		Long: `Sign and broadcast a transfer from --from, or from the main account.
The transaction is broadcast once. If it fails, check the nonce and balance
before sending again.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := models.ParseWei(args[1])
			if err != nil {
				return fmt.Errorf("%w: %v", walleterr.ErrInvalidParameter, err)
			}
			req := models.SendRequest{To: args[0], Value: value, Sender: from, GasLimit: gasLimit}
			if data != "" {
				if req.Data, err = hexutil.Decode(data); err != nil {
					return fmt.Errorf("%w: data: %v", walleterr.ErrInvalidParameter, err)
				}
			}
			if gasPriceGwei > 0 {
				req.GasPrice = models.GweiToWei(gasPriceGwei)
			}

			sender := from
			if sender == "" {
				if sender, err = addressArg(a, nil); err != nil {
					return err
				}
			}
			pw, err := readSecret(fmt.Sprintf("Password for %s: ", sender))
			if err != nil {
				return err
			}
			acct, err := a.Engine.UnlockAccount(sender, pw)
			if err != nil {
				return err
			}
			defer acct.Lock()
			req.Sender = sender

			ctx, cancel := requestContext(a, cmd)
			defer cancel()

			hash, err := a.Engine.Transact(ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash.Hex())
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&from, "from", "", "sender address (default main account)")
	f.StringVar(&data, "data", "", "0x-prefixed call data")
	f.Uint64Var(&gasLimit, "gas-limit", 0, "gas limit (default from config)")
	f.Int64Var(&gasPriceGwei, "gas-price", 0, "gas price in gwei (default from config)")
	return cmd
}
