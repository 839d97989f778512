package main

import (
	"fmt"

	"github.com/OKaluzny/wallet-engine/internal/account"
	"github.com/OKaluzny/wallet-engine/internal/wallet"
	"github.com/spf13/cobra"
)

func accountCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "account",
		Aliases: []string{"acc"},
		Short:   "Manage keystore accounts",
	}
	cmd.AddCommand(
		accountNewCmd(a),
		accountListCmd(a),
		accountImportCmd(a),
		accountMnemonicCmd(),
		accountDeleteCmd(a),
		accountPasswdCmd(a),
	)
	return cmd
}

func accountNewCmd(a *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Create an account with a random key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := readNewPassword("New password: ")
			if err != nil {
				return err
			}
			acct, err := a.Engine.NewAccount(pw)
			if err != nil {
				return err
			}
			printAccount(cmd, acct)
			return nil
		},
	}
}

func accountListCmd(a *appState) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"l"},
		Short:   "List accounts in the keystore",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			accounts, err := a.Engine.Accounts()
			if err != nil {
				return err
			}
			for i, acct := range accounts {
				addr := account.UnknownAddress
				if known, ok := acct.Address(); ok {
					addr = known.Hex()
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d: %s %s\n", i, addr, acct.Path())
			}
			return nil
		},
	}
}

func accountImportCmd(a *appState) *cobra.Command {
	var index uint32
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import the account derived from a BIP-39 mnemonic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mnemonic, err := readSecret("Mnemonic: ")
			if err != nil {
				return err
			}
			passphrase, err := readSecret("Mnemonic passphrase (optional): ")
			if err != nil {
				return err
			}
			pw, err := readNewPassword("New password: ")
			if err != nil {
				return err
			}
			acct, err := a.Engine.ImportMnemonic(mnemonic, passphrase, index, pw)
			if err != nil {
				return err
			}
			printAccount(cmd, acct)
			return nil
		},
	}
	cmd.Flags().Uint32Var(&index, "index", 0, "address index in m/44'/60'/0'/0/index")
	return cmd
}

func accountMnemonicCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mnemonic",
		Short: "Generate a new 12-word mnemonic",
		Args:  cobra.NoArgs,
		// the engine is not needed
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := wallet.NewMnemonic()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), m)
			return nil
		},
	}
}

func accountDeleteCmd(a *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <address>",
		Short: "Move an account's keyfile to the trash directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acct, err := a.Engine.Account(args[0])
			if err != nil {
				return err
			}
			if err := a.Engine.DeleteAccount(acct); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func accountPasswdCmd(a *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "passwd <address>",
		Short: "Change an account's password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acct, err := a.Engine.Account(args[0])
			if err != nil {
				return err
			}
			current, err := readSecret("Current password: ")
			if err != nil {
				return err
			}
			pw, err := readNewPassword("New password: ")
			if err != nil {
				return err
			}
			if err := a.Engine.UpdateAccountPassword(acct, pw, current); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "password updated")
			return nil
		},
	}
}

func printAccount(cmd *cobra.Command, acct *account.Account) {
	addr, _ := acct.Address()
	fmt.Fprintf(cmd.OutOrStdout(), "address: %s\npath:    %s\n", addr.Hex(), acct.Path())
}
