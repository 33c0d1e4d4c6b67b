package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/signalbox/internal/ledger"
)

func newDepositCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deposit",
		Short: "Agent back-office deposit commands",
	}
	cmd.AddCommand(newDepositConfirmCmd())
	return cmd
}

func newDepositConfirmCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "confirm <code>",
		Short: "Confirm cash received for a pending deposit",
		Long:  "Credits the caller's balance for a pending deposit code once the agent has received the cash.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			sb, _, err := openSandbox(cfg)
			if err != nil {
				return err
			}
			req, err := sb.ConfirmDeposit(cmd.Context(), args[0])
			if errors.Is(err, ledger.ErrNotFound) {
				return fmt.Errorf("no pending deposit with code %s", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deposit %s confirmed: %d %s credited via agent %s\n",
				req.Code, req.Amount, req.Currency, req.AgentCode)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Signalbox config file")
	return cmd
}
