package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"swaprelay/internal/contract"
)

func putSwapCmd() *cobra.Command {
	var deposits []string

	cmd := &cobra.Command{
		Use:     "put-swap",
		Short:   "Submit deposits for execution, skipping those still inside the retry window",
		Example: `  swapctl put-swap --deposit 1:5:1000000 --deposit 2:3:0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseDeposits(deposits)
			if err != nil {
				return err
			}
			return execute(cmd, contract.ExecuteMsg{PutSwap: &contract.PutSwap{Deposits: parsed}})
		},
	}
	cmd.Flags().StringArrayVar(&deposits, "deposit", nil, "deposit as deposit_id:remaining_count:amount_out_min (repeatable)")
	_ = cmd.MarkFlagRequired("deposit")
	return cmd
}

func setPalomaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-paloma",
		Short: "Bind the compass contract to this relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, contract.ExecuteMsg{SetPaloma: &contract.SetPaloma{}})
		},
	}
}

func updateCompassCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update-compass <address>",
		Short: "Point the remote contract at a new compass",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, contract.ExecuteMsg{UpdateCompass: &contract.UpdateCompass{NewCompass: args[0]}})
		},
	}
}

func updateRefundWalletCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update-refund-wallet <address>",
		Short: "Change the remote refund wallet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, contract.ExecuteMsg{UpdateRefundWallet: &contract.UpdateRefundWallet{NewRefundWallet: args[0]}})
		},
	}
}

func updateFeeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update-fee <amount>",
		Short: "Change the remote fee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fee, err := contract.ParseUint256(args[0])
			if err != nil {
				return fmt.Errorf("fee: %w", err)
			}
			return execute(cmd, contract.ExecuteMsg{UpdateFee: &contract.UpdateFee{Fee: fee}})
		},
	}
}

func updateJobIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update-job-id <job-id>",
		Short: "Replace the scheduled job that receives envelopes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, contract.ExecuteMsg{UpdateJobID: &contract.UpdateJobID{NewJobID: args[0]}})
		},
	}
}

func jobIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "job-id",
		Short: "Print the configured job id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(serverURL, sender, secret)
			jobID, err := c.JobID(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), jobID)
			return nil
		},
	}
}

func execute(cmd *cobra.Command, msg contract.ExecuteMsg) error {
	c := newClient(serverURL, sender, secret)
	out, err := c.Execute(cmd.Context(), msg)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func parseDeposits(in []string) ([]contract.Deposit, error) {
	out := make([]contract.Deposit, 0, len(in))
	for _, raw := range in {
		parts := strings.Split(raw, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("deposit %q: want deposit_id:remaining_count:amount_out_min", raw)
		}
		id, err := strconv.ParseUint(parts[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("deposit %q: deposit_id: %w", raw, err)
		}
		count, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("deposit %q: remaining_count: %w", raw, err)
		}
		minOut, err := contract.ParseUint256(parts[2])
		if err != nil {
			return nil, fmt.Errorf("deposit %q: amount_out_min: %w", raw, err)
		}
		out = append(out, contract.Deposit{
			DepositID:      uint32(id),
			RemainingCount: uint32(count),
			AmountOutMin:   minOut,
		})
	}
	return out, nil
}
