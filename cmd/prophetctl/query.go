package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"Prophet-Chain/sdk/go/prophet"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newTxCmd(v *viper.Viper) *cobra.Command {
	var (
		watch    bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "tx <hash>",
		Short: "Show a recorded transaction",
		Long: `Look up a transaction recorded by prophetd.

Examples:
  prophetctl tx 0x1234...abcd
  prophetctl tx 0x1234...abcd --watch --interval 10s`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := loadSettings(v)
			client, err := s.apiClient()
			if err != nil {
				return err
			}
			if !watch {
				tx, err := client.GetTransaction(cmd.Context(), args[0])
				if err != nil {
					return describeAPIError(err)
				}
				return printTransaction(s, tx)
			}
			if s.JSON {
				return errors.New("watch mode does not support JSON output")
			}
			return watchTransaction(cmd.Context(), client, args[0], interval)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Poll until the transaction settles")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "Polling interval when watching")
	return cmd
}

func watchTransaction(ctx context.Context, client *prophet.Client, hash string, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	fmt.Printf("\nWatching %s\n", color.CyanString(hash))
	fmt.Printf("Checking every %s. Press Ctrl+C to stop.\n\n", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		tx, err := client.GetTransaction(ctx, hash)
		if err != nil {
			color.Red("Error: %v", describeAPIError(err))
		} else {
			fmt.Printf("[%s] %s\n", time.Now().Format(time.TimeOnly), colorStatus(tx.Status))
			if tx.Settled() {
				fmt.Println()
				return printTransaction(settings{}, tx)
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func newTxsCmd(v *viper.Viper) *cobra.Command {
	var (
		filter prophet.ListFilter
		stats  bool
	)
	cmd := &cobra.Command{
		Use:   "txs",
		Short: "List recorded transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := loadSettings(v)
			client, err := s.apiClient()
			if err != nil {
				return err
			}
			if stats {
				out, err := client.TransactionStats(cmd.Context(), filter)
				if err != nil {
					return describeAPIError(err)
				}
				if s.JSON {
					return printJSON(out)
				}
				fmt.Printf("\nTotal %d  pending %d  confirmed %d  reverted %d  timed out %d  failed %d\n\n",
					out.Total, out.Pending, out.Confirmed, out.Reverted, out.TimedOut, out.Failed)
				return nil
			}

			page, err := client.ListTransactions(cmd.Context(), filter)
			if err != nil {
				return describeAPIError(err)
			}
			if s.JSON {
				return printJSON(page)
			}
			if len(page.Items) == 0 {
				fmt.Println("\nNo transactions.")
				return nil
			}
			fmt.Println()
			for _, tx := range page.Items {
				fmt.Printf("%s  %-8s  %-10s  %s\n", tx.Hash, tx.Purpose, colorStatus(tx.Status), time.Unix(tx.UpdatedAt, 0).Format(time.RFC3339))
			}
			fmt.Println()
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&filter.Statuses, "status", nil, "Filter by status: pending, confirmed, reverted, timed_out, failed")
	cmd.Flags().StringSliceVar(&filter.Purposes, "purpose", nil, "Filter by purpose: allowance_reset, allowance_grant, action, faucet")
	cmd.Flags().StringVar(&filter.Owner, "owner", "", "Filter by owner address")
	cmd.Flags().StringVarP(&filter.Query, "query", "q", "", "Match hash, request id or error text")
	cmd.Flags().IntVar(&filter.Limit, "limit", 20, "Page size")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "Page offset")
	cmd.Flags().BoolVar(&stats, "stats", false, "Show aggregate counts instead of a listing")
	return cmd
}

func newOraclesCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "oracles",
		Short: "List the oracles prophecies can reference",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := loadSettings(v)
			client, err := s.apiClient()
			if err != nil {
				return err
			}
			oracles, err := client.ListOracles(cmd.Context())
			if err != nil {
				return describeAPIError(err)
			}
			if s.JSON {
				return printJSON(oracles)
			}
			fmt.Println()
			for _, o := range oracles {
				fmt.Printf("%s  %s\n", color.CyanString(o.ID), o.Name)
				if o.Description != "" && s.Verbose {
					fmt.Printf("    %s\n", o.Description)
				}
			}
			fmt.Println()
			return nil
		},
	}
}

func printTransaction(s settings, tx prophet.Transaction) error {
	if s.JSON {
		return printJSON(tx)
	}
	fmt.Printf("Hash:      %s\n", color.CyanString(tx.Hash))
	fmt.Printf("Purpose:   %s\n", tx.Purpose)
	fmt.Printf("Status:    %s\n", colorStatus(tx.Status))
	if tx.ResultID != "" {
		fmt.Printf("Token ID:  %s\n", tx.ResultID)
	}
	if tx.BlockNumber > 0 {
		fmt.Printf("Block:     %d\n", tx.BlockNumber)
	}
	if tx.LastError != "" {
		fmt.Printf("Error:     %s (%s)\n", tx.LastError, tx.ErrorCode)
	}
	fmt.Printf("Attempts:  %d/%d\n\n", tx.Attempts, tx.MaxAttempts)
	return nil
}

func colorStatus(status string) string {
	switch strings.ToLower(status) {
	case "confirmed":
		return color.GreenString(status)
	case "reverted", "failed":
		return color.RedString(status)
	case "timed_out", "pending":
		return color.YellowString(status)
	default:
		return status
	}
}

// describeAPIError keeps the server's user message and drops the transport
// wrapper.
func describeAPIError(err error) error {
	var apiErr *prophet.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	msg := apiErr.Message
	if msg == "" {
		msg = apiErr.Code
	}
	if apiErr.Field != "" {
		msg += " (field " + apiErr.Field + ")"
	}
	return errors.New(msg)
}
