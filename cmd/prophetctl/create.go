package main

import (
	"fmt"
	"strings"
	"time"

	"Prophet-Chain/internal/guard"
	"Prophet-Chain/internal/prophecy"

	"github.com/briandowns/spinner"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type createFlags struct {
	amount           string
	oracle           string
	dates            []string
	settleDelay      time.Duration
	allowanceRetries int
	approvalTimeout  time.Duration
	confirmTimeout   time.Duration
	alwaysApprove    bool
}

func newCreateCmd(v *viper.Viper) *cobra.Command {
	var f createFlags
	cmd := &cobra.Command{
		Use:   "create <sentence>",
		Short: "Create a prophecy with the signer configured for prophetd",
		Long: `Create runs approve-then-create locally against the chain RPC: it checks the
balance, resets and grants the allowance, dry-runs createProphecy and submits it.

Examples:
  prophetctl create "BTC above 150k" --amount 25 --oracle chainlink-btc-usd --date 2027-06-30
  prophetctl create "Rain in Paris" --amount 1.5 --oracle weather --date 2027-01-01 --date 2027-01-02`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(cmd, loadSettings(v), f, args[0])
		},
	}

	cmd.Flags().StringVar(&f.amount, "amount", "", "Betting amount in whole tokens, e.g. 12.5 (required)")
	cmd.Flags().StringVar(&f.oracle, "oracle", "", "Oracle id (see: prophetctl oracles) (required)")
	cmd.Flags().StringSliceVar(&f.dates, "date", nil, "Target date, RFC3339 or YYYY-MM-DD; repeatable (required)")
	cmd.Flags().DurationVar(&f.settleDelay, "settle-delay", 0, "Wait after the approval confirms before re-reading the allowance")
	cmd.Flags().IntVar(&f.allowanceRetries, "allowance-retries", 0, "Extra allowance re-reads after the first")
	cmd.Flags().DurationVar(&f.approvalTimeout, "approval-timeout", 0, "Confirmation timeout for approvals")
	cmd.Flags().DurationVar(&f.confirmTimeout, "confirm-timeout", 0, "Confirmation timeout for createProphecy")
	cmd.Flags().BoolVar(&f.alwaysApprove, "always-approve", false, "Reset and grant even when the allowance already covers the amount")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("oracle")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func (f createFlags) tune(p *guard.Policy) {
	if f.settleDelay > 0 {
		p.SettleDelay = f.settleDelay
	}
	if f.allowanceRetries > 0 {
		p.AllowanceRetries = f.allowanceRetries
	}
	if f.approvalTimeout > 0 {
		p.ApprovalTimeout = f.approvalTimeout
	}
	if f.confirmTimeout > 0 {
		p.ConfirmTimeout = f.confirmTimeout
	}
	if f.alwaysApprove {
		p.AlwaysApprove = true
	}
}

func runCreate(cmd *cobra.Command, s settings, f createFlags, sentence string) error {
	dates, err := parseDates(f.dates)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	chain, err := openLocal(ctx, s, f.tune)
	if err != nil {
		return err
	}
	defer chain.Close()

	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	var opts []prophecy.CreateOption
	if !s.JSON {
		sp.Suffix = " Checking balance..."
		sp.Start()
		opts = append(opts, prophecy.WithProgress(func(p guard.Progress) {
			sp.Suffix = " " + p.Message
			if s.Verbose && p.TxHash != (common.Hash{}) {
				sp.Stop()
				fmt.Printf("  %s %s\n", p.State, color.CyanString(p.TxHash.Hex()))
				sp.Start()
			}
		}))
	}

	created, err := chain.service.Create(ctx, chain.owner(), prophecy.Input{
		Sentence:      sentence,
		BettingAmount: f.amount,
		Oracle:        f.oracle,
		TargetDates:   dates,
	}, opts...)
	if !s.JSON {
		sp.Stop()
	}
	if err != nil {
		return reportCreateFailure(s, created, err)
	}

	if s.JSON {
		return printJSON(created)
	}
	color.Green("\nProphecy created! Token ID: %s\n", created.TokenID)
	fmt.Printf("  Transaction: %s\n", created.TxHash.Hex())
	fmt.Printf("  Request ID:  %s\n", created.RequestID)
	if created.ApprovalSkipped {
		fmt.Println("  Approval:    skipped, existing allowance was sufficient")
	}
	fmt.Println()
	return nil
}

func reportCreateFailure(s settings, created prophecy.Created, err error) error {
	hash := guard.TxHash(err)
	if s.JSON {
		_ = printJSON(map[string]any{
			"code":       guard.Kind(err),
			"message":    guard.UserMessage(err),
			"tx_hash":    hash,
			"field":      guard.Field(err),
			"request_id": created.RequestID,
		})
		return errSilent
	}

	if prophecy.IsTimeout(err) {
		color.Yellow("\n%s\n", guard.UserMessage(err))
		if hash != "" {
			fmt.Println("The transaction may still confirm. Track it with:")
			color.Cyan("  prophetctl tx %s --watch\n", hash)
		}
		return errSilent
	}

	color.Red("\n%s\n", guard.UserMessage(err))
	if field := guard.Field(err); field != "" {
		fmt.Printf("  Field: %s\n", field)
	}
	if hash != "" {
		fmt.Printf("  Transaction: %s\n", hash)
	}
	if s.Verbose {
		fmt.Printf("  Detail: %v\n", err)
	}
	return errSilent
}

// parseDates accepts RFC3339 timestamps and plain dates (midnight UTC).
func parseDates(values []string) ([]time.Time, error) {
	out := make([]time.Time, 0, len(values))
	for _, raw := range values {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			out = append(out, ts)
			continue
		}
		ts, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid --date %q: use RFC3339 or YYYY-MM-DD", raw)
		}
		out = append(out, ts)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one --date is required")
	}
	return out, nil
}
