package main

import (
	"fmt"
	"time"

	"Prophet-Chain/internal/prophecy"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newBalanceCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the signer's stake token balance and allowance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := loadSettings(v)
			chain, err := openLocal(cmd.Context(), s, nil)
			if err != nil {
				return err
			}
			defer chain.Close()

			funds, err := chain.service.Balance(cmd.Context(), chain.owner())
			if err != nil {
				return err
			}
			balance := prophecy.FormatUnits(funds.Balance, funds.Decimals)
			allowance := prophecy.FormatUnits(funds.Allowance, funds.Decimals)
			if s.JSON {
				return printJSON(map[string]any{
					"owner":         chain.owner().Hex(),
					"balance":       balance,
					"allowance":     allowance,
					"balance_raw":   funds.Balance.String(),
					"allowance_raw": funds.Allowance.String(),
					"decimals":      funds.Decimals,
				})
			}
			fmt.Printf("\nAccount:   %s\n", color.CyanString(chain.owner().Hex()))
			fmt.Printf("Balance:   %s\n", color.GreenString(balance))
			fmt.Printf("Allowance: %s\n\n", allowance)
			return nil
		},
	}
}

func newFaucetCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "faucet",
		Short: "Mint test tokens to the signer from the token faucet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := loadSettings(v)
			chain, err := openLocal(cmd.Context(), s, nil)
			if err != nil {
				return err
			}
			defer chain.Close()

			sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
			if !s.JSON {
				sp.Suffix = " Requesting test tokens..."
				sp.Start()
			}
			hash, err := chain.service.Faucet(cmd.Context(), chain.owner())
			if !s.JSON {
				sp.Stop()
			}
			if err != nil {
				return err
			}
			if s.JSON {
				return printJSON(map[string]string{"tx_hash": hash.Hex()})
			}
			color.Green("\nFaucet confirmed: %s\n\n", hash.Hex())
			return nil
		},
	}
}
