package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRootCmd() *cobra.Command {
	v := viper.New()
	root := &cobra.Command{
		Use:   "prophetctl",
		Short: "Operator CLI for Prophet-Chain",
		Long: `prophetctl creates prophecies through the guarded approve-then-create flow
and inspects the transactions recorded by prophetd.

Examples:
  prophetctl create "ETH above 5k" --amount 10 --oracle chainlink-eth-usd --date 2027-01-01
  prophetctl balance
  prophetctl tx 0xabc... --watch
  prophetctl txs --status timed_out`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initSettings(v, cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.BoolP("verbose", "v", false, "Enable verbose output")
	flags.BoolP("json", "j", false, "Output in JSON format")
	flags.String("config", "", "Path to a .prophetctl.yaml file")
	flags.String("api-url", "", "prophetd base URL")
	flags.String("api-key", "", "API key for prophetd")
	flags.String("daemon-config", "", "prophetd config used by local commands")

	root.AddCommand(
		newCreateCmd(v),
		newBalanceCmd(v),
		newFaucetCmd(v),
		newTxCmd(v),
		newTxsCmd(v),
		newOraclesCmd(v),
	)
	return root
}
