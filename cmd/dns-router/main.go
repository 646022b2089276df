package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	var (
		configPath string
		hashCost   int
	)

	root := &cobra.Command{
		Use:   "dns-router",
		Short: "DNS query router",
		Long: `DNS query router.

Answers A queries for configured domain patterns with a
synthesized record and relays everything else, byte for
byte, to a single upstream resolver.

Routes can point at a fixed IPv4 address, a hostname that
is looked up when queried, or an expression evaluated
per query.
`,
		Example:      "  dns-router --config config.yml",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yml", "Path to configuration file (.yml, .yaml or .toml)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the DNS router (default)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context(), configPath)
			},
		},
		&cobra.Command{
			Use:   "check",
			Short: "Validate the configuration and print the route table",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runCheck(cmd.OutOrStdout(), configPath)
			},
		},
	)

	hashCmd := &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print a bcrypt hash for api.password_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHashPassword(cmd.OutOrStdout(), args[0], hashCost)
		},
	}
	hashCmd.Flags().IntVar(&hashCost, "cost", defaultHashCost, "Bcrypt cost parameter")
	root.AddCommand(hashCmd)

	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
