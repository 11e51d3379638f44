// Package main implements the musiphone node: a music sharing peer that
// stores songs by content hash, streams them with byte range support and
// gates catalog changes behind trust checks and manual approvals.
//
// Commands:
//
//	musiphone serve               run the node
//	musiphone config              print the effective configuration as TOML
//	musiphone approvals           list tickets waiting for approval
//	musiphone approve <id>        approve a ticket (--reject to refuse it)
//
// Configuration is layered: built-in defaults, an optional TOML file
// (--config) and MUSIPHONE_* environment variables, e.g.
// MUSIPHONE_SERVER_LISTEN=:9000 for server.listen.
//
// Example usage:
//
//	# Start a node trusting the peers listed in peers.txt
//	MUSIPHONE_NETWORK_TRUST_FILE=peers.txt musiphone serve --data-dir /var/lib/musiphone
//
//	# Add a song that needs an operator's approval
//	curl -F file=@song.mp3 'localhost:8080/songs?title=Artist+-+Title&controlled=1'
//	musiphone approvals
//	musiphone approve 5d0c7c1e-...
package main

import (
	"log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/metasound/musiphone/internal/config"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

func main() {
	if err := newRootCmd(config.New()).Execute(); err != nil {
		logFatal("musiphone: %v", err)
	}
}

// newRootCmd builds the command tree around v, which holds defaults and
// environment overrides; flags and the config file are layered on top.
func newRootCmd(v *viper.Viper) *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "musiphone",
		Short: "Music sharing node",
		Long: `musiphone runs a node of a music sharing network: it stores songs,
streams them to listeners and lets an operator approve catalog changes
coming from untrusted peers.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "TOML config file")

	load := func() (*config.Config, error) {
		return config.Load(v, cfgFile)
	}

	root.AddCommand(
		newServeCmd(v, load),
		newConfigCmd(v, load),
		newApprovalsCmd(),
		newApproveCmd(),
	)
	return root
}

func newConfigCmd(v *viper.Viper, load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := load(); err != nil {
				return err
			}
			out, err := config.EncodeTOML(v)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
