package cli

import (
	"os"

	"github.com/spf13/cobra"
)

func NewRoot(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "cookieguard",
		Short:         "cookieguard: cookie whitelist and tracker denylist manager",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Version = version
	cmd.SetVersionTemplate("cookieguard {{.Version}}\n")

	cmd.PersistentFlags().String("config", getenvDefault("COOKIEGUARD_CONFIG", ""), "Config file path (default: ./config.yml, ./config.yaml, or /etc/cookieguard/config.yaml)")

	cmd.AddCommand(newServerCmd())
	cmd.AddCommand(newWhitelistCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newDenylistCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

func configFlag(cmd *cobra.Command) string {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	return path
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
