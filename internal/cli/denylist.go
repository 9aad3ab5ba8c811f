package cli

import (
	"context"
	"fmt"

	"github.com/cookieguard/cookieguard/internal/denylist"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newDenylistCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "denylist",
		Short: "Inspect the tracker host denylist",
	}
	cmd.PersistentFlags().BoolVar(&asJSON, "json", false, "Print JSON")

	var exitCode bool
	checkCmd := &cobra.Command{
		Use:   "check HOST",
		Short: "Show whether HOST or a parent domain is denied",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cfg, err := loadLocalConfig(configFlag(cmd))
			if err != nil {
				return err
			}
			host, err := denylist.HostFromURL(args[0])
			if err != nil {
				return &ExitError{code: 2, message: fmt.Sprintf("invalid host %q: %v", args[0], err)}
			}
			loader, _, err := loadDenylist(ctx, cfg, cmdLogger(cmd, cfg))
			if err != nil {
				return err
			}
			matched, denied := loader.Set().Match(host)
			if asJSON {
				if err := printJSON(cmd, map[string]any{"host": host, "denied": denied, "matched": matched}); err != nil {
					return err
				}
			} else if denied {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: denied (%s)\n", host, matched)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: not denied\n", host)
			}
			if exitCode && denied {
				return &ExitError{code: 1}
			}
			return nil
		},
	}
	checkCmd.Flags().BoolVar(&exitCode, "exit-code", false, "Exit 1 when HOST is denied")
	cmd.AddCommand(checkCmd)

	var showHosts bool
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show the denylist source and size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cfg, err := loadLocalConfig(configFlag(cmd))
			if err != nil {
				return err
			}
			loader, pending, err := loadDenylist(ctx, cfg, cmdLogger(cmd, cfg))
			if err != nil {
				return err
			}
			out := map[string]any{
				"source":  loader.Source().Name(),
				"entries": loader.Set().Size(),
			}
			if lerr := pending.Err(); lerr != nil {
				out["error"] = lerr.Error()
			}
			if showHosts {
				out["hosts"] = loader.Set().Hosts()
			}
			if asJSON {
				return printJSON(cmd, out)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "source:  %s\nentries: %s\n", out["source"], humanize.Comma(int64(loader.Set().Size())))
			if lerr, ok := out["error"]; ok {
				fmt.Fprintf(cmd.OutOrStdout(), "error:   %s\n", lerr)
			}
			if showHosts {
				for _, h := range loader.Set().Hosts() {
					fmt.Fprintln(cmd.OutOrStdout(), h)
				}
			}
			return nil
		},
	}
	statsCmd.Flags().BoolVar(&showHosts, "hosts", false, "Also print every entry")
	cmd.AddCommand(statsCmd)

	return cmd
}
