package cli

import (
	"context"
	"fmt"

	"github.com/cookieguard/cookieguard/internal/cookie"
	"github.com/cookieguard/cookieguard/internal/whitelist"
	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	var (
		firstParty string
		exitCode   bool
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "check URL",
		Short: "Show whether cookies for URL would be accepted",
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
			logger := cmdLogger(cmd, cfg)

			st, err := openReadStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			var wl cookie.Whitelist
			if checkListConfigured(cfg, whitelist.ListCookie) == nil {
				m, err := whitelist.New(ctx, st, whitelist.ListCookie, logger)
				if err != nil {
					return err
				}
				wl = m
			}
			_, pending, err := loadDenylist(ctx, cfg, logger)
			if err != nil {
				return err
			}

			policy := cookie.NewPolicy(wl, pending, cookie.Options{
				DefaultAllow:    cfg.Cookies.Default == "allow",
				BlockDenylisted: cfg.Cookies.BlockDenylisted != nil && *cfg.Cookies.BlockDenylisted,
				BlockThirdParty: cfg.Cookies.BlockThirdParty,
			}, nil, logger)
			d, err := policy.DecideThirdParty(ctx, args[0], firstParty)
			if err != nil {
				return err
			}

			if asJSON {
				if err := printJSON(cmd, d); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), formatDecision(d))
			}
			if exitCode && !d.Allow {
				return &ExitError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&firstParty, "first-party", "", "URL of the page loading URL, for third-party checks")
	cmd.Flags().BoolVar(&exitCode, "exit-code", false, "Exit 1 when cookies would be blocked")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func formatDecision(d cookie.Decision) string {
	verdict := "block"
	if d.Allow {
		verdict = "allow"
	}
	if d.Matched != "" {
		return fmt.Sprintf("%s (%s: %s)", verdict, d.Reason, d.Matched)
	}
	return fmt.Sprintf("%s (%s)", verdict, d.Reason)
}
