package cli

import (
	"context"
	"fmt"

	"github.com/cookieguard/cookieguard/internal/config"
	"github.com/cookieguard/cookieguard/internal/whitelist"
	"github.com/spf13/cobra"
)

type whitelistFlags struct {
	list   string
	asJSON bool
}

func newWhitelistCmd() *cobra.Command {
	f := &whitelistFlags{}
	cmd := &cobra.Command{
		Use:     "whitelist",
		Aliases: []string{"wl"},
		Short:   "Manage domains exempted from cookie blocking",
	}
	cmd.PersistentFlags().StringVar(&f.list, "list", whitelist.ListCookie, "Whitelist name")
	cmd.PersistentFlags().BoolVar(&f.asJSON, "json", false, "Print JSON")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List whitelisted domains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, f, false, func(ctx context.Context, m *whitelist.Manager) error {
				domains := m.Domains()
				if f.asJSON {
					return printJSON(cmd, map[string]any{"list": m.List(), "domains": domains})
				}
				for _, d := range domains {
					fmt.Fprintln(cmd.OutOrStdout(), d)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "lists",
		Short: "Show stored whitelists with their sizes",
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
			st, err := openReadStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()
			infos, err := st.Lists(ctx)
			if err != nil {
				return err
			}
			if f.asJSON {
				return printJSON(cmd, infos)
			}
			for _, li := range infos {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", li.Name, li.Count)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add DOMAIN...",
		Short: "Whitelist one or more domains",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, f, true, func(ctx context.Context, m *whitelist.Manager) error {
				for _, d := range args {
					if err := m.AddDomain(ctx, d); err != nil {
						return err
					}
				}
				return report(cmd, f, m, "added", args)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove DOMAIN...",
		Short: "Remove the first occurrence of each domain",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, f, true, func(ctx context.Context, m *whitelist.Manager) error {
				for _, d := range args {
					if err := m.RemoveDomain(ctx, d); err != nil {
						return err
					}
				}
				return report(cmd, f, m, "removed", args)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every domain from the whitelist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, f, true, func(ctx context.Context, m *whitelist.Manager) error {
				if err := m.ClearDomains(ctx); err != nil {
					return err
				}
				return report(cmd, f, m, "cleared", nil)
			})
		},
	})

	return cmd
}

func withManager(cmd *cobra.Command, f *whitelistFlags, writable bool, fn func(context.Context, *whitelist.Manager) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadLocalConfig(configFlag(cmd))
	if err != nil {
		return err
	}
	if err := checkListConfigured(cfg, f.list); err != nil {
		return err
	}
	logger := cmdLogger(cmd, cfg)
	st, err := openStore(cfg, writable, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	m, err := whitelist.New(ctx, st, f.list, logger)
	if err != nil {
		return err
	}
	return fn(ctx, m)
}

func checkListConfigured(cfg *config.Config, list string) error {
	for _, l := range cfg.Whitelist.Lists {
		if l == list {
			return nil
		}
	}
	return &ExitError{code: 2, message: fmt.Sprintf("%s: %q (configured: %v)", whitelist.ErrUnknownList, list, cfg.Whitelist.Lists)}
}

func report(cmd *cobra.Command, f *whitelistFlags, m *whitelist.Manager, action string, domains []string) error {
	if f.asJSON {
		return printJSON(cmd, map[string]any{"list": m.List(), action: domains, "count": m.Len()})
	}
	if domains == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s whitelist\n", action, m.List())
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %d domain(s); %s whitelist has %d\n", action, len(domains), m.List(), m.Len())
	return nil
}
