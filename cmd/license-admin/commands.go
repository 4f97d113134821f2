package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"social-automation-dashboard/internal/license"
	"social-automation-dashboard/internal/models"
)

// DeactivatedStopReason is recorded on bots stopped by a deactivation
const DeactivatedStopReason = "license deactivated by administrator"

type opener func(ctx context.Context) (*toolkit, func(), error)

// app opens the toolkit on first use so commands like tiers run offline
type app struct {
	open    opener
	kit     *toolkit
	cleanup func()
}

func (a *app) toolkit(ctx context.Context) (*toolkit, error) {
	if a.kit != nil {
		return a.kit, nil
	}
	kit, cleanup, err := a.open(ctx)
	if err != nil {
		return nil, err
	}
	a.kit, a.cleanup = kit, cleanup
	return kit, nil
}

func (a *app) close() {
	if a.cleanup != nil {
		a.cleanup()
		a.cleanup = nil
	}
}

func newRootCmd(open opener) *cobra.Command {
	a := &app{open: open}
	root := &cobra.Command{
		Use:           "license-admin",
		Short:         "Manage dashboard licenses",
		Long:          `Inspect and change dashboard licenses and run maintenance jobs against the database`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	root.AddCommand(
		newTiersCmd(),
		newShowCmd(a),
		newUpgradeCmd(a),
		newExtendCmd(a),
		newDeactivateCmd(a),
		newStatsCmd(a),
		newMaintenanceCmd(a),
	)
	return root
}

func newTiersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tiers",
		Short: "List license tiers and their entitlements",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIER\tCONNECTIONS\tMESSAGES\tKEYWORDS\tPROFILE VIEWS\tSEARCHES\tFEATURES")
			for _, tier := range license.Tiers() {
				e := license.LimitsFor(tier)
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%s\n", tier,
					e.MaxDailyConnections, e.MaxDailyMessages, e.MaxSearchKeywords,
					e.MaxDailyProfileViews, e.MaxDailySearches, featureList(e))
			}
			return w.Flush()
		},
	}
}

func featureList(e license.Entitlements) string {
	features := e.Features()
	if len(features) == 0 {
		return "-"
	}
	out := ""
	for i, f := range features {
		if i > 0 {
			out += ","
		}
		out += string(f)
	}
	return out
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <user>",
		Short: "Show a user's license and usage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kit, err := a.toolkit(cmd.Context())
			if err != nil {
				return err
			}
			lic, err := kit.accounts.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printLicense(cmd.OutOrStdout(), lic, kit.now())
			return nil
		},
	}
}

func printLicense(out io.Writer, lic *models.License, now time.Time) {
	state := "active"
	switch {
	case lic.IsExpired(now):
		state = "expired"
	case !lic.IsActive:
		state = "inactive"
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "User:\t%s\n", lic.UserID)
	fmt.Fprintf(w, "Tier:\t%s\n", lic.Tier)
	fmt.Fprintf(w, "State:\t%s\n", state)
	fmt.Fprintf(w, "Expires:\t%s (%d days left)\n", lic.ExpiresAt.UTC().Format(time.RFC3339), lic.DaysRemaining(now))
	fmt.Fprintf(w, "Connections today:\t%d\n", lic.Usage.ConnectionsToday)
	fmt.Fprintf(w, "Messages today:\t%d\n", lic.Usage.MessagesToday)
	fmt.Fprintf(w, "Searches today:\t%d\n", lic.Usage.SearchesToday)
	fmt.Fprintf(w, "Profile views today:\t%d\n", lic.Usage.ProfileViewsToday)
	fmt.Fprintf(w, "Total connections:\t%d\n", lic.Usage.TotalConnections)
	fmt.Fprintf(w, "Sessions:\t%d\n", lic.Usage.TotalSessions)
	w.Flush()
}

func newUpgradeCmd(a *app) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "upgrade <user> <tier>",
		Short: "Change a user's tier",
		Long:  `Change a user's tier. With --days the term restarts and runs that many days from now.`,
		Example: `  license-admin upgrade 6f1c... premium --days 30
  license-admin upgrade 6f1c... basic`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tier, ok := license.ParseTier(args[1])
			if !ok {
				return fmt.Errorf("unknown tier %q (known: %v)", args[1], license.Tiers())
			}
			kit, err := a.toolkit(cmd.Context())
			if err != nil {
				return err
			}
			lic, err := kit.accounts.Upgrade(cmd.Context(), args[0], tier, days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Upgraded %s to %s\n", lic.UserID, lic.Tier)
			printLicense(cmd.OutOrStdout(), lic, kit.now())
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "restart the term with this many days")
	return cmd
}

func newExtendCmd(a *app) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "extend <user>",
		Short: "Extend a user's license term",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kit, err := a.toolkit(cmd.Context())
			if err != nil {
				return err
			}
			lic, err := kit.accounts.Extend(cmd.Context(), args[0], days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Extended %s by %d days\n", lic.UserID, days)
			printLicense(cmd.OutOrStdout(), lic, kit.now())
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "days to add")
	return cmd
}

func newDeactivateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <user>",
		Short: "Deactivate a license and stop its bot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kit, err := a.toolkit(cmd.Context())
			if err != nil {
				return err
			}
			lic, err := kit.accounts.Deactivate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if _, err := kit.bots.EmergencyStop(cmd.Context(), lic.UserID, DeactivatedStopReason); err != nil {
				return fmt.Errorf("license deactivated but stopping the bot failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deactivated %s\n", lic.UserID)
			return nil
		},
	}
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the license population",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kit, err := a.toolkit(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := kit.licenses.GetLicenseStats(cmd.Context(), kit.now())
			if err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
}

func printStats(out io.Writer, stats *models.LicenseStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Total:\t%d\n", stats.Total)
	fmt.Fprintf(w, "Active:\t%d\n", stats.Active)
	fmt.Fprintf(w, "Expired:\t%d\n", stats.Expired)
	fmt.Fprintf(w, "Inactive:\t%d\n", stats.Inactive)
	for _, tier := range license.Tiers() {
		fmt.Fprintf(w, "  %s:\t%d\n", tier, stats.ByTier[tier])
	}
	w.Flush()
}

func newMaintenanceCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Run a maintenance job now",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "daily",
		Short: "Reset daily usage and deactivate expired licenses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kit, err := a.toolkit(cmd.Context())
			if err != nil {
				return err
			}
			report, err := kit.scheduler.RunDaily(cmd.Context())
			if report != nil {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Counters reset: %d\n", report.CountersReset)
				fmt.Fprintf(out, "Next reset: %s\n", report.NextReset.UTC().Format(time.RFC3339))
				fmt.Fprintf(out, "Deactivated: %d\n", len(report.Deactivated))
				for _, id := range report.Deactivated {
					fmt.Fprintf(out, "  %s\n", id)
				}
				fmt.Fprintf(out, "Bots stopped: %d\n", report.BotsStopped)
			}
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "weekly",
		Short: "Print the weekly license and activity report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kit, err := a.toolkit(cmd.Context())
			if err != nil {
				return err
			}
			report, err := kit.scheduler.RunWeekly(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printStats(out, report.Licenses)
			fmt.Fprintln(out, "Activity (7 days):")
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			for _, c := range report.Activity {
				fmt.Fprintf(w, "  %s\t%d\t(%d succeeded)\n", c.Kind, c.Total, c.Succeeded)
			}
			return w.Flush()
		},
	})
	return cmd
}
