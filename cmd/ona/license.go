package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/onaplatform/ona-api/internal/config"
	"github.com/onaplatform/ona-api/internal/license"
	"github.com/onaplatform/ona-api/pkg/licensing"
	"github.com/spf13/cobra"
)

var (
	issueAccount string
	issueTier    string
	issueExpires string
)

var licenseCmd = &cobra.Command{
	Use:   "license",
	Short: "Manage issued licenses in the configured store",
}

var licenseIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a license key for an account",
	Example: `  ona license issue --account acme --tier professional
  ona license issue --account globex --tier basic --expires 2027-01-31`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		expires, err := parseExpiry(issueExpires)
		if err != nil {
			return err
		}
		return withLicenseService(cmd.Context(), func(ctx context.Context, svc *license.Service) error {
			issued, err := svc.Issue(ctx, license.IssueRequest{AccountID: issueAccount, Tier: issueTier, ExpiresAt: expires})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "key:         %s\n", issued.Key)
			fmt.Fprintf(out, "fingerprint: %s\n", issued.Record.KeyHash)
			fmt.Fprintf(out, "account:     %s\n", issued.Record.AccountID)
			fmt.Fprintf(out, "tier:        %s\n", issued.Record.Tier)
			if issued.Record.ExpiresAt != nil {
				fmt.Fprintf(out, "expires:     %s\n", issued.Record.ExpiresAt.Format(time.RFC3339))
			}
			fmt.Fprintln(out, "The key is shown once; only its fingerprint is stored.")
			return nil
		})
	},
}

var licenseListCmd = &cobra.Command{
	Use:   "list",
	Short: "List issued licenses",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLicenseService(cmd.Context(), func(ctx context.Context, svc *license.Service) error {
			records, err := svc.Store().List(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FINGERPRINT\tACCOUNT\tTIER\tEXPIRES")
			for _, rec := range records {
				expires := "never"
				if rec.ExpiresAt != nil {
					expires = rec.ExpiresAt.Format("2006-01-02")
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", rec.KeyHash[:12], rec.AccountID, rec.Tier, expires)
			}
			return tw.Flush()
		})
	},
}

func init() {
	licenseIssueCmd.Flags().StringVar(&issueAccount, "account", "", "account the license belongs to")
	licenseIssueCmd.Flags().StringVar(&issueTier, "tier", "basic", "tier: basic, professional or enterprise")
	licenseIssueCmd.Flags().StringVar(&issueExpires, "expires", "", "expiry as YYYY-MM-DD or RFC 3339 (default never)")
	_ = licenseIssueCmd.MarkFlagRequired("account")

	licenseCmd.AddCommand(licenseIssueCmd)
	licenseCmd.AddCommand(licenseListCmd)
}

// parseExpiry accepts a date, read as the end of that day in UTC, or a full
// RFC 3339 timestamp.
func parseExpiry(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		utc := t.UTC()
		return &utc, nil
	}
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, fmt.Errorf("invalid --expires %q: want YYYY-MM-DD or RFC 3339", raw)
	}
	end := day.Add(24*time.Hour - time.Second)
	return &end, nil
}

func withLicenseService(ctx context.Context, fn func(context.Context, *license.Service) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	store, err := license.OpenStore(cfg.License)
	if err != nil {
		return fmt.Errorf("open license store: %w", err)
	}
	defer store.Close()

	policy, err := licensing.ParseUnknownLimitPolicy(cfg.License.UnknownLimitPolicy)
	if err != nil {
		return err
	}
	svc := license.NewService(store, licensing.NewValidator(licensing.DefaultCatalog()), licensing.NewChecker(policy), 0)
	return fn(ctx, svc)
}
