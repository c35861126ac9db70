package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"

	"github.com/sjperalta/fintera-ledger/internal/models"
	"github.com/sjperalta/fintera-ledger/internal/services"
	"github.com/sjperalta/fintera-ledger/pkg/logger"
)

type runFunc func(svcs *services.Services) func(ctx context.Context, opts services.RecomputeOptions) (*services.RecomputeResult, error)

func init() {
	for _, cmd := range []*cobra.Command{recomputeCmd, recomputeDateCmd, purgeSummariesCmd, cleanupLoanReportsCmd} {
		cmd.Flags().Bool("confirm", false, "Apply changes; without it the job only reports what it would do")
		cmd.Flags().Int("page-size", 0, "Rows per page (defaults to RECOMPUTE_PAGE_SIZE)")
		cmd.Flags().Int("limit", 0, "Stop after this many rows (0 means no limit)")
		rootCmd.AddCommand(cmd)
	}
	recomputeCmd.Flags().String("target-date", "", "Recompute requests dated on or before this day, YYYY-MM-DD (defaults to today)")
	recomputeDateCmd.Flags().String("target-date", "", "Day to recompute for every company, YYYY-MM-DD")
	_ = recomputeDateCmd.MarkFlagRequired("target-date")
}

var recomputeCmd = &cobra.Command{
	Use:   "recompute",
	Short: "Recompute financial summaries flagged dirty",
	Long: `Drain the pending recompute requests, oldest first, rebuilding each
company's daily summaries over the requested span. A company whose ledger
cannot be computed halts the run.`,
	Args: cobra.NoArgs,
	RunE: runJob(func(svcs *services.Services) func(context.Context, services.RecomputeOptions) (*services.RecomputeResult, error) {
		return svcs.Recompute.RunDirty
	}),
}

var recomputeDateCmd = &cobra.Command{
	Use:   "recompute-date",
	Short: "Recompute one date for every company",
	Args:  cobra.NoArgs,
	RunE: runJob(func(svcs *services.Services) func(context.Context, services.RecomputeOptions) (*services.RecomputeResult, error) {
		return svcs.Recompute.RunForDate
	}),
}

var purgeSummariesCmd = &cobra.Command{
	Use:   "purge-summaries",
	Short: "Delete financial summaries that carry no date",
	Args:  cobra.NoArgs,
	RunE: runJob(func(svcs *services.Services) func(context.Context, services.RecomputeOptions) (*services.RecomputeResult, error) {
		return svcs.Recompute.PurgeNullDateSummaries
	}),
}

var cleanupLoanReportsCmd = &cobra.Command{
	Use:   "cleanup-loan-reports",
	Short: "Delete loan reports whose loan no longer exists",
	Args:  cobra.NoArgs,
	RunE: runJob(func(svcs *services.Services) func(context.Context, services.RecomputeOptions) (*services.RecomputeResult, error) {
		return svcs.Recompute.CleanupOrphanLoanReports
	}),
}

// optionsFromFlags reads the shared batch flags
func optionsFromFlags(cmd *cobra.Command) (services.RecomputeOptions, error) {
	confirm, _ := cmd.Flags().GetBool("confirm")
	pageSize, _ := cmd.Flags().GetInt("page-size")
	limit, _ := cmd.Flags().GetInt("limit")
	if pageSize < 0 || limit < 0 {
		return services.RecomputeOptions{}, errors.New("--page-size and --limit must not be negative")
	}

	opts := services.RecomputeOptions{DryRun: !confirm, PageSize: pageSize, Limit: limit}
	if cmd.Flags().Lookup("target-date") != nil {
		raw, _ := cmd.Flags().GetString("target-date")
		if raw != "" {
			day, err := models.ParseDate(raw)
			if err != nil {
				return opts, fmt.Errorf("invalid --target-date %q, expected YYYY-MM-DD", raw)
			}
			opts.TargetDate = day
		}
	}
	return opts, nil
}

func runJob(pick runFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		opts, err := optionsFromFlags(cmd)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		result, runErr := pick(a.svcs)(ctx, opts)
		if result != nil {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return fmt.Errorf("failed to write result: %w", err)
			}
		}
		if runErr != nil {
			if errors.Is(runErr, services.ErrFatalComputation) {
				sentry.WithScope(func(scope *sentry.Scope) {
					scope.SetTag("job", cmd.Name())
					if result != nil {
						scope.SetTag("run_id", result.RunID)
					}
					sentry.CaptureException(runErr)
				})
			}
			logger.Error("batch job failed", "job", cmd.Name(), "error", runErr)
			return runErr
		}

		logger.Info("batch job finished", "job", cmd.Name(), "run_id", result.RunID,
			"dry_run", result.DryRun, "dates_updated", len(result.DatesUpdated),
			"duration", result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond))
		return nil
	}
}
