package admin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/alphaledger/internal/domain"
	"github.com/cloo-solutions/alphaledger/internal/service"
)

func AssumptionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assumption",
		Short: "Extract, validate and score assumptions",
	}

	cmd.AddCommand(assumptionListCmd())
	cmd.AddCommand(assumptionExtractCmd())
	cmd.AddCommand(assumptionValidateCmd())
	cmd.AddCommand(assumptionRunCmd())
	cmd.AddCommand(assumptionAccuracyCmd())

	return cmd
}

func assumptionListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List assumptions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ticker, _ := cmd.Flags().GetString("ticker")
			sourceID, _ := cmd.Flags().GetString("source")
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")

			filter := service.AssumptionFilter{
				Ticker:   ticker,
				SourceID: sourceID,
				Status:   domain.AssumptionStatus(strings.ToUpper(status)),
				Limit:    limit,
			}
			if filter.Status != "" && !filter.Status.IsValid() {
				return fmt.Errorf("invalid status %q", status)
			}

			return withApp(cmd, func(ctx context.Context, a *app) error {
				items, err := a.assumptions.List(ctx, filter)
				if err != nil {
					return err
				}
				if wantJSON(cmd) {
					return writeJSON(cmd.OutOrStdout(), items)
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No assumptions found")
					return nil
				}
				for _, it := range items {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s  %-8s %-12s %-6s %.2f  %s\n",
						it.ID, it.Status, it.Category, it.TimeHorizon, it.Confidence, truncate(it.AssumptionText, 70))
				}
				return nil
			})
		},
	}

	cmd.Flags().String("ticker", "", "Filter by ticker")
	cmd.Flags().String("source", "", "Filter by source ID")
	cmd.Flags().String("status", "", "Filter by status: PENDING, VERIFIED or FAILED")
	cmd.Flags().IntP("limit", "n", 50, "Maximum number of results")
	addOutputFlag(cmd)

	return cmd
}

func assumptionExtractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract <source-id>",
		Short: "Extract and store assumptions from a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				items, err := a.extractor.ExtractFromSource(ctx, args[0])
				if err != nil {
					return err
				}
				if wantJSON(cmd) {
					return writeJSON(cmd.OutOrStdout(), items)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stored %d assumptions\n", len(items))
				for _, it := range items {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s  %.2f  %s\n", it.ID, it.Confidence, truncate(it.AssumptionText, 80))
				}
				return nil
			})
		},
	}
	addOutputFlag(cmd)
	return cmd
}

func assumptionValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <id>",
		Short: "Settle one assumption against an observed value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actual, _ := cmd.Flags().GetString("actual")
			source, _ := cmd.Flags().GetString("source")

			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.validator.Validate(ctx, service.ValidationRequest{
					AssumptionID: args[0],
					ActualValue:  actual,
					Source:       source,
				})
				if err != nil {
					return err
				}
				if wantJSON(cmd) {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%s)\n", res.ID, res.Status, res.ValidationMethod)
				return nil
			})
		},
	}

	cmd.Flags().String("actual", "", "Observed value, e.g. 78조원 or 12.5%")
	cmd.Flags().String("source", "manual", "Where the observed value came from")
	_ = cmd.MarkFlagRequired("actual")
	addOutputFlag(cmd)

	return cmd
}

func assumptionRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Validate every due assumption against market data",
		RunE: func(cmd *cobra.Command, args []string) error {
			asOf := time.Now().UTC()
			if t, err := parseDateFlag(cmd, "as-of"); err != nil {
				return err
			} else if t != nil {
				asOf = *t
			}

			return withApp(cmd, func(ctx context.Context, a *app) error {
				report, err := a.validator.RunValidationJob(ctx, asOf)
				if err != nil {
					return err
				}
				if wantJSON(cmd) {
					return writeJSON(cmd.OutOrStdout(), report)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "As of %s: %d verified, %d failed\n",
					report.AsOf.Format(dateLayout), report.Verified, report.FailedVerdicts)
				return printBatchReport(cmd, &report.BatchReport)
			})
		},
	}

	cmd.Flags().String("as-of", "", "Treat this date as today (YYYY-MM-DD)")
	addOutputFlag(cmd)

	return cmd
}

func assumptionAccuracyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accuracy",
		Short: "Report prediction accuracy",
		RunE: func(cmd *cobra.Command, args []string) error {
			ticker, _ := cmd.Flags().GetString("ticker")
			trend, _ := cmd.Flags().GetBool("trend")
			filter := service.AccuracyFilter{Ticker: ticker}

			var err error
			if filter.Since, err = parseDateFlag(cmd, "since"); err != nil {
				return err
			}
			if filter.Until, err = parseDateFlag(cmd, "until"); err != nil {
				return err
			}

			return withApp(cmd, func(ctx context.Context, a *app) error {
				if trend {
					points, err := a.assumptions.Trend(ctx, filter)
					if err != nil {
						return err
					}
					if wantJSON(cmd) {
						return writeJSON(cmd.OutOrStdout(), points)
					}
					for _, p := range points {
						fmt.Fprintf(cmd.OutOrStdout(), "  %s  %3d/%-3d  %s\n",
							p.WeekStart.Format(dateLayout), p.Verified, p.Verified+p.Failed, formatPercent(p.Accuracy))
					}
					return nil
				}

				stats, err := a.assumptions.Accuracy(ctx, filter)
				if err != nil {
					return err
				}
				if wantJSON(cmd) {
					return writeJSON(cmd.OutOrStdout(), stats)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Overall: %s of %d assumptions\n", formatPercent(stats.Overall.Accuracy), stats.Total)
				for _, c := range domain.AllCategories() {
					if b, ok := stats.ByCategory[c]; ok {
						fmt.Fprintf(out, "  %-12s %s\n", c, formatPercent(b.Accuracy))
					}
				}
				for _, h := range domain.AllTimeHorizons() {
					if b, ok := stats.ByHorizon[h]; ok {
						fmt.Fprintf(out, "  %-12s %s\n", h, formatPercent(b.Accuracy))
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().String("ticker", "", "Filter by ticker")
	cmd.Flags().String("since", "", "Only assumptions created on or after (YYYY-MM-DD)")
	cmd.Flags().String("until", "", "Only assumptions created before (YYYY-MM-DD)")
	cmd.Flags().Bool("trend", false, "Weekly accuracy instead of totals")
	addOutputFlag(cmd)

	return cmd
}
