package admin

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cloo-solutions/alphaledger/internal/domain"
	"github.com/cloo-solutions/alphaledger/internal/service"
)

func AttributionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attribution",
		Short: "Decompose price moves by time horizon",
	}

	cmd.AddCommand(attributionDecomposeCmd())
	cmd.AddCommand(attributionBatchCmd())
	cmd.AddCommand(attributionListCmd())

	return cmd
}

func attributionDecomposeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decompose",
		Short: "Attribute one price move to short, medium and long-term factors",
		RunE: func(cmd *cobra.Command, args []string) error {
			ticker, _ := cmd.Flags().GetString("ticker")
			company, _ := cmd.Flags().GetString("company")
			change, _ := cmd.Flags().GetFloat64("change")
			date, err := parseDateFlag(cmd, "date")
			if err != nil {
				return err
			}
			if date == nil {
				return fmt.Errorf("--date is required")
			}

			return withApp(cmd, func(ctx context.Context, a *app) error {
				p, err := a.decomposer.Decompose(ctx, service.DecomposeInput{
					Ticker:         ticker,
					CompanyName:    company,
					EventDate:      *date,
					PriceChangePct: change,
				})
				if err != nil {
					return err
				}
				return printAttribution(cmd, p)
			})
		},
	}

	cmd.Flags().String("ticker", "", "Company ticker")
	cmd.Flags().String("company", "", "Company name")
	cmd.Flags().String("date", "", "Event date (YYYY-MM-DD)")
	cmd.Flags().Float64("change", 0, "Price change in percent, e.g. -4.2")
	_ = cmd.MarkFlagRequired("ticker")
	addOutputFlag(cmd)

	return cmd
}

// batchFile is the YAML layout accepted by "attribution batch".
type batchFile struct {
	Events []struct {
		Ticker         string  `yaml:"ticker"`
		CompanyName    string  `yaml:"company_name"`
		EventDate      string  `yaml:"event_date"`
		PriceChangePct float64 `yaml:"price_change_pct"`
	} `yaml:"events"`
}

func loadBatchFile(path string) ([]service.DecomposeInput, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var f batchFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	inputs := make([]service.DecomposeInput, len(f.Events))
	for i, e := range f.Events {
		date, err := time.Parse(dateLayout, e.EventDate)
		if err != nil {
			return nil, fmt.Errorf("events[%d]: event_date must be YYYY-MM-DD: %w", i, err)
		}
		inputs[i] = service.DecomposeInput{
			Ticker:         e.Ticker,
			CompanyName:    e.CompanyName,
			EventDate:      date,
			PriceChangePct: e.PriceChangePct,
		}
	}
	return inputs, nil
}

func attributionBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <events.yaml>",
		Short: "Decompose every event listed in a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, err := loadBatchFile(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				report, _ := a.decomposer.BatchDecompose(ctx, inputs)
				return printBatchReport(cmd, report)
			})
		},
	}
	addOutputFlag(cmd)
	return cmd
}

func attributionListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <ticker>",
		Short: "List stored attributions for a ticker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withApp(cmd, func(ctx context.Context, a *app) error {
				items, err := a.decomposer.ListByTicker(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if wantJSON(cmd) {
					return writeJSON(cmd.OutOrStdout(), items)
				}
				for _, p := range items {
					flag := ""
					if p.Degraded {
						flag = " (degraded)"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "  %s  %s  %+.2f%%  %-6s %.2f%s\n",
						p.ID, p.EventDate.Format(dateLayout), p.PriceChangePct, p.DominantTimeframe, p.Confidence, flag)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntP("limit", "n", 20, "Maximum number of results")
	addOutputFlag(cmd)
	return cmd
}

func printAttribution(cmd *cobra.Command, p *domain.PriceAttribution) error {
	if wantJSON(cmd) {
		return writeJSON(cmd.OutOrStdout(), p)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s %+.2f%%  dominant: %s  confidence: %.2f\n",
		p.Ticker, p.EventDate.Format(dateLayout), p.PriceChangePct, p.DominantTimeframe, p.Confidence)
	if p.Degraded {
		fmt.Fprintln(out, "Result is degraded: one or more analyses were unavailable")
	}
	fmt.Fprintf(out, "\n%s\n", p.Summary)
	for _, tf := range domain.AllTimeframes() {
		h := p.Breakdown.Get(tf)
		fmt.Fprintf(out, "\n[%s] %s\n", tf, h.Analysis)
	}
	return nil
}
