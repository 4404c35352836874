package admin

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/alphaledger/internal/domain"
	"github.com/cloo-solutions/alphaledger/internal/service"
)

func SearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed chunks ranked by authority",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := searchInputFromFlags(cmd, strings.Join(args, " "))
			if err != nil {
				return err
			}
			withContext, _ := cmd.Flags().GetBool("context")
			compare, _ := cmd.Flags().GetBool("compare")

			return withApp(cmd, func(ctx context.Context, a *app) error {
				switch {
				case compare:
					cmp, err := a.search.Compare(ctx, in)
					if err != nil {
						return err
					}
					if wantJSON(cmd) {
						return writeJSON(cmd.OutOrStdout(), cmp)
					}
					out := cmd.OutOrStdout()
					fmt.Fprintf(out, "Mean primary rank: weighted %s, unweighted %s\n",
						formatMean(cmp.WeightedMeanRank), formatMean(cmp.UnweightedMeanRank))
					fmt.Fprintln(out, "Weighted:")
					printHits(cmd, cmp.Weighted)
					fmt.Fprintln(out, "Unweighted:")
					printHits(cmd, cmp.Unweighted)
					return nil
				case withContext:
					groups, err := a.search.SearchWithParentContext(ctx, in)
					if err != nil {
						return err
					}
					if wantJSON(cmd) {
						return writeJSON(cmd.OutOrStdout(), groups)
					}
					for _, g := range groups {
						fmt.Fprintf(cmd.OutOrStdout(), "%.3f  %s  %s  %s\n",
							g.BestScore, g.SourceType, g.PublishedAt.Format(dateLayout), g.SourceTitle)
						if g.Summary != nil {
							fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", truncate(g.Summary.Content, 120))
						}
						for _, m := range g.Matches {
							fmt.Fprintf(cmd.OutOrStdout(), "    > %s\n", truncate(m.Chunk.Content, 110))
						}
					}
					return nil
				}

				hits, err := a.search.Search(ctx, in)
				if err != nil {
					return err
				}
				if wantJSON(cmd) {
					return writeJSON(cmd.OutOrStdout(), hits)
				}
				printHits(cmd, hits)
				return nil
			})
		},
	}

	cmd.Flags().String("ticker", "", "Filter by ticker")
	cmd.Flags().String("class", "", "Filter by source class: primary or secondary")
	cmd.Flags().StringSlice("type", nil, "Filter by source type (repeatable)")
	cmd.Flags().String("chunk-type", "", "Filter by chunk type: SUMMARY or DETAIL")
	cmd.Flags().Float64("min-similarity", 0, "Drop hits below this similarity")
	cmd.Flags().IntP("limit", "n", 10, "Maximum number of results")
	cmd.Flags().Bool("context", false, "Group hits under their summary chunk")
	cmd.Flags().Bool("compare", false, "Compare weighted and unweighted ranking")
	addOutputFlag(cmd)

	return cmd
}

func searchInputFromFlags(cmd *cobra.Command, query string) (service.SearchInput, error) {
	ticker, _ := cmd.Flags().GetString("ticker")
	class, _ := cmd.Flags().GetString("class")
	rawTypes, _ := cmd.Flags().GetStringSlice("type")
	chunkType, _ := cmd.Flags().GetString("chunk-type")
	minSim, _ := cmd.Flags().GetFloat64("min-similarity")
	limit, _ := cmd.Flags().GetInt("limit")

	filters := service.SearchFilters{
		Ticker:        ticker,
		SourceClass:   domain.SourceClass(strings.ToLower(class)),
		ChunkType:     domain.ChunkType(strings.ToUpper(chunkType)),
		MinSimilarity: minSim,
	}
	for _, raw := range rawTypes {
		st, err := domain.ParseSourceType(raw)
		if err != nil {
			return service.SearchInput{}, err
		}
		filters.SourceTypes = append(filters.SourceTypes, st)
	}
	return service.SearchInput{Query: query, Limit: limit, Filters: filters}, nil
}

func printHits(cmd *cobra.Command, hits []service.ScoredChunk) {
	if len(hits) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "  no results")
		return
	}
	for i, h := range hits {
		fmt.Fprintf(cmd.OutOrStdout(), "%2d. %.3f (sim %.3f x %.2f)  %s  %s\n    %s\n",
			i+1, h.Score, h.Similarity, h.Chunk.AuthorityWeight, h.SourceType,
			h.PublishedAt.Format(dateLayout), truncate(h.Chunk.Content, 110))
	}
}

func formatMean(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.3f", *v)
}
