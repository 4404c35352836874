package admin

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/alphaledger/internal/domain"
	"github.com/cloo-solutions/alphaledger/internal/service"
)

func SourceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "source",
		Short: "Ingest and inspect source documents",
	}

	cmd.AddCommand(sourceIngestCmd())
	cmd.AddCommand(sourceListCmd())
	cmd.AddCommand(sourceShowCmd())
	cmd.AddCommand(sourceIndexCmd())
	cmd.AddCommand(sourceReindexCmd())

	return cmd
}

func sourceIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <file|->",
		Short: "Ingest a document from a file or stdin",
		Long:  "Store a document as a new source version and queue it for indexing. Identical content is not stored twice.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			ticker, _ := cmd.Flags().GetString("ticker")
			company, _ := cmd.Flags().GetString("company")
			title, _ := cmd.Flags().GetString("title")
			url, _ := cmd.Flags().GetString("url")
			rawType, _ := cmd.Flags().GetString("type")
			sourceType, err := domain.ParseSourceType(rawType)
			if err != nil {
				return err
			}
			published, err := parseDateFlag(cmd, "published")
			if err != nil {
				return err
			}
			if published == nil {
				return fmt.Errorf("--published is required")
			}

			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.sources.Ingest(ctx, service.IngestInput{
					Ticker:      ticker,
					CompanyName: company,
					SourceType:  sourceType,
					Title:       title,
					Content:     content,
					SourceURL:   url,
					PublishedAt: *published,
				})
				if err != nil {
					return fmt.Errorf("failed to ingest source: %w", err)
				}
				if wantJSON(cmd) {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				if !res.Created {
					fmt.Fprintf(cmd.OutOrStdout(), "Unchanged: %s (version %d)\n", res.Source.ID, res.Source.Version)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Ingested: %s (version %d, index job %s)\n", res.Source.ID, res.Source.Version, res.JobID)
				return nil
			})
		},
	}

	cmd.Flags().String("ticker", "", "Company ticker, e.g. 005930")
	cmd.Flags().String("company", "", "Company name")
	cmd.Flags().String("type", "", "Source type: DART_FILING, EARNINGS_CALL, IR_MATERIAL or ANALYST_REPORT")
	cmd.Flags().String("title", "", "Document title")
	cmd.Flags().String("url", "", "Original document URL")
	cmd.Flags().String("published", "", "Publication date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("ticker")
	_ = cmd.MarkFlagRequired("type")
	addOutputFlag(cmd)

	return cmd
}

func readInput(stdin io.Reader, path string) (string, error) {
	if path == "-" {
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(raw), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(raw), nil
}

func sourceListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			ticker, _ := cmd.Flags().GetString("ticker")
			latest, _ := cmd.Flags().GetBool("latest")
			limit, _ := cmd.Flags().GetInt("limit")
			rawTypes, _ := cmd.Flags().GetStringSlice("type")

			var types []domain.SourceType
			for _, raw := range rawTypes {
				st, err := domain.ParseSourceType(raw)
				if err != nil {
					return err
				}
				types = append(types, st)
			}

			return withApp(cmd, func(ctx context.Context, a *app) error {
				sources, err := a.sources.List(ctx, service.SourceFilter{
					Ticker:      ticker,
					SourceTypes: types,
					LatestOnly:  latest,
					Limit:       limit,
				})
				if err != nil {
					return fmt.Errorf("failed to list sources: %w", err)
				}
				if wantJSON(cmd) {
					return writeJSON(cmd.OutOrStdout(), sources)
				}
				if len(sources) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No sources found")
					return nil
				}
				for _, s := range sources {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s  %s  %-14s v%d  %s  %s\n",
						s.ID, s.Ticker, s.SourceType, s.Version, s.PublishedAt.Format(dateLayout), truncate(s.Title, 60))
				}
				return nil
			})
		},
	}

	cmd.Flags().String("ticker", "", "Filter by ticker")
	cmd.Flags().StringSlice("type", nil, "Filter by source type (repeatable)")
	cmd.Flags().Bool("latest", false, "Only the latest version of each document")
	cmd.Flags().IntP("limit", "n", 50, "Maximum number of results")
	addOutputFlag(cmd)

	return cmd
}

func sourceShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a source, its chunks or its archived copy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			showChunks, _ := cmd.Flags().GetBool("chunks")
			showArchive, _ := cmd.Flags().GetBool("archive")

			return withApp(cmd, func(ctx context.Context, a *app) error {
				src, err := a.sources.Get(ctx, args[0])
				if err != nil {
					return err
				}

				switch {
				case showArchive:
					if a.archive == nil || src.ArchiveKey == "" {
						return domain.ErrArchiveNotFound
					}
					raw, err := a.archive.GetObject(ctx, src.ArchiveKey)
					if err != nil {
						return err
					}
					_, err = cmd.OutOrStdout().Write(raw)
					return err
				case showChunks:
					chunks, err := a.indexer.Chunks(ctx, src.ID)
					if err != nil {
						return err
					}
					if wantJSON(cmd) {
						return writeJSON(cmd.OutOrStdout(), chunks)
					}
					for _, c := range chunks {
						indent := ""
						if c.ChunkType == domain.ChunkTypeDetail {
							indent = "    "
						}
						fmt.Fprintf(cmd.OutOrStdout(), "%s[%s %d] %s\n", indent, c.ChunkType, c.ChunkIndex, truncate(c.Content, 100))
					}
					return nil
				}

				if wantJSON(cmd) {
					return writeJSON(cmd.OutOrStdout(), src)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "ID:         %s\n", src.ID)
				fmt.Fprintf(out, "Ticker:     %s (%s)\n", src.Ticker, src.CompanyName)
				fmt.Fprintf(out, "Type:       %s\n", src.SourceType)
				fmt.Fprintf(out, "Title:      %s\n", src.Title)
				fmt.Fprintf(out, "Published:  %s\n", src.PublishedAt.Format(dateLayout))
				fmt.Fprintf(out, "Version:    %d\n", src.Version)
				if src.SupersedesID != "" {
					fmt.Fprintf(out, "Supersedes: %s\n", src.SupersedesID)
				}
				fmt.Fprintf(out, "\n%s\n", src.Content)
				return nil
			})
		},
	}

	cmd.Flags().Bool("chunks", false, "Print the chunk hierarchy")
	cmd.Flags().Bool("archive", false, "Print the archived raw copy")
	addOutputFlag(cmd)

	return cmd
}

func sourceIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index <id>",
		Short: "Rebuild the chunk hierarchy of one source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.indexer.Index(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Indexed %s: %d summaries, %d details (%s)\n",
					res.SourceID, res.Summaries, res.Details, res.ModelTag)
				return nil
			})
		},
	}
}

func sourceReindexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild chunks for all sources",
		Long:  "Rebuild chunks for every source, or one ticker. With --resume, sources already indexed under the current embedding model are skipped.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ticker, _ := cmd.Flags().GetString("ticker")
			resume, _ := cmd.Flags().GetBool("resume")

			return withApp(cmd, func(ctx context.Context, a *app) error {
				report, err := a.indexer.ReindexAll(ctx, service.ReindexOptions{Ticker: ticker, Resume: resume})
				if err != nil {
					return err
				}
				return printBatchReport(cmd, report)
			})
		},
	}

	cmd.Flags().String("ticker", "", "Only reindex this ticker")
	cmd.Flags().Bool("resume", false, "Skip sources already indexed with the current model")
	addOutputFlag(cmd)

	return cmd
}

func printBatchReport(cmd *cobra.Command, report *service.BatchReport) error {
	if wantJSON(cmd) {
		return writeJSON(cmd.OutOrStdout(), report)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Total %d: %d succeeded, %d failed, %d skipped, %d not started\n",
		report.Total, report.Succeeded, report.Failed, report.Skipped, report.NotStarted)
	for _, item := range report.Items {
		if item.Status == service.ItemFailed {
			fmt.Fprintf(out, "  %s: %s\n", item.ID, item.Error)
		}
	}
	if report.Cancelled {
		fmt.Fprintln(out, "Run was cancelled")
	}
	return nil
}
