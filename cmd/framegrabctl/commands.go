package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"framegrab/internal/database"
	"framegrab/internal/generator"
	"framegrab/internal/indexer"
	"framegrab/internal/logging"
	"framegrab/internal/startup"
	"framegrab/internal/syncer"
)

// pollInterval is how often generate checks batch progress.
var pollInterval = 250 * time.Millisecond

func addCommands(root *cobra.Command) {
	root.AddCommand(
		newScanCmd(),
		newGenerateCmd(),
		newSyncCmd(),
		newListCmd(),
		newMoviesCmd(),
		newVersionCmd(),
	)
}

// withEnv opens the components around fn and closes them afterwards.
func withEnv(cmd *cobra.Command, fn func(ctx context.Context, e *env) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()
	return fn(ctx, e)
}

func parseMovieID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid movie id %q", arg)
	}
	return id, nil
}

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Index the media directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnv(cmd, func(ctx context.Context, e *env) error {
				idx, err := e.indexer()
				if err != nil {
					return err
				}
				defer idx.Stop()

				layout := e.store.Layout()
				idx.SetOnMoviesRemoved(func(ids []int64) {
					for _, id := range ids {
						if err := layout.RemoveMovieDir(id); err != nil {
							logging.Warn("Failed to remove screenshots of deleted movie %d: %v", id, err)
						}
					}
				})

				rep := newReporter(cmd.ErrOrStderr(), "Scanning", 0)
				idx.SetProgressCallback(func(p indexer.ScanProgress) {
					if p.Status == indexer.StatusIndexing {
						rep.setTotal(p.Total)
						rep.set(p.Current)
					}
				})

				res, err := idx.Scan(ctx)
				rep.finish()
				if err != nil {
					return fmt.Errorf("scan failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Scan complete: %d new, %d changed, %d removed, %d unchanged\n",
					len(res.New), len(res.Changed), len(res.Removed), res.Unchanged)
				return nil
			})
		},
	}
}

func newGenerateCmd() *cobra.Command {
	var req generator.Request

	cmd := &cobra.Command{
		Use:   "generate <movie-id>",
		Short: "Generate screenshots for a movie and wait for them",
		Long: `Generate extracts one screenshot every --interval seconds, or every
--every-minutes minutes, from the start of the movie to its end. Existing
screenshots of the movie are replaced once the new set is complete.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseMovieID(args[0])
			if err != nil {
				return err
			}
			req.MovieID = id

			return withEnv(cmd, func(ctx context.Context, e *env) error {
				gen, err := e.generator()
				if err != nil {
					return err
				}
				queued, err := gen.Generate(ctx, req)
				if err != nil {
					return err
				}
				st, err := waitForBatch(ctx, gen, id, queued, cmd.ErrOrStderr())
				if err != nil {
					return err
				}

				count, err := e.store.Count(context.Background(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Batch %s %s: %d done, %d failed, %d skipped of %d; movie %d has %d screenshots\n",
					st.ID, st.State, st.Done, st.Failed, st.Skipped, st.Total, id, count)
				if st.Failed > 0 {
					return fmt.Errorf("%d of %d screenshots failed", st.Failed, st.Total)
				}
				if st.State == generator.StateCancelled {
					return context.Canceled
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&req.IntervalSeconds, "interval", 0, "seconds between screenshots")
	cmd.Flags().IntVar(&req.EveryMinutes, "every-minutes", 0, "minutes between screenshots")
	cmd.Flags().StringVar(&req.SubtitlePath, "subtitles", "", "SRT or VTT file to burn into the screenshots")
	cmd.MarkFlagsMutuallyExclusive("interval", "every-minutes")
	cmd.MarkFlagsOneRequired("interval", "every-minutes")
	return cmd
}

// waitForBatch polls until the queued batch finishes. Interrupting the
// command cancels the batch and keeps waiting for in-flight jobs.
func waitForBatch(ctx context.Context, gen *generator.Generator, movieID int64, queued generator.Queued, out io.Writer) (generator.BatchStatus, error) {
	rep := newReporter(out, "Generating", queued.Count)
	defer rep.finish()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	done := ctx.Done()
	for {
		p, err := gen.Progress(context.Background(), movieID)
		if err != nil {
			return generator.BatchStatus{}, err
		}
		if p.Batch == nil || p.Batch.ID != queued.BatchID {
			return generator.BatchStatus{}, errors.New("batch was replaced by another request")
		}
		rep.set(p.Batch.Done + p.Batch.Failed + p.Batch.Skipped)
		if p.Batch.Finished {
			return *p.Batch, nil
		}

		select {
		case <-done:
			gen.Cancel(movieID)
			done = nil
		case <-ticker.C:
		}
	}
}

func newSyncCmd() *cobra.Command {
	var (
		all    bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "sync [movie-id]",
		Short: "Reconcile screenshot rows with the files on disk",
		Long: `Sync restores missing screenshot files, registers orphaned files and
rebuilds the fallback screenshot for one movie, or for every movie with --all.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var id int64
			if !all {
				var err error
				if id, err = parseMovieID(args[0]); err != nil {
					return err
				}
			}

			return withEnv(cmd, func(ctx context.Context, e *env) error {
				engine, err := e.syncer()
				if err != nil {
					return err
				}

				var reports []*syncer.SyncReport
				if all {
					rep := newReporter(cmd.ErrOrStderr(), "Syncing", 0)
					reports, err = engine.SyncAll(ctx, func(done, total int) {
						rep.setTotal(total)
						rep.set(done)
					})
					rep.finish()
				} else {
					var report *syncer.SyncReport
					report, err = engine.SyncMovieScreenshots(ctx, id)
					if report != nil {
						reports = append(reports, report)
					}
				}

				if werr := writeReports(cmd.OutOrStdout(), reports, asJSON); werr != nil {
					return werr
				}
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "sync every movie")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print reports as JSON")
	return cmd
}

func writeReports(w io.Writer, reports []*syncer.SyncReport, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	}

	clean := 0
	for _, r := range reports {
		if r.Clean() {
			clean++
			continue
		}
		fmt.Fprintf(w, "Movie %d: %d orphaned, %d missing, %d restored, %d registered, %d removed, %d discarded\n",
			r.MovieID, len(r.Orphaned), len(r.Missing), len(r.Restored), len(r.Synced), len(r.Removed), len(r.Discarded))
	}
	fmt.Fprintf(w, "%d movies synced, %d already clean\n", len(reports), clean)
	return nil
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <movie-id>",
		Short: "List a movie's screenshots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseMovieID(args[0])
			if err != nil {
				return err
			}
			return withEnv(cmd, func(ctx context.Context, e *env) error {
				shots, err := e.store.List(ctx, id)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTIMESTAMP\tFILE\tON DISK")
				for _, s := range shots {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", s.ID, formatTimestamp(s), filepath.Base(s.Path), onDisk(s.Path))
				}
				return tw.Flush()
			})
		},
	}
}

func formatTimestamp(s database.Screenshot) string {
	if s.IsFallback() {
		return "fallback"
	}
	return (time.Duration(*s.Timestamp) * time.Second).String()
}

func onDisk(path string) string {
	if _, err := os.Stat(path); err != nil {
		return "no"
	}
	return "yes"
}

func newMoviesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "movies",
		Short: "List indexed movies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnv(cmd, func(ctx context.Context, e *env) error {
				movies, err := e.db.ListMovies(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTITLE\tYEAR\tSCREENSHOTS\tFILE")
				for _, m := range movies {
					year := "-"
					if m.Year > 0 {
						year = strconv.Itoa(m.Year)
					}
					fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", m.ID, m.Title, year, m.ScreenshotCount, m.Name)
				}
				return tw.Flush()
			})
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			info := startup.GetBuildInfo()
			fmt.Fprintf(cmd.OutOrStdout(), "framegrabctl %s (commit %s, built %s, %s %s/%s)\n",
				info.Version, info.Commit, info.BuildTime, info.GoVersion, info.OS, info.Arch)
		},
	}
}
