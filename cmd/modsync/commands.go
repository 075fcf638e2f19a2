package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/jgivc/modsync/internal/app"
	"github.com/jgivc/modsync/internal/common"
	"github.com/jgivc/modsync/internal/entity"
	"github.com/jgivc/modsync/internal/service/copier"
	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <repo-id>...",
		Short: "Synchronize repositories with their feeds",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				out := cmd.OutOrStdout()

				var failed bool
				for _, repoID := range args {
					res, err := a.Sync(cmd.Context(), repoID)
					if err != nil {
						fmt.Fprintln(out, errorStyle.Render("Sync failed: ")+repoID+": "+err.Error())
						failed = true

						continue
					}

					fmt.Fprintln(out, titleStyle.Render(repoID))
					fmt.Fprintln(out, field("run", res.RunID))
					fmt.Fprintln(out, field("total", res.Total))
					fmt.Fprintln(out, field("synced", successStyle.Render(fmt.Sprint(res.Synced))))
					fmt.Fprintln(out, field("skipped", res.Skipped))
					fmt.Fprintln(out, field("removed", res.Removed))
					fmt.Fprintln(out, field("duration", res.Duration))

					if res.Failed > 0 {
						fmt.Fprintln(out, field("failed", errorStyle.Render(fmt.Sprint(res.Failed))))

						names := make([]string, 0, len(res.Errors))
						for name := range res.Errors {
							names = append(names, name)
						}
						sort.Strings(names)

						for _, name := range names {
							fmt.Fprintf(out, "    %s: %s\n", name, res.Errors[name])
						}
					}
				}

				if failed {
					return errors.New("some repositories could not be synchronized")
				}

				return nil
			})
		},
	}
}

func newPublishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish <repo-id>...",
		Short: "Publish the imported modules of repositories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				out := cmd.OutOrStdout()

				for _, repoID := range args {
					res, err := a.Publish(cmd.Context(), repoID)
					if err != nil {
						return fmt.Errorf("cannot publish %s: %w", repoID, err)
					}

					fmt.Fprintln(out, titleStyle.Render(repoID))
					fmt.Fprintln(out, field("location", res.Location))
					fmt.Fprintln(out, field("units", successStyle.Render(fmt.Sprint(res.Units))))
					fmt.Fprintln(out, field("duration", res.Duration))
				}

				return nil
			})
		},
	}
}

// parseFilters turns field=value flags into unit filters.
func parseFilters(values []string, regex bool) ([]copier.Filter, error) {
	filters := make([]copier.Filter, 0, len(values))
	for _, v := range values {
		name, value, ok := strings.Cut(v, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid filter %q, expected field=value", v)
		}

		filters = append(filters, copier.Filter{Field: name, Value: value, Regex: regex})
	}

	return filters, nil
}

func newCopyCmd() *cobra.Command {
	var (
		req     copier.Request
		matches []string
		equals  []string
	)

	cmd := &cobra.Command{
		Use:   "copy",
		Short: "Copy modules from one repository to another",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			match, err := parseFilters(matches, true)
			if err != nil {
				return err
			}

			eq, err := parseFilters(equals, false)
			if err != nil {
				return err
			}
			req.Filters = append(match, eq...)

			return withApp(func(a *app.App) error {
				err := a.Copy(cmd.Context(), req)

				var verr *common.ValidationError
				if errors.As(err, &verr) {
					fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render("Invalid arguments: ")+strings.Join(verr.PropertyNames, ", "))
				}

				if err != nil {
					return err
				}

				fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("Copy finished: ")+req.FromRepoID+" -> "+req.ToRepoID)

				return nil
			})
		},
	}

	cmd.Flags().StringVar(&req.FromRepoID, "from-repo-id", "", "Source repository")
	cmd.Flags().StringVar(&req.ToRepoID, "to-repo-id", "", "Destination repository")
	cmd.Flags().StringArrayVar(&matches, "match", nil, "Copy units whose field matches a regex (field=regex)")
	cmd.Flags().StringArrayVar(&equals, "str-eq", nil, "Copy units whose field equals a value (field=value)")
	cmd.MarkFlagRequired("from-repo-id")
	cmd.MarkFlagRequired("to-repo-id")

	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve published repositories. SIGUSR1 syncs and SIGUSR2 publishes every repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(a *app.App) error {
				return serve(cmd.Context(), a)
			})
		},
	}
}

func serve(ctx context.Context, a *app.App) error {
	errc := a.Start()
	defer a.Stop()

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(c)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-errc:
			if ok {
				return err
			}

			return nil
		case sig := <-c:
			switch sig {
			case syscall.SIGUSR1:
				go a.SyncAll(ctx)
			case syscall.SIGUSR2:
				go a.PublishAll(ctx)
			case syscall.SIGTERM:
				return nil
			}
		}
	}
}

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [repo-id]",
		Short: "Show finished sync, publish and copy runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var repoID string
			if len(args) == 1 {
				repoID = args[0]
			}

			return withApp(func(a *app.App) error {
				records, err := a.History(cmd.Context(), repoID, limit)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				for _, rec := range records {
					state := successStyle.Render(rec.State)
					if rec.State != entity.TaskStateSuccess {
						state = errorStyle.Render(rec.State)
					}

					fmt.Fprintf(out, "%s %s %-7s %s %s\n",
						labelStyle.Render(rec.StartedAt.Format("2006-01-02 15:04:05")),
						titleStyle.Render(rec.RepoID), rec.Kind, state, rec.Message)
				}

				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of runs")

	return cmd
}

func newTaskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "task <task-id>",
		Short: "Show one finished run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				rec, err := a.Task(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintln(out, titleStyle.Render(rec.ID))
				fmt.Fprintln(out, field("repository", rec.RepoID))
				fmt.Fprintln(out, field("kind", rec.Kind))
				fmt.Fprintln(out, field("state", rec.State))
				fmt.Fprintln(out, field("finished", rec.Finished))
				fmt.Fprintln(out, field("errors", rec.Errors))
				fmt.Fprintln(out, field("started", rec.StartedAt.Format("2006-01-02 15:04:05")))
				fmt.Fprintln(out, field("duration", rec.FinishedAt.Sub(rec.StartedAt)))
				if rec.Message != "" {
					fmt.Fprintln(out, field("message", errorStyle.Render(rec.Message)))
				}

				return nil
			})
		},
	}
}

func newUnitsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "units [repo-id]",
		Short: "List repositories holding units, or the units of one repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				out := cmd.OutOrStdout()

				if len(args) == 0 {
					ids, err := a.RepoIDs(cmd.Context())
					if err != nil {
						return err
					}

					for _, id := range ids {
						fmt.Fprintln(out, titleStyle.Render(id))
					}

					return nil
				}

				units, err := a.Units(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				sort.Slice(units, func(i, j int) bool {
					return units[i].Key().String() < units[j].Key().String()
				})

				fmt.Fprintln(out, titleStyle.Render(args[0]))
				for _, u := range units {
					fmt.Fprintln(out, field(u.Key().String(), u.StoragePath))
				}

				return nil
			})
		},
	}
}

func newDownloadsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "downloads <repo-id>",
		Short: "Show download counters of published artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				counters, err := a.DownloadCounters(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				names := make([]string, 0, len(counters))
				for name := range counters {
					names = append(names, name)
				}
				sort.Strings(names)

				out := cmd.OutOrStdout()
				fmt.Fprintln(out, titleStyle.Render(args[0]))
				for _, name := range names {
					fmt.Fprintln(out, field(name, counters[name]))
				}

				return nil
			})
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), titleStyle.Render("modsync")+" "+Version)
		},
	}
}
