package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/TFMV/duckprof/cmd/duckprof/config"
	"github.com/TFMV/duckprof/cmd/duckprof/middleware"
	"github.com/TFMV/duckprof/pkg/models"
	"github.com/TFMV/duckprof/pkg/services"
)

func newAnalyzeCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "analyze [SQL]",
		Short: "Analyze one query and append it to the analysis log",
		Long: `Analyze runs EXPLAIN ANALYZE, a profiled execution and a direct execution
of the query, then records findings and remediation templates.

Example:
  duckprof analyze "SELECT l_returnflag, COUNT(*) FROM lineitem GROUP BY 1"
  duckprof analyze --file slow.sql
  cat slow.sql | duckprof analyze -`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := readQuery(cmd.InOrStdin(), file, args)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd)
			defer cancel()

			b, err := a.backend(ctx, cmd)
			if err != nil {
				return err
			}
			defer b.Close()

			res, err := b.Analyze(ctx, query)
			if err != nil {
				return err
			}
			w, err := a.writer(cmd)
			if err != nil {
				return err
			}
			return w.Analysis(res)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "read the query from a file")
	return cmd
}

// readQuery takes the query from --file, from stdin when the argument is
// "-", or from the argument itself.
func readQuery(stdin io.Reader, file string, args []string) (string, error) {
	switch {
	case file != "" && len(args) > 0:
		return "", fmt.Errorf("pass either a query or --file, not both")
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read query file: %w", err)
		}
		return string(b), nil
	case len(args) == 1 && args[0] == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read query from stdin: %w", err)
		}
		return string(b), nil
	case len(args) == 1:
		return args[0], nil
	default:
		return "", fmt.Errorf("a query is required")
	}
}

func newListCmd(a *app) *cobra.Command {
	var (
		orderBy string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List logged analyses, slowest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			order, err := parseOrder(orderBy)
			if err != nil {
				return err
			}

			b, err := a.backend(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer b.Close()

			rows, err := b.ListRecords(cmd.Context(), models.ListOptions{OrderBy: order, Limit: limit})
			if err != nil {
				return err
			}
			w, err := a.writer(cmd)
			if err != nil {
				return err
			}
			return w.Summaries(rows)
		},
	}
	cmd.Flags().StringVar(&orderBy, "order-by", string(models.OrderByExecTime), "ordering (exec_time, logged_at, query_id)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of rows, 0 for all")
	return cmd
}

func parseOrder(s string) (models.ListOrder, error) {
	order := models.ListOrder(s)
	if !order.Valid() {
		return "", fmt.Errorf("unknown order: %s", s)
	}
	return order, nil
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid query id: %q", arg)
	}
	return id, nil
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <query-id>",
		Short: "Show one logged analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			b, err := a.backend(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer b.Close()

			rec, err := b.GetRecord(cmd.Context(), id)
			if err != nil {
				return err
			}
			hasVis, err := b.HasVisualization(cmd.Context(), id)
			if err != nil {
				return err
			}
			w, err := a.writer(cmd)
			if err != nil {
				return err
			}
			return w.Record(rec, hasVis)
		},
	}
}

func newSummarizeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "summarize <query-id>",
		Short: "Write a narrative summary of a logged analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd)
			defer cancel()

			b, err := a.backend(ctx, cmd)
			if err != nil {
				return err
			}
			defer b.Close()

			text, err := b.Summarize(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
}

func newWorkloadCmd(a *app) *cobra.Command {
	var opts services.WorkloadRunOptions
	cmd := &cobra.Command{
		Use:   "workload",
		Short: "Analyze the TPC-H query workload",
		Long: `Workload loads the tpch extension, materializes its queries and analyzes
each one in order, then prints the slowest.

Example:
  duckprof workload --generate --scale-factor 0.1
  duckprof workload --reset --limit 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			e, err := a.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			rep, runErr := e.workloadRunner.Run(ctx, opts)
			if rep != nil {
				w, err := a.writer(cmd)
				if err != nil {
					return err
				}
				if err := w.Workload(rep); err != nil {
					return err
				}
			}
			return runErr
		},
	}
	cmd.Flags().Float64Var(&opts.ScaleFactor, "scale-factor", 1, "TPC-H scale factor for data generation")
	cmd.Flags().BoolVar(&opts.GenerateData, "generate", false, "generate TPC-H data before running")
	cmd.Flags().BoolVar(&opts.Reset, "reset", false, "drop the analysis log and workload first")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "analyze only the first n queries, 0 for all")
	cmd.Flags().IntVar(&opts.TopN, "top", services.DefaultSlowestN, "number of slowest queries to report")
	return cmd
}

func newResetCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop the analysis log and the workload table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("reset drops every logged analysis; pass --yes to confirm")
			}

			e, err := a.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Analysis log reset")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}

func newTokenCmd(a *app) *cobra.Command {
	var (
		user  string
		roles string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a JWT for the Flight server's jwt auth",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			auth := a.cfg.Flight.Auth
			if auth.JWTAuth.Secret == "" {
				return fmt.Errorf("flight.auth.jwt_auth.secret is not configured")
			}
			if user == "" {
				return fmt.Errorf("--user is required")
			}

			var roleList []string
			if roles != "" {
				roleList = strings.Split(roles, ",")
			}
			auth.Type = config.AuthJWT
			token, err := middleware.NewAuthMiddleware(auth, a.logger).IssueToken(user, roleList, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "token subject")
	cmd.Flags().StringVar(&roles, "roles", "", "comma separated roles")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
