package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/FranksOps/scour/internal/report"
	"github.com/FranksOps/scour/internal/serp"
	"github.com/FranksOps/scour/internal/storage"
)

// filterFlags are shared by history and report.
type filterFlags struct {
	kind   string
	query  string
	failed bool
	since  string
	limit  int
	offset int
}

func (f *filterFlags) register(cmd *cobra.Command, withPaging bool) {
	fl := cmd.Flags()
	fl.StringVar(&f.kind, "kind", "", "only this search kind: image or web")
	fl.StringVar(&f.query, "query", "", "only this query")
	fl.BoolVar(&f.failed, "failed", false, "only failed (or, with --failed=false, successful) queries")
	fl.StringVar(&f.since, "since", "", "only queries after this RFC 3339 time or duration ago (e.g. 24h)")
	if withPaging {
		fl.IntVar(&f.limit, "limit", 20, "maximum records to show (0 for all)")
		fl.IntVar(&f.offset, "offset", 0, "skip this many newest records")
	}
}

func (f *filterFlags) build(cmd *cobra.Command, now time.Time) (storage.Filter, error) {
	filter := storage.Filter{
		Query:  serp.NormalizeQuery(f.query),
		Limit:  f.limit,
		Offset: f.offset,
	}
	if f.limit < 0 || f.offset < 0 {
		return filter, errors.New("--limit and --offset must not be negative")
	}
	if f.kind != "" {
		kind, err := serp.ParseKind(f.kind)
		if err != nil {
			return filter, err
		}
		filter.Kind = kind
	}
	if cmd.Flags().Changed("failed") {
		failed := f.failed
		filter.Failed = &failed
	}
	if f.since != "" {
		since, err := parseSince(f.since, now)
		if err != nil {
			return filter, err
		}
		filter.Since = &since
	}
	return filter, nil
}

// parseSince accepts an RFC 3339 timestamp or a Go duration counted back from now.
func parseSince(s string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return time.Time{}, fmt.Errorf("--since must be an RFC 3339 time or a positive duration, got %q", s)
	}
	return now.Add(-d), nil
}

func newHistoryCmd(a *app) *cobra.Command {
	var (
		ff     filterFlags
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded queries, newest first",
		Long: `List queries recorded by the configured storage backend.

Examples:
  scour history
  scour history --kind web --failed
  scour history --since 24h --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := ff.build(cmd, time.Now())
			if err != nil {
				return err
			}
			b, err := requireHistory(cmd.Context(), a.cfg.Storage)
			if err != nil {
				return err
			}
			defer b.Close()

			records, err := b.Query(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}
			return writeHistoryTable(cmd.OutOrStdout(), records)
		},
	}
	ff.register(cmd, true)
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func writeHistoryTable(out io.Writer, records []*storage.Record) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tKIND\tQUERY\tRESULTS\tDURATION\tERROR")
	for _, r := range records {
		errKind := "-"
		if r.Failed() {
			errKind = string(r.ErrorKind)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			r.CreatedAt.Local().Format(time.DateTime),
			r.Kind,
			r.Query,
			r.ResultCount,
			r.Duration.Round(time.Millisecond),
			errKind)
	}
	return tw.Flush()
}

func newReportCmd(a *app) *cobra.Command {
	var (
		ff     filterFlags
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize recorded queries",
		Long: `Summarize recorded queries: totals, failures by kind, blocked fetches,
empty result sets and the most frequent queries.

Examples:
  scour report
  scour report --kind image --since 168h
  scour report --format html --output report.html`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := ff.build(cmd, time.Now())
			if err != nil {
				return err
			}
			write, err := reportWriter(format)
			if err != nil {
				return err
			}
			b, err := requireHistory(cmd.Context(), a.cfg.Storage)
			if err != nil {
				return err
			}
			defer b.Close()

			records, err := b.Query(cmd.Context(), filter)
			if err != nil {
				return err
			}
			summary := report.GenerateSummary(records)

			out := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			return write(out, summary)
		},
	}
	ff.register(cmd, false)
	cmd.Flags().StringVar(&format, "format", "text", "output format: text, json or html")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the report to this file instead of stdout")
	return cmd
}

func reportWriter(format string) (func(io.Writer, report.Summary) error, error) {
	switch format {
	case "text":
		return report.WriteText, nil
	case "json":
		return report.WriteJSON, nil
	case "html":
		return report.WriteHTML, nil
	default:
		return nil, fmt.Errorf("--format must be text, json or html, got %q", format)
	}
}
