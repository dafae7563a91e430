package report

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"sort"
	texttemplate "text/template"
	"time"

	"github.com/FranksOps/scour/internal/serp"
	"github.com/FranksOps/scour/internal/storage"
)

// QueryCount is a query string with how often it was run.
type QueryCount struct {
	Query string `json:"query"`
	Count int    `json:"count"`
}

// Summary contains aggregated metrics about query history.
type Summary struct {
	TotalQueries    int                    `json:"total_queries"`
	TotalFailures   int                    `json:"total_failures"`
	TotalBlocked    int                    `json:"total_blocked"`
	TotalResults    int                    `json:"total_results"`
	EmptyResultSets int                    `json:"empty_result_sets"`
	QueriesByKind   map[serp.Kind]int      `json:"queries_by_kind"`
	FailuresByKind  map[serp.ErrorKind]int `json:"failures_by_kind"`
	TopQueries      []QueryCount           `json:"top_queries"`
	AverageDuration time.Duration          `json:"average_duration"`
	StartTime       time.Time              `json:"start_time"`
	EndTime         time.Time              `json:"end_time"`
	Span            time.Duration          `json:"span"`
}

// topQueries bounds Summary.TopQueries.
const topQueries = 5

// GenerateSummary aggregates history records.
func GenerateSummary(records []*storage.Record) Summary {
	s := Summary{
		QueriesByKind:  make(map[serp.Kind]int),
		FailuresByKind: make(map[serp.ErrorKind]int),
		TopQueries:     []QueryCount{},
	}

	if len(records) == 0 {
		return s
	}

	s.StartTime = records[0].CreatedAt
	s.EndTime = records[0].CreatedAt

	var total time.Duration
	counts := map[string]int{}

	for _, r := range records {
		s.TotalQueries++
		s.QueriesByKind[r.Kind]++
		counts[r.Query]++
		total += r.Duration

		switch {
		case r.Failed():
			s.TotalFailures++
			kind := r.ErrorKind
			if kind == "" {
				kind = "unknown"
			}
			s.FailuresByKind[kind]++
			if r.Blocked() {
				s.TotalBlocked++
			}
		case r.ResultCount == 0:
			s.EmptyResultSets++
		}
		s.TotalResults += r.ResultCount

		if r.CreatedAt.Before(s.StartTime) {
			s.StartTime = r.CreatedAt
		}
		if r.CreatedAt.After(s.EndTime) {
			s.EndTime = r.CreatedAt
		}
	}

	s.AverageDuration = total / time.Duration(len(records))
	s.Span = s.EndTime.Sub(s.StartTime)

	for q, n := range counts {
		s.TopQueries = append(s.TopQueries, QueryCount{Query: q, Count: n})
	}
	sort.Slice(s.TopQueries, func(i, j int) bool {
		if s.TopQueries[i].Count != s.TopQueries[j].Count {
			return s.TopQueries[i].Count > s.TopQueries[j].Count
		}
		return s.TopQueries[i].Query < s.TopQueries[j].Query
	})
	if len(s.TopQueries) > topQueries {
		s.TopQueries = s.TopQueries[:topQueries]
	}

	return s
}

// WriteJSON writes the summary to the provided writer in JSON format.
func WriteJSON(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("report: encode json: %w", err)
	}
	return nil
}

const textTmpl = `Scour Query Summary
-------------------
Time:          {{.StartTime.Format "2006-01-02 15:04:05"}} - {{.EndTime.Format "2006-01-02 15:04:05"}}
Span:          {{.Span}}
Total Queries: {{.TotalQueries}}
Results:       {{.TotalResults}}
Empty Sets:    {{.EmptyResultSets}}
Avg Duration:  {{.AverageDuration}}
Failures:      {{.TotalFailures}} ({{.TotalBlocked}} blocked)

By Kind:
{{- range $kind, $count := .QueriesByKind}}
  {{$kind}}: {{$count}}
{{- else}}
  None
{{- end}}

Failures By Kind:
{{- range $kind, $count := .FailuresByKind}}
  {{$kind}}: {{$count}}
{{- else}}
  None
{{- end}}

Top Queries:
{{- range .TopQueries}}
  {{.Query}}: {{.Count}}
{{- else}}
  None
{{- end}}
`

// WriteText writes a human-readable text summary to the provided writer.
func WriteText(w io.Writer, summary Summary) error {
	t, err := texttemplate.New("textReport").Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("report: parse text template: %w", err)
	}

	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: render text: %w", err)
	}

	return nil
}

const htmlTmpl = `<!DOCTYPE html>
<html>
<head>
<title>Scour Query Report</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; }
  h1 { border-bottom: 2px solid #ccc; padding-bottom: 10px; }
  .stat-card { display: inline-block; padding: 20px; margin: 10px 10px 10px 0; background: #f4f4f4; border-radius: 5px; min-width: 150px; }
  .stat-val { font-size: 24px; font-weight: bold; }
  table { border-collapse: collapse; margin-top: 10px; }
  th, td { padding: 8px 12px; border: 1px solid #ccc; text-align: left; }
  th { background: #eaeaea; }
</style>
</head>
<body>
  <h1>Scour Query Report</h1>
  <p><strong>Time:</strong> {{.StartTime.Format "2006-01-02 15:04:05"}} to {{.EndTime.Format "2006-01-02 15:04:05"}} ({{.Span}})</p>

  <div class="stat-card">
    <div>Queries</div>
    <div class="stat-val">{{.TotalQueries}}</div>
  </div>
  <div class="stat-card">
    <div>Results</div>
    <div class="stat-val">{{.TotalResults}}</div>
  </div>
  <div class="stat-card">
    <div>Failures</div>
    <div class="stat-val">{{.TotalFailures}}</div>
  </div>
  <div class="stat-card">
    <div>Blocked</div>
    <div class="stat-val" style="color: {{if gt .TotalBlocked 0}}red{{else}}green{{end}};">{{.TotalBlocked}}</div>
  </div>

  <h3>Failures By Kind</h3>
  <table>
    <tr><th>Kind</th><th>Count</th></tr>
    {{- range $kind, $count := .FailuresByKind}}
    <tr><td>{{$kind}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>

  <h3>Top Queries</h3>
  <table>
    <tr><th>Query</th><th>Count</th></tr>
    {{- range .TopQueries}}
    <tr><td>{{.Query}}</td><td>{{.Count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>
</body>
</html>
`

// WriteHTML writes a basic HTML report to the provided writer. Query strings
// are escaped.
func WriteHTML(w io.Writer, summary Summary) error {
	t, err := template.New("htmlReport").Parse(htmlTmpl)
	if err != nil {
		return fmt.Errorf("report: parse html template: %w", err)
	}

	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: render html: %w", err)
	}

	return nil
}
