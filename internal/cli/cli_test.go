package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FranksOps/scour/internal/report"
	"github.com/FranksOps/scour/internal/serp"
	"github.com/FranksOps/scour/internal/storage"
)

type upstream struct {
	*httptest.Server
	searches atomic.Int64
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{}
	pic := pngBytes(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/images", func(w http.ResponseWriter, r *http.Request) {
		u.searches.Add(1)
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><body>
<img data-src="%[1]s/img/a.png">
<img data-src="%[1]s/img/broken.png">
<img data-src="%[1]s/img/b.png">
</body></html>`, u.URL)
	})
	mux.HandleFunc("/web", func(w http.ResponseWriter, r *http.Request) {
		u.searches.Add(1)
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><ol>
<li class="b_algo"><h2><a href="https://go.dev/">The Go Programming Language</a></h2><p>Build simple, secure, scalable systems.</p></li>
<li class="b_algo"><h2><a href="https://go.dev/doc/">Documentation</a></h2></li>
</ol></body></html>`)
	})
	mux.HandleFunc("/img/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "broken.png") {
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("not a png"))
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pic)
	})

	u.Server = httptest.NewServer(mux)
	t.Cleanup(u.Close)
	return u
}

// writeConfig points both engines at up and returns the config path.
func writeConfig(t *testing.T, up *upstream, storageDriver, dsn string) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)

	path := filepath.Join(dir, "scour.yaml")
	cfg := fmt.Sprintf(`
log:
  level: error
engines:
  image_base_url: %s/images
  web_base_url: %s/web
http:
  fingerprint: go
  timeout: 5s
materializer:
  workers: 2
storage:
  driver: %s
  dsn: %q
`, up.URL, up.URL, storageDriver, dsn)
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestWebCommand(t *testing.T) {
	up := newUpstream(t)
	cfg := writeConfig(t, up, "none", "")

	out, err := run(t, "--config", cfg, "web", "golang", "docs")
	require.NoError(t, err)
	assert.Equal(t, "The Go Programming Language\nhttps://go.dev/\nBuild simple, secure, scalable systems.\n\n"+
		"Documentation\nhttps://go.dev/doc/\n"+serp.DescriptionPlaceholder+"\n", out)
}

func TestImagesCommand_JSON(t *testing.T) {
	up := newUpstream(t)
	cfg := writeConfig(t, up, "none", "")

	out, err := run(t, "--config", cfg, "images", "--json", "red", "panda")
	require.NoError(t, err)

	var urls []string
	require.NoError(t, json.Unmarshal([]byte(out), &urls))
	assert.Equal(t, []string{up.URL + "/img/a.png", up.URL + "/img/broken.png", up.URL + "/img/b.png"}, urls)
}

func TestImagesCommand_SaveDir(t *testing.T) {
	up := newUpstream(t)
	cfg := writeConfig(t, up, "none", "")
	saveDir := filepath.Join(t.TempDir(), "out")

	out, err := run(t, "--config", cfg, "images", "--save-dir", saveDir, "cats")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2, "the undecodable image is dropped")
	for _, l := range lines {
		assert.Contains(t, l, "\tpng\t3x2")
	}

	entries, err := os.ReadDir(saveDir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "000.png", entries[0].Name())
	assert.Equal(t, "001.png", entries[1].Name())
}

func TestSearch_WhitespaceOnlyQueryIsNotSent(t *testing.T) {
	up := newUpstream(t)
	cfg := writeConfig(t, up, "none", "")

	out, err := run(t, "--config", cfg, "web", " \t ")
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = run(t, "--config", cfg, "images", "--materialize", "  ")
	require.NoError(t, err)
	assert.Zero(t, up.searches.Load())
}

func TestHistoryAndReportCommands(t *testing.T) {
	up := newUpstream(t)
	dsn := filepath.Join(t.TempDir(), "history.jsonl")
	cfg := writeConfig(t, up, "json", dsn)

	_, err := run(t, "--config", cfg, "web", "golang")
	require.NoError(t, err)
	_, err = run(t, "--config", cfg, "images", "cats")
	require.NoError(t, err)

	out, err := run(t, "--config", cfg, "history", "--json")
	require.NoError(t, err)
	var records []*storage.Record
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 2)
	assert.Equal(t, serp.KindImage, records[0].Kind)
	assert.Equal(t, 3, records[0].ResultCount)

	out, err = run(t, "--config", cfg, "history", "--kind", "web")
	require.NoError(t, err)
	assert.Contains(t, out, "QUERY")
	assert.Contains(t, out, "golang")
	assert.NotContains(t, out, "cats")

	out, err = run(t, "--config", cfg, "report", "--format", "json")
	require.NoError(t, err)
	var summary report.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 2, summary.TotalQueries)
	assert.Equal(t, 5, summary.TotalResults)

	htmlPath := filepath.Join(t.TempDir(), "report.html")
	_, err = run(t, "--config", cfg, "report", "--format", "html", "-o", htmlPath)
	require.NoError(t, err)
	html, err := os.ReadFile(htmlPath)
	require.NoError(t, err)
	assert.Contains(t, string(html), "<html")
}

func TestHistory_Disabled(t *testing.T) {
	up := newUpstream(t)
	cfg := writeConfig(t, up, "none", "")

	_, err := run(t, "--config", cfg, "history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history is disabled")
}

func TestReport_BadFormat(t *testing.T) {
	up := newUpstream(t)
	cfg := writeConfig(t, up, "json", filepath.Join(t.TempDir(), "h.jsonl"))

	_, err := run(t, "--config", cfg, "report", "--format", "pdf")
	assert.Error(t, err)
}

func TestShell(t *testing.T) {
	up := newUpstream(t)
	cfg := writeConfig(t, up, "none", "")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetIn(strings.NewReader("bogus\nw   \nhelp\nquit\nw golang\n"))
	root.SetArgs([]string{"--config", cfg, "shell"})
	require.NoError(t, root.Execute())

	s := out.String()
	assert.Contains(t, s, `unknown command "bogus"`)
	assert.Contains(t, s, "empty query, nothing sent")
	assert.Equal(t, 2, strings.Count(s, "commands:"))
	assert.Zero(t, up.searches.Load(), "input after quit is not read")
}

func TestShell_Toggle(t *testing.T) {
	up := newUpstream(t)
	dsn := filepath.Join(t.TempDir(), "history.jsonl")
	cfg := writeConfig(t, up, "json", dsn)

	in, stdin := io.Pipe()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetIn(in)
	root.SetArgs([]string{"--config", cfg, "shell"})
	done := make(chan error, 1)
	go func() { done <- root.Execute() }()

	send := func(line string, searches int64) {
		_, err := io.WriteString(stdin, line+"\n")
		require.NoError(t, err)
		require.Eventually(t, func() bool { return up.searches.Load() == searches },
			5*time.Second, 10*time.Millisecond, "after %q", line)
	}
	send("toggle", 0)
	send("w golang", 1)
	send("t", 2)
	require.NoError(t, stdin.Close())
	require.NoError(t, <-done)
	assert.Contains(t, out.String(), "nothing to toggle")

	hist, err := run(t, "--config", cfg, "history", "--json")
	require.NoError(t, err)
	var records []*storage.Record
	require.NoError(t, json.Unmarshal([]byte(hist), &records))
	require.Len(t, records, 2)
	var kinds []serp.Kind
	for _, r := range records {
		assert.Equal(t, "golang", r.Query)
		kinds = append(kinds, r.Kind)
	}
	assert.ElementsMatch(t, []serp.Kind{serp.KindWeb, serp.KindImage}, kinds)
}

func TestBadLogLevel(t *testing.T) {
	up := newUpstream(t)
	cfg := writeConfig(t, up, "none", "")

	_, err := run(t, "--config", cfg, "--log-level", "verbose", "web", "golang")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown level "verbose"`)
	assert.Zero(t, up.searches.Load())
}

func TestVersion(t *testing.T) {
	SetVersion("1.2.3")
	t.Cleanup(func() { SetVersion("dev") })

	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "scour 1.2.3\n", out)
}

func TestParseSince(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	got, err := parseSince("24h", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-24*time.Hour), got)

	got, err = parseSince("2024-04-01T00:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), got)

	_, err = parseSince("last week", now)
	assert.Error(t, err)
	_, err = parseSince("-1h", now)
	assert.Error(t, err)
}
