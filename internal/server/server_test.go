package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/FranksOps/scour/internal/fingerprint"
	"github.com/FranksOps/scour/internal/report"
	"github.com/FranksOps/scour/internal/scraper"
	"github.com/FranksOps/scour/internal/serp"
	"github.com/FranksOps/scour/internal/session"
	"github.com/FranksOps/scour/internal/storage"
	"github.com/FranksOps/scour/internal/storage/jsonbackend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const imagesPage = `<html><body>
<img src="/logo.png">
<img data-src="https://img.test/1.jpg">
<img data-src="https://img.test/2.jpg">
</body></html>`

const webPage = `<html><body><ol id="b_results">
<li class="b_algo"><h2><a href="https://go.dev/">The Go Programming Language</a></h2><p>Build fast, reliable software.</p></li>
<li class="b_ad"><a href="https://ads.test/">Sponsored</a></li>
<li class="b_algo"><h2><a href="https://pkg.go.dev/">Go Packages</a></h2></li>
</ol></body></html>`

type fixture struct {
	srv     *Server
	history storage.Backend
}

func newFixture(t *testing.T, withHistory bool) *fixture {
	t.Helper()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		switch {
		case q == "blocked":
			w.WriteHeader(http.StatusTooManyRequests)
			return
		case q == "nothing":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(`<html><body><p>No results</p></body></html>`))
			return
		case q == "json":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{}`))
			return
		}
		w.Header().Set("Content-Type", "text/html")
		if r.URL.Path == "/images" {
			_, _ = w.Write([]byte(imagesPage))
			return
		}
		_, _ = w.Write([]byte(webPage))
	}))
	t.Cleanup(upstream.Close)

	fetcher, err := scraper.NewFetcher(scraper.FetchConfig{Timeout: 5 * time.Second, Fingerprint: fingerprint.ProfileGo})
	require.NoError(t, err)

	engineCfg := serp.Config{ImageBaseURL: upstream.URL + "/images", WebBaseURL: upstream.URL + "/web"}
	images, err := serp.NewGoogleImages(fetcher, engineCfg)
	require.NoError(t, err)
	web, err := serp.NewBingWeb(fetcher, engineCfg)
	require.NoError(t, err)

	var history storage.Backend
	if withHistory {
		history, err = jsonbackend.New(filepath.Join(t.TempDir(), "history.jsonl"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = history.Close() })
	}

	sess, err := session.New(session.Config{Images: images, Web: web, History: history})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })

	srv, err := New(Config{Session: sess, History: history})
	require.NoError(t, err)
	return &fixture{srv: srv, history: history}
}

func (f *fixture) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	f := newFixture(t, false)
	rec := f.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSearchImages(t *testing.T) {
	f := newFixture(t, false)
	rec := f.get(t, "/api/v1/search/images?q=red+panda")
	require.Equal(t, http.StatusOK, rec.Code)

	var body imagesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "redpanda", body.Query)
	assert.Equal(t, []string{"https://img.test/1.jpg", "https://img.test/2.jpg"}, body.ImageURLs)
}

func TestSearchWeb(t *testing.T) {
	f := newFixture(t, false)
	rec := f.get(t, "/api/v1/search/web?q=golang")
	require.Equal(t, http.StatusOK, rec.Code)

	var body webResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Results, 2)
	assert.Equal(t, "https://go.dev/", body.Results[0].Link)
	assert.Equal(t, "Build fast, reliable software.", body.Results[0].Description)
	assert.Equal(t, serp.DescriptionPlaceholder, body.Results[1].Description)
}

func TestSearch_EmptyQuery(t *testing.T) {
	f := newFixture(t, false)

	rec := f.get(t, "/api/v1/search/images?q=%20%20")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"query":"","image_urls":[]}`, rec.Body.String())

	rec = f.get(t, "/api/v1/search/web")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"query":"","results":[]}`, rec.Body.String())
}

func TestSearch_NoResultsEncodeAsEmptyLists(t *testing.T) {
	f := newFixture(t, false)

	rec := f.get(t, "/api/v1/search/images?q=nothing")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"query":"nothing","image_urls":[]}`, rec.Body.String())

	rec = f.get(t, "/api/v1/search/web?q=nothing")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"query":"nothing","results":[]}`, rec.Body.String())
}

func TestSearch_Errors(t *testing.T) {
	f := newFixture(t, false)

	tests := []struct {
		target string
		kind   serp.ErrorKind
	}{
		{"/api/v1/search/web?q=blocked", serp.ErrBlocked},
		{"/api/v1/search/images?q=json", serp.ErrParse},
	}
	for _, tt := range tests {
		rec := f.get(t, tt.target)
		assert.Equal(t, http.StatusBadGateway, rec.Code, tt.target)

		var body errorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, tt.kind, body.Kind, tt.target)
		assert.NotEmpty(t, body.Error)
	}
}

func TestHistoryAndReport(t *testing.T) {
	f := newFixture(t, true)

	f.get(t, "/api/v1/search/images?q=cats")
	f.get(t, "/api/v1/search/web?q=golang")
	f.get(t, "/api/v1/search/web?q=blocked")

	rec := f.get(t, "/api/v1/history")
	require.Equal(t, http.StatusOK, rec.Code)
	var records []*storage.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 3)
	assert.Equal(t, "blocked", records[0].Query, "newest first")

	rec = f.get(t, "/api/v1/history?kind=web&failed=false")
	require.Equal(t, http.StatusOK, rec.Code)
	records = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "golang", records[0].Query)
	assert.Equal(t, 2, records[0].ResultCount)

	rec = f.get(t, "/api/v1/report")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary report.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 3, summary.TotalQueries)
	assert.Equal(t, 1, summary.TotalBlocked)

	rec = f.get(t, "/api/v1/report?format=text")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "Total Queries: 3"))
}

func TestHistory_BadParams(t *testing.T) {
	f := newFixture(t, true)
	for _, target := range []string{
		"/api/v1/history?kind=video",
		"/api/v1/history?failed=maybe",
		"/api/v1/history?limit=-1",
		"/api/v1/history?since=yesterday",
		"/api/v1/report?format=pdf",
	} {
		rec := f.get(t, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestHistory_Disabled(t *testing.T) {
	f := newFixture(t, false)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/v1/history").Code)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/v1/report").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, false)
	f.get(t, "/api/v1/search/images?q=cats")

	rec := f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "scour_queries_total")
}

func TestNew_RequiresSession(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
