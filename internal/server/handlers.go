package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/FranksOps/scour/internal/report"
	"github.com/FranksOps/scour/internal/serp"
	"github.com/FranksOps/scour/internal/session"
	"github.com/FranksOps/scour/internal/storage"
	"github.com/labstack/echo/v4"
)

type errorResponse struct {
	Error string         `json:"error"`
	Kind  serp.ErrorKind `json:"kind,omitempty"`
}

type imagesResponse struct {
	Query     string   `json:"query"`
	ImageURLs []string `json:"image_urls"`
}

type webResponse struct {
	Query   string           `json:"query"`
	Results []serp.WebResult `json:"results"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleImages(c echo.Context) error {
	query := serp.NormalizeQuery(c.QueryParam("q"))
	rec, err := s.session.Do(c.Request().Context(), serp.KindImage, query)
	if errors.Is(err, session.ErrEmptyQuery) {
		return c.JSON(http.StatusOK, imagesResponse{Query: "", ImageURLs: []string{}})
	}
	if err != nil {
		return s.searchError(c, err)
	}
	return c.JSON(http.StatusOK, imagesResponse{Query: rec.Query, ImageURLs: nonNil(rec.ImageURLs)})
}

func (s *Server) handleWeb(c echo.Context) error {
	query := serp.NormalizeQuery(c.QueryParam("q"))
	rec, err := s.session.Do(c.Request().Context(), serp.KindWeb, query)
	if errors.Is(err, session.ErrEmptyQuery) {
		return c.JSON(http.StatusOK, webResponse{Query: "", Results: []serp.WebResult{}})
	}
	if err != nil {
		return s.searchError(c, err)
	}
	return c.JSON(http.StatusOK, webResponse{Query: rec.Query, Results: nonNil(rec.WebResults)})
}

// searchError maps engine failures onto a 502 carrying the error kind.
func (s *Server) searchError(c echo.Context, err error) error {
	var fe *serp.FetchError
	if errors.As(err, &fe) {
		return c.JSON(http.StatusBadGateway, errorResponse{Error: fe.Error(), Kind: fe.Kind})
	}
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
}

func (s *Server) handleHistory(c echo.Context) error {
	if s.history == nil {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "history is disabled"})
	}
	filter, err := parseFilter(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	records, err := s.history.Query(c.Request().Context(), filter)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
	if records == nil {
		records = []*storage.Record{}
	}
	return c.JSON(http.StatusOK, records)
}

func (s *Server) handleReport(c echo.Context) error {
	if s.history == nil {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "history is disabled"})
	}
	filter, err := parseFilter(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	if c.QueryParam("limit") == "" {
		filter.Limit = 0
	}
	records, err := s.history.Query(c.Request().Context(), filter)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
	summary := report.GenerateSummary(records)

	w := c.Response()
	switch c.QueryParam("format") {
	case "", "json":
		return c.JSON(http.StatusOK, summary)
	case "text":
		w.Header().Set(echo.HeaderContentType, echo.MIMETextPlainCharsetUTF8)
		w.WriteHeader(http.StatusOK)
		return report.WriteText(w, summary)
	case "html":
		w.Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
		w.WriteHeader(http.StatusOK)
		return report.WriteHTML(w, summary)
	default:
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "format must be json, text or html"})
	}
}

// parseFilter reads kind, q, failed, since (RFC 3339), limit and offset.
func parseFilter(c echo.Context) (storage.Filter, error) {
	var f storage.Filter

	if k := c.QueryParam("kind"); k != "" {
		kind, err := serp.ParseKind(k)
		if err != nil {
			return f, err
		}
		f.Kind = kind
	}
	f.Query = serp.NormalizeQuery(c.QueryParam("q"))

	if v := c.QueryParam("failed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, errors.New("failed must be a boolean")
		}
		f.Failed = &b
	}
	if v := c.QueryParam("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("since must be an RFC 3339 timestamp")
		}
		f.Since = &t
	}

	f.Limit = 50
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, errors.New("limit must be a non-negative integer")
		}
		f.Limit = n
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, errors.New("offset must be a non-negative integer")
		}
		f.Offset = n
	}
	return f, nil
}

// nonNil keeps empty result lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
