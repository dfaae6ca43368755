package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/interpelli-crawler/internal/crawler"
	"github.com/JakeFAU/interpelli-crawler/internal/storage/memory"
)

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(time.Minute)
	return c.now
}

func hours(n int) *int { return &n }

func seededStore(t *testing.T) *memory.NoticeStore {
	t.Helper()
	store := memory.NewNoticeStore(&stepClock{now: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)})
	for _, rec := range []crawler.Record{
		{SchoolName: "IC Manzoni", ClassCode: "A028", Region: "Lecco", WeeklyHours: hours(18), SourceURL: "u1"},
		{SchoolName: "Liceo Volta", ClassCode: "A027", Region: "Como", WeeklyHours: hours(6), SourceURL: "u2"},
		{SchoolName: "ITIS Badoni", ClassCode: "A028", Region: "Como", SourceURL: "u3"},
	} {
		_, err := store.Insert(context.Background(), rec)
		require.NoError(t, err)
	}
	return store
}

func get(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decodeNotices(t *testing.T, rec *httptest.ResponseRecorder) noticesResponse {
	t.Helper()
	var body noticesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestListNotices(t *testing.T) {
	t.Parallel()

	s := NewServer(seededStore(t), zap.NewNop())

	tests := []struct {
		name    string
		target  string
		status  int
		schools []string
	}{
		{name: "all", target: "/v1/notices", status: http.StatusOK, schools: []string{"Liceo Volta", "ITIS Badoni", "IC Manzoni"}},
		{name: "by class", target: "/v1/notices?class=a028", status: http.StatusOK, schools: []string{"ITIS Badoni", "IC Manzoni"}},
		{name: "by hours", target: "/v1/notices?min_hours=10", status: http.StatusOK, schools: []string{"IC Manzoni"}},
		{name: "both filters", target: "/v1/notices?class=A028&min_hours=10", status: http.StatusBadRequest},
		{name: "bad hours", target: "/v1/notices?min_hours=many", status: http.StatusBadRequest},
		{name: "negative hours", target: "/v1/notices?min_hours=-1", status: http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := get(t, s, tc.target)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			if tc.status != http.StatusOK {
				return
			}
			body := decodeNotices(t, rec)
			assert.Equal(t, len(tc.schools), body.Count)
			got := make([]string, len(body.Notices))
			for i, n := range body.Notices {
				got[i] = n.SchoolName
			}
			assert.Equal(t, tc.schools, got)
		})
	}
}

func TestListNoticesEmptyIsArray(t *testing.T) {
	t.Parallel()

	rec := get(t, NewServer(memory.NewNoticeStore(nil), zap.NewNop()), "/v1/notices")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":0,"notices":[]}`, rec.Body.String())
}

func TestListClasses(t *testing.T) {
	t.Parallel()

	rec := get(t, NewServer(seededStore(t), zap.NewNop()), "/v1/classes")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"classes":["A027","A028"]}`, rec.Body.String())
}

type failingReader struct{}

func (failingReader) QueryAll(context.Context) ([]crawler.Record, error) {
	return nil, errors.New("connection reset")
}

func (failingReader) QueryBy(context.Context, crawler.Filter) ([]crawler.Record, error) {
	return nil, errors.New("connection reset")
}

func (failingReader) DistinctClasses(context.Context) ([]string, error) {
	return nil, errors.New("connection reset")
}

func TestStoreFailuresReturn500(t *testing.T) {
	t.Parallel()

	s := NewServer(failingReader{}, zap.NewNop())
	for _, target := range []string{"/v1/notices", "/v1/notices?class=A028", "/v1/classes"} {
		rec := get(t, s, target)
		assert.Equal(t, http.StatusInternalServerError, rec.Code, target)
		assert.NotContains(t, rec.Body.String(), "connection reset")
	}
}

func TestListRuns(t *testing.T) {
	t.Parallel()

	runs := memory.NewRunStore()
	base := time.Date(2025, 2, 1, 6, 0, 0, 0, time.UTC)
	for i := range 3 {
		require.NoError(t, runs.RecordRun(context.Background(), crawler.RunSummary{
			RunID:     fmt.Sprintf("run-%d", i),
			StartedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}
	s := NewServer(seededStore(t), zap.NewNop(), WithRuns(runs))

	rec := get(t, s, "/v1/runs?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Runs []crawler.RunSummary `json:"runs"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Runs, 2)
	assert.Equal(t, "run-2", body.Runs[0].RunID)

	assert.Equal(t, http.StatusBadRequest, get(t, s, "/v1/runs?limit=0").Code)
	assert.Equal(t, http.StatusNotFound, get(t, NewServer(seededStore(t), nil), "/v1/runs").Code)
}

func TestProbes(t *testing.T) {
	t.Parallel()

	s := NewServer(seededStore(t), zap.NewNop())
	assert.Equal(t, http.StatusOK, get(t, s, "/healthz").Code)
	assert.Equal(t, http.StatusOK, get(t, s, "/readyz").Code)

	down := NewServer(seededStore(t), zap.NewNop(), WithReadiness(func(context.Context) error {
		return errors.New("db down")
	}))
	assert.Equal(t, http.StatusOK, get(t, down, "/healthz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, down, "/readyz").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s := NewServer(seededStore(t), zap.NewNop())
	get(t, s, "/v1/classes")
	rec := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	s := NewServer(seededStore(t), zap.NewNop())
	rec := get(t, s, "/healthz")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	s := NewServer(seededStore(t), zap.NewNop())
	h := s.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
	require.NotNil(t, buf)
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
