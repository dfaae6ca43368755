package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if unitsTotal == nil || unitsInFlight == nil || recordsTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObservers(t *testing.T) {
	ObserveUnit("test_phase", "ok", 2*time.Second)
	ObserveUnit("test_phase", "ok", time.Second)
	if val := testutil.ToFloat64(unitsTotal.WithLabelValues("test_phase", "ok")); val != 2 {
		t.Errorf("expected 2 units, got %f", val)
	}

	ObserveSkipped("test_phase", 3)
	ObserveSkipped("test_phase", 0)
	if val := testutil.ToFloat64(unitsTotal.WithLabelValues("test_phase", "skipped")); val != 3 {
		t.Errorf("expected 3 skipped units, got %f", val)
	}

	SetInFlight("test_phase", 7)
	if val := testutil.ToFloat64(unitsInFlight.WithLabelValues("test_phase")); val != 7 {
		t.Errorf("expected 7 in flight, got %f", val)
	}

	before := testutil.ToFloat64(recordsTotal.WithLabelValues("duplicate"))
	ObserveRecord("duplicate")
	if val := testutil.ToFloat64(recordsTotal.WithLabelValues("duplicate")); val != before+1 {
		t.Errorf("expected duplicate counter to increase by 1, got %f -> %f", before, val)
	}

	ObserveBackendCall("test_op", "malformed")
	if val := testutil.ToFloat64(backendCallsTotal.WithLabelValues("test_op", "malformed")); val != 1 {
		t.Errorf("expected 1 backend call, got %f", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
