package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/mockview/internal/observe"
	"github.com/MrWong99/mockview/internal/resilience"
	"github.com/MrWong99/mockview/pkg/provider/stt"
)

func newTestClient(t *testing.T, h http.Handler, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	base := []Option{
		WithHTTPClient(srv.Client()),
		WithMetrics(m),
		WithPollInterval(time.Millisecond),
		WithRetry(resilience.RetryConfig{Attempts: 3, Base: time.Millisecond, Retryable: retryable}),
	}
	c, err := New(srv.URL+"/", "secret", append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNew_RequiresBaseURL(t *testing.T) {
	if _, err := New("", "tok"); err == nil {
		t.Fatal("New with empty base URL succeeded")
	}
}

func TestStartInterview(t *testing.T) {
	var gotReq StartRequest
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/interviews" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("missing X-Request-ID")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode body: %v", err)
		}
		writeJSON(w, http.StatusCreated, StartResponse{InterviewID: "iv-9", Status: "in_progress"})
	}))

	resp, err := c.StartInterview(t.Context(), StartRequest{Role: "sre", Skills: []string{"go", "k8s"}})
	if err != nil {
		t.Fatalf("StartInterview: %v", err)
	}
	if resp.InterviewID != "iv-9" {
		t.Errorf("InterviewID = %q", resp.InterviewID)
	}
	if gotReq.Role != "sre" || len(gotReq.Skills) != 2 {
		t.Errorf("request body = %+v", gotReq)
	}
}

func TestStatusErrors(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		body     string
		wantIs   error
		wantMsg  string
		wantTemp bool
	}{
		{name: "unauthorized", code: 401, body: `{"detail":"token expired"}`, wantIs: ErrUnauthorized, wantMsg: "token expired"},
		{name: "forbidden", code: 403, body: `{"error":"nope"}`, wantIs: ErrUnauthorized, wantMsg: "nope"},
		{name: "not found", code: 404, body: `plain text`, wantIs: ErrNotFound, wantMsg: "plain text"},
		{name: "server", code: 503, body: `{"message":"down"}`, wantMsg: "down", wantTemp: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(tt.body))
			}))
			_, err := c.InterviewStatus(t.Context(), "iv-1")
			var se *StatusError
			if !errors.As(err, &se) {
				t.Fatalf("err = %v, want *StatusError", err)
			}
			if se.Code != tt.code || se.Message != tt.wantMsg || se.Temporary() != tt.wantTemp {
				t.Errorf("StatusError = %+v", se)
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("errors.Is(%v, %v) = false", err, tt.wantIs)
			}
		})
	}
}

func TestBreaker_IgnoresClientErrors(t *testing.T) {
	var code atomic.Int32
	code.Store(http.StatusNotFound)
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(int(code.Load()))
	}), WithBreaker(resilience.CircuitBreakerConfig{Name: "test", MaxFailures: 2, ResetTimeout: time.Hour}))

	for range 5 {
		if _, err := c.InterviewStatus(t.Context(), "iv"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	}

	code.Store(http.StatusInternalServerError)
	for range 2 {
		_, _ = c.InterviewStatus(t.Context(), "iv")
	}
	before := calls.Load()
	if _, err := c.InterviewStatus(t.Context(), "iv"); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if calls.Load() != before {
		t.Error("request reached the server while the breaker was open")
	}
}

func TestTranscriptionToken_Retries(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, TranscriptionToken{Token: "short-lived", ExpiresIn: 60})
	}))

	tok, err := c.TranscriptionToken(t.Context())
	if err != nil {
		t.Fatalf("TranscriptionToken: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cred := tok.Credential(now)
	if cred.Kind != stt.CredentialToken || cred.Value != "short-lived" || !cred.ExpiresAt.Equal(now.Add(time.Minute)) {
		t.Errorf("credential = %+v", cred)
	}
}

func TestTranscriptionToken_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))

	if _, err := c.TranscriptionToken(t.Context()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestWaitReport(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/interviews/iv-1/report" {
			t.Errorf("path = %s", r.URL.Path)
		}
		switch calls.Add(1) {
		case 1:
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "generating"})
		case 2:
			writeJSON(w, http.StatusOK, Report{Status: "generating"})
		default:
			writeJSON(w, http.StatusOK, Report{InterviewID: "iv-1", Status: "ready", OverallScore: 7.2})
		}
	}))

	if _, err := c.Report(t.Context(), "iv-1"); !errors.Is(err, ErrReportPending) {
		t.Fatalf("first Report = %v, want ErrReportPending", err)
	}
	r, err := c.WaitReport(t.Context(), "iv-1")
	if err != nil {
		t.Fatalf("WaitReport: %v", err)
	}
	if r.OverallScore != 7.2 || calls.Load() != 3 {
		t.Errorf("report = %+v after %d calls", r, calls.Load())
	}
}

func TestWaitReport_ContextBound(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	ctx, cancel := contextWithTimeout(t, 20*time.Millisecond)
	defer cancel()

	if _, err := c.WaitReport(ctx, "iv-1"); !errors.Is(err, ErrReportPending) {
		t.Errorf("err = %v, want ErrReportPending", err)
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestListInterviews_Cache(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	var lists atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/interviews":
			lists.Add(1)
			writeJSON(w, http.StatusOK, map[string]any{
				"interviews": []InterviewSummary{{InterviewID: "iv-1", Role: "sre", Status: "completed"}},
			})
		case r.URL.Path == "/api/interviews/iv-1/end":
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}), WithClock(clock.Now), WithCacheTTL(time.Minute))

	for range 3 {
		got, err := c.ListInterviews(t.Context())
		if err != nil {
			t.Fatalf("ListInterviews: %v", err)
		}
		if len(got) != 1 || got[0].InterviewID != "iv-1" {
			t.Fatalf("list = %+v", got)
		}
	}
	if n := lists.Load(); n != 1 {
		t.Errorf("list requests = %d, want 1 while cached", n)
	}

	clock.Advance(2 * time.Minute)
	_, _ = c.ListInterviews(t.Context())
	if n := lists.Load(); n != 2 {
		t.Errorf("list requests = %d, want 2 after expiry", n)
	}

	if err := c.EndInterview(t.Context(), "iv-1"); err != nil {
		t.Fatalf("EndInterview: %v", err)
	}
	_, _ = c.ListInterviews(t.Context())
	if n := lists.Load(); n != 3 {
		t.Errorf("list requests = %d, want 3 after invalidation", n)
	}
}

func contextWithTimeout(t *testing.T, d time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(t.Context(), d)
}
