package orchestrator

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

func newTestHandler(t *testing.T) (*Handler, *fakeTuner, *relayRecorder) {
	t.Helper()
	repo := NewInMemoryRepository()
	tuner := &fakeTuner{}
	relays := &relayRecorder{}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	svc := NewService(repo, tuner, relays.factory, testConfig(), log, nil)
	return NewHandler(svc, log, nil), tuner, relays
}

func newTestRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

func serve(r http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHandler_Tune_redirects(t *testing.T) {
	h, tuner, _ := newTestHandler(t)
	r := newTestRouter(h)

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		rec := serve(r, method, "/channels/42/tune?kbps=1500")
		if rec.Code != http.StatusFound {
			t.Fatalf("%s: expected 302, got %d", method, rec.Code)
		}
		if loc := rec.Header().Get("Location"); loc != "http://127.0.0.1:2171/stream.mpeg" {
			t.Errorf("%s: Location = %q", method, loc)
		}
	}
	if got := tuner.params[0].Kbps; got != 1500 {
		t.Errorf("kbps = %d, want 1500", got)
	}
}

func TestHandler_Tune_bad_kbps(t *testing.T) {
	h, _, _ := newTestHandler(t)
	r := newTestRouter(h)

	rec := serve(r, http.MethodGet, "/channels/42/tune?kbps=fast")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_Tune_failure(t *testing.T) {
	h, tuner, _ := newTestHandler(t)
	r := newTestRouter(h)
	tuner.err = errors.New("tv server unreachable")

	rec := serve(r, http.MethodGet, "/channels/42/tune")
	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "failed to collect the stream" {
		t.Errorf("body = %q", body)
	}
}

func TestHandler_ListSessions(t *testing.T) {
	h, _, _ := newTestHandler(t)
	r := newTestRouter(h)

	rec := serve(r, http.MethodGet, "/sessions")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("expected empty list, got %s", body)
	}

	serve(r, http.MethodGet, "/channels/42/tune")
	rec = serve(r, http.MethodGet, "/sessions")
	var views []SessionView
	if err := json.NewDecoder(rec.Body).Decode(&views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 1 || views[0].ServiceID != "42" || views[0].State != "listening" {
		t.Errorf("views = %+v", views)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestHandler_GetManifest(t *testing.T) {
	h, _, _ := newTestHandler(t)
	r := newTestRouter(h)

	if rec := serve(r, http.MethodGet, "/sessions/missing/manifest"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}

	serve(r, http.MethodGet, "/channels/42/tune")
	rec := serve(r, http.MethodGet, "/sessions/relay-a/manifest")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != playlistContentType {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "seg1.ts") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestHandler_StopSession(t *testing.T) {
	h, _, relays := newTestHandler(t)
	r := newTestRouter(h)

	if rec := serve(r, http.MethodDelete, "/sessions/missing"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}

	serve(r, http.MethodGet, "/channels/42/tune")
	if rec := serve(r, http.MethodDelete, "/sessions/relay-a"); rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if !relays.relays[0].isClosed() {
		t.Error("relay should be closed")
	}
}

func TestHandler_Healthz(t *testing.T) {
	h, _, _ := newTestHandler(t)
	rec := serve(newTestRouter(h), http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}

func TestHandler_Tune_rate_limited(t *testing.T) {
	h, tuner, _ := newTestHandler(t)
	r := chi.NewRouter()
	h.Routes(r, httprate.LimitByIP(1, time.Minute))

	if rec := serve(r, http.MethodGet, "/channels/42/tune"); rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if rec := serve(r, http.MethodGet, "/channels/43/tune"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
	if len(tuner.params) != 1 {
		t.Errorf("a limited request must not reach the tuner, got %d tunes", len(tuner.params))
	}
	if rec := serve(r, http.MethodGet, "/sessions"); rec.Code != http.StatusOK {
		t.Errorf("other routes are not limited, got %d", rec.Code)
	}
}
