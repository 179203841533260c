package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"hls-relay/internal/upstream"
)

func newTestService(t *testing.T) (*Service, *fakeTuner, *relayRecorder, *InMemoryRepository) {
	t.Helper()
	repo := NewInMemoryRepository()
	tuner := &fakeTuner{}
	relays := &relayRecorder{}
	return NewService(repo, tuner, relays.factory, testConfig(), nil, nil), tuner, relays, repo
}

func TestService_Params(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	p := svc.Params("42", 0)
	want := upstream.PlaybackParams{Host: "tv.test", Port: 2170, Kbps: 2000, ServiceID: "42", Client: upstream.ClientIDevice}
	if p != want {
		t.Errorf("Params = %+v, want %+v", p, want)
	}
	if got := svc.Params("42", 99999).Kbps; got != 4540 {
		t.Errorf("kbps above the maximum should clamp to 4540, got %d", got)
	}
	if got := svc.Params("42", 10).Kbps; got != 320 {
		t.Errorf("kbps below the minimum should clamp to 320, got %d", got)
	}
}

func TestService_Tune(t *testing.T) {
	svc, tuner, relays, repo := newTestService(t)

	sess, err := svc.Tune(context.Background(), "42", 1000)
	if err != nil {
		t.Fatalf("Tune: %v", err)
	}
	if sess.ServiceID != "42" || sess.Kbps != 1000 {
		t.Errorf("session = %+v", sess)
	}
	if !strings.HasSuffix(sess.StreamURL, "/stream.mpeg") {
		t.Errorf("StreamURL = %q", sess.StreamURL)
	}
	if len(tuner.params) != 1 || tuner.params[0].Kbps != 1000 {
		t.Errorf("tuner params = %+v", tuner.params)
	}
	if got := relays.relays[0].manifestURL; got != "http://tv.test/live/stream/42/index.m3u8" {
		t.Errorf("relay manifest url = %q", got)
	}
	if _, ok := repo.GetSession(sess.ID); !ok {
		t.Error("session should be registered")
	}
	if n := repo.ActiveSessionCount(); n != 1 {
		t.Errorf("ActiveSessionCount = %d, want 1", n)
	}
}

func TestService_Tune_replaces_active_session(t *testing.T) {
	svc, _, relays, repo := newTestService(t)
	ctx := context.Background()

	first, err := svc.Tune(ctx, "1", 0)
	if err != nil {
		t.Fatalf("Tune: %v", err)
	}
	second, err := svc.Tune(ctx, "2", 0)
	if err != nil {
		t.Fatalf("Tune: %v", err)
	}

	if !relays.relays[0].isClosed() {
		t.Error("tuning another channel should close the previous relay")
	}
	if _, ok := repo.GetSession(first.ID); ok {
		t.Error("the replaced session should be pruned")
	}
	if _, ok := repo.GetSession(second.ID); !ok {
		t.Error("the new session should be registered")
	}
}

func TestService_Tune_failures(t *testing.T) {
	t.Run("tuner refuses", func(t *testing.T) {
		svc, tuner, relays, repo := newTestService(t)
		tuner.err = &upstream.TuneError{ServiceID: "42", Code: 3}

		_, err := svc.Tune(context.Background(), "42", 0)
		var te *upstream.TuneError
		if !errors.As(err, &te) {
			t.Errorf("expected *upstream.TuneError, got %v", err)
		}
		if len(relays.relays) != 0 {
			t.Error("no relay should be created when tuning fails")
		}
		if len(repo.ListSessions()) != 0 {
			t.Error("no session should be registered")
		}
	})

	t.Run("kickstart fails", func(t *testing.T) {
		svc, _, relays, repo := newTestService(t)
		relays.kickErr = errors.New("manifest not loaded")

		if _, err := svc.Tune(context.Background(), "42", 0); err == nil {
			t.Error("expected kickstart error")
		}
		if len(repo.ListSessions()) != 0 {
			t.Error("no session should be registered")
		}
	})
}

func TestService_Sessions_prunes_finished(t *testing.T) {
	svc, _, relays, _ := newTestService(t)

	if _, err := svc.Tune(context.Background(), "42", 0); err != nil {
		t.Fatalf("Tune: %v", err)
	}
	views := svc.Sessions()
	if len(views) != 1 || views[0].State != "listening" || views[0].Ended {
		t.Fatalf("views = %+v", views)
	}

	relays.relays[0].Close()
	if views := svc.Sessions(); len(views) != 0 {
		t.Errorf("finished sessions should be pruned, got %+v", views)
	}
}

func TestService_Manifest(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	if _, ok := svc.Manifest("missing"); ok {
		t.Error("expected ok false for unknown session")
	}
	sess, err := svc.Tune(context.Background(), "42", 0)
	if err != nil {
		t.Fatalf("Tune: %v", err)
	}
	text, ok := svc.Manifest(sess.ID)
	if !ok {
		t.Fatal("expected manifest")
	}
	if !strings.HasPrefix(text, "#EXTM3U\n") || !strings.Contains(text, "seg1.ts\n") {
		t.Errorf("manifest = %q", text)
	}
}

func TestService_StopSession(t *testing.T) {
	svc, _, relays, repo := newTestService(t)
	ctx := context.Background()

	if err := svc.StopSession(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	sess, err := svc.Tune(ctx, "42", 0)
	if err != nil {
		t.Fatalf("Tune: %v", err)
	}
	if err := svc.StopSession(ctx, sess.ID); err != nil {
		t.Fatalf("StopSession: %v", err)
	}
	if !relays.relays[0].isClosed() {
		t.Error("relay should be closed")
	}
	if _, ok := repo.GetSession(sess.ID); ok {
		t.Error("session should be removed")
	}
}

func TestService_Shutdown(t *testing.T) {
	svc, _, relays, repo := newTestService(t)
	if _, err := svc.Tune(context.Background(), "42", 0); err != nil {
		t.Fatalf("Tune: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := svc.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !relays.relays[0].isClosed() {
		t.Error("relay should be closed")
	}
	if len(repo.ListSessions()) != 0 {
		t.Error("no session should remain")
	}
}
