package orchestrator

import (
	"context"
	"sync"

	"hls-relay/internal/playlist"
	"hls-relay/internal/relay"
	"hls-relay/internal/upstream"
)

type fakeRelay struct {
	id          string
	manifestURL string
	kickErr     error
	manifest    *playlist.Manifest

	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

func newFakeRelay(id, manifestURL string) *fakeRelay {
	return &fakeRelay{id: id, manifestURL: manifestURL, done: make(chan struct{})}
}

func (f *fakeRelay) ID() string { return f.id }
func (f *fakeRelay) Kickstart(ctx context.Context) error { return f.kickErr }
func (f *fakeRelay) StreamURL() string { return "http://127.0.0.1:2171/stream.mpeg" }
func (f *fakeRelay) ManifestURL() string { return f.manifestURL }
func (f *fakeRelay) Manifest() *playlist.Manifest { return f.manifest }
func (f *fakeRelay) Ended() bool { return f.isClosed() }
func (f *fakeRelay) Err() error { return nil }
func (f *fakeRelay) Done() <-chan struct{} { return f.done }

func (f *fakeRelay) State() relay.State {
	if f.isClosed() {
		return relay.StateFinished
	}
	return relay.StateListening
}

func (f *fakeRelay) Close() {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		close(f.done)
	})
}

func (f *fakeRelay) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeTuner struct {
	mu     sync.Mutex
	err    error
	params []upstream.PlaybackParams
}

func (t *fakeTuner) Tune(ctx context.Context, p upstream.PlaybackParams) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.params = append(t.params, p)
	if t.err != nil {
		return "", t.err
	}
	return "http://tv.test/live/stream/" + p.ServiceID + "/index.m3u8", nil
}

// relayRecorder is a RelayFactory that hands out fake relays and keeps them.
type relayRecorder struct {
	mu      sync.Mutex
	kickErr error
	relays  []*fakeRelay
}

func (rr *relayRecorder) factory(manifestURL string) (Relay, error) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	f := newFakeRelay("relay-"+string(rune('a'+len(rr.relays))), manifestURL)
	f.kickErr = rr.kickErr
	f.manifest = &playlist.Manifest{Records: []playlist.Record{{MRL: "seg1.ts"}}}
	rr.relays = append(rr.relays, f)
	return f, nil
}

func testConfig() Config {
	return Config{Host: "tv.test", Port: 2170, Kbps: 2000, MinKbps: 320, MaxKbps: 4540}
}
