package playlist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"hls-relay/internal/platform/metrics"
	"hls-relay/internal/upstream"
)

// Fetcher performs conditional manifest fetches. *upstream.Client
// implements it.
type Fetcher interface {
	FetchConditional(ctx context.Context, rawURL string, prev upstream.Validators) (*upstream.Result, error)
}

// Loader owns a manifest URL and the last good parse of it. It is safe for
// concurrent use.
type Loader struct {
	fetcher Fetcher
	log     *slog.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	url        *url.URL
	raw        string
	validators upstream.Validators
	current    *Manifest
}

// NewLoader returns a Loader for rawURL. Metrics may be nil.
func NewLoader(rawURL string, fetcher Fetcher, log *slog.Logger, m *metrics.Metrics) (*Loader, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("playlist: parse url %q: %w", rawURL, err)
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Loader{fetcher: fetcher, log: log, metrics: m, url: u}, nil
}

// URL returns the manifest URL.
func (l *Loader) URL() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.url.String()
}

// Load fetches the manifest and reports whether its content changed. Fetch
// and parse failures are logged and reported as "no change"; the last good
// manifest is kept.
func (l *Loader) Load(ctx context.Context) bool {
	l.mu.Lock()
	src, prev := l.url.String(), l.validators
	l.mu.Unlock()

	res, err := l.fetcher.FetchConditional(ctx, src, prev)

	l.mu.Lock()
	defer l.mu.Unlock()
	if src != l.url.String() {
		// repointed while fetching
		return false
	}
	if errors.Is(err, upstream.ErrNotModified) {
		return false
	}
	if err != nil {
		l.log.Warn("manifest fetch failed", slog.String("url", src), slog.String("error", err.Error()))
		return false
	}

	raw := string(res.Body)
	if raw == l.raw {
		l.validators = res.Validators
		return false
	}

	m, err := NewParser(src, l.log).Parse(raw)
	if err != nil {
		l.metrics.IncManifestParseFailures()
		return false
	}
	if len(m.Records) == 0 {
		l.log.Warn("manifest has no entries", slog.String("url", src))
		return false
	}

	l.raw = raw
	l.validators = res.Validators
	l.current = m
	l.metrics.IncManifestReloads()
	return true
}

// Data returns the current manifest, or nil before the first successful
// load.
func (l *Loader) Data() *Manifest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Reset forgets the cached content so the next Load reports a change even
// if the upstream content is identical. The current manifest stays
// readable.
func (l *Loader) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.raw = ""
	l.validators = upstream.Validators{}
}

// Repoint switches the loader to ref, resolved against the current URL, and
// drops all cached state.
func (l *Loader) Repoint(ref string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, err := l.resolveLocked(ref)
	if err != nil {
		return err
	}
	l.url = u
	l.raw = ""
	l.validators = upstream.Validators{}
	l.current = nil
	return nil
}

// Resolve resolves a (possibly relative) entry against the manifest URL.
func (l *Loader) Resolve(ref string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, err := l.resolveLocked(ref)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (l *Loader) resolveLocked(ref string) (*url.URL, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("playlist: parse entry %q: %w", ref, err)
	}
	return l.url.ResolveReference(r), nil
}
