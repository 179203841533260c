package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// ErrNotReady is returned when the server stops answering the readiness
// poll or never becomes ready within the ready timeout.
var ErrNotReady = errors.New("upstream: stream not ready")

// TuneError reports a refused channel switch.
type TuneError struct {
	ServiceID string
	Code      int
	Err       error
}

func (e *TuneError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tune %s: %v", e.ServiceID, e.Err)
	}
	return fmt.Sprintf("tune %s: refused with errorcode %d", e.ServiceID, e.Code)
}

func (e *TuneError) Unwrap() error { return e.Err }

// JSONFetcher is the part of Client the tuner needs.
type JSONFetcher interface {
	FetchJSON(ctx context.Context, rawURL string, params url.Values, v any) error
}

type tuneResponse struct {
	Success   bool   `json:"success"`
	ErrorCode int    `json:"errorcode"`
	M3U8URL   string `json:"m3u8URL"`
}

type readyResponse struct {
	IsReadyToStream             bool    `json:"isReadyToStream"`
	DoneEncoding                float64 `json:"doneEncoding"`
	MinEncodingToStartStreaming float64 `json:"minEncodingToStartStreaming"`
}

// TunerConfig holds the tuner timings. Zero values select defaults.
type TunerConfig struct {
	Endpoints Endpoints
	// Settle is the pause between a successful tune and the first poll.
	Settle time.Duration
	// PollInterval is the pause between readiness polls.
	PollInterval time.Duration
	// ReadyTimeout bounds the whole readiness wait.
	ReadyTimeout time.Duration
}

// Tuner switches the TV server to a channel and waits until its encoder
// has buffered enough to stream.
type Tuner struct {
	fetch JSONFetcher
	cfg   TunerConfig
	log   *slog.Logger
}

// NewTuner returns a Tuner issuing requests through fetch.
func NewTuner(fetch JSONFetcher, cfg TunerConfig, log *slog.Logger) *Tuner {
	if cfg.Endpoints == (Endpoints{}) {
		cfg.Endpoints = DefaultEndpoints()
	}
	if cfg.Settle <= 0 {
		cfg.Settle = 1500 * time.Millisecond
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 60 * time.Second
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Tuner{fetch: fetch, cfg: cfg, log: log.With(slog.String("component", "tuner"))}
}

// Tune switches to p.ServiceID and returns the URL of the channel's
// manifest once the server reports it is ready to stream.
func (t *Tuner) Tune(ctx context.Context, p PlaybackParams) (string, error) {
	var tr tuneResponse
	if err := t.fetch.FetchJSON(ctx, t.cfg.Endpoints.TuneURL(p), nil, &tr); err != nil {
		return "", &TuneError{ServiceID: p.ServiceID, Err: err}
	}
	if !tr.Success {
		t.log.Debug("channel switch refused", slog.String("service_id", p.ServiceID), slog.Int("errorcode", tr.ErrorCode))
		return "", &TuneError{ServiceID: p.ServiceID, Code: tr.ErrorCode}
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.ReadyTimeout)
	defer cancel()

	wait := t.cfg.Settle
	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", ErrNotReady, ctx.Err())
		case <-time.After(wait):
		}
		wait = t.cfg.PollInterval

		var rr readyResponse
		if err := t.fetch.FetchJSON(ctx, Expand(t.cfg.Endpoints.Ready, p), nil, &rr); err != nil {
			t.log.Error("empty readiness response", slog.String("service_id", p.ServiceID), slog.String("error", err.Error()))
			return "", fmt.Errorf("%w: %v", ErrNotReady, err)
		}
		if rr.IsReadyToStream {
			break
		}
		t.log.Debug("buffering stream",
			slog.String("service_id", p.ServiceID),
			slog.Float64("done_encoding", rr.DoneEncoding),
			slog.Float64("min_encoding", rr.MinEncodingToStartStreaming))
	}

	manifestURL := strings.TrimRight(Expand(t.cfg.Endpoints.StreamBase, p), "/") + "/" + strings.TrimLeft(tr.M3U8URL, "/")
	t.log.Info("stream ready", slog.String("service_id", p.ServiceID), slog.String("manifest_url", manifestURL))
	return manifestURL, nil
}
