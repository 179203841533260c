package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"hls-relay/internal/platform/metrics"
	"hls-relay/internal/playlist"
	"hls-relay/internal/upstream"
)

// ErrSessionNotFound is returned for unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

// Tuner switches the TV server to a channel. *upstream.Tuner implements it.
type Tuner interface {
	Tune(ctx context.Context, p upstream.PlaybackParams) (string, error)
}

// RelayFactory builds an unstarted relay for a manifest URL.
type RelayFactory func(manifestURL string) (Relay, error)

// Config holds the playback defaults of a Service.
type Config struct {
	Host    string
	Port    int
	Client  string
	Kbps    int
	MinKbps int
	MaxKbps int
}

// Service tunes channels and manages the relay session for each of them.
// The TV server has one tuner and relays share one listen address, so at
// most one session streams at a time; tuning replaces the current session.
type Service struct {
	repo     Repository
	tuner    Tuner
	newRelay RelayFactory
	cfg      Config
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// NewService returns a Service. Metrics may be nil.
func NewService(repo Repository, tuner Tuner, newRelay RelayFactory, cfg Config, log *slog.Logger, m *metrics.Metrics) *Service {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Service{repo: repo, tuner: tuner, newRelay: newRelay, cfg: cfg, log: log, metrics: m}
}

// Params resolves the playback parameters for a channel. A non-positive
// kbps selects the configured default; the result is clamped to the
// configured bounds.
func (s *Service) Params(serviceID ServiceID, kbps int) upstream.PlaybackParams {
	if kbps <= 0 {
		kbps = s.cfg.Kbps
	}
	client := s.cfg.Client
	if client == "" {
		client = upstream.ClientIDevice
	}
	return upstream.PlaybackParams{
		Host:      s.cfg.Host,
		Port:      s.cfg.Port,
		Kbps:      upstream.ClampKbps(kbps, s.cfg.MinKbps, s.cfg.MaxKbps),
		ServiceID: string(serviceID),
		Client:    client,
	}
}

// Tune switches the TV server to serviceID, starts a relay for the channel's
// manifest and returns the new session. kbps <= 0 selects the default.
func (s *Service) Tune(ctx context.Context, serviceID ServiceID, kbps int) (*Session, error) {
	p := s.Params(serviceID, kbps)
	log := s.log.With(slog.String("service_id", p.ServiceID), slog.Int("kbps", p.Kbps))

	s.stopActive(ctx)

	manifestURL, err := s.tuner.Tune(ctx, p)
	if err != nil {
		log.Error("tune failed", slog.String("error", err.Error()))
		return nil, err
	}

	r, err := s.newRelay(manifestURL)
	if err != nil {
		return nil, fmt.Errorf("create relay: %w", err)
	}
	if err := r.Kickstart(ctx); err != nil {
		log.Error("relay kickstart failed", slog.String("manifest_url", manifestURL), slog.String("error", err.Error()))
		return nil, err
	}

	sess := &Session{
		ID:        SessionID(r.ID()),
		ServiceID: serviceID,
		Kbps:      p.Kbps,
		StreamURL: r.StreamURL(),
		StartedAt: time.Now().UTC(),
		relay:     r,
	}
	if err := s.repo.AddSession(sess); err != nil {
		r.Close()
		return nil, err
	}
	s.metrics.SetActiveRelays(s.repo.ActiveSessionCount())
	log.Info("session started", slog.String("session_id", string(sess.ID)), slog.String("stream_url", sess.StreamURL))
	return sess, nil
}

// Sessions prunes finished sessions and returns a view of the rest.
func (s *Service) Sessions() []SessionView {
	if n := s.repo.PruneFinished(); n > 0 {
		s.log.Debug("pruned finished sessions", slog.Int("count", n))
	}
	sessions := s.repo.ListSessions()
	out := make([]SessionView, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.View())
	}
	return out
}

// Manifest returns the session's current manifest re-encoded as text. ok is
// false for unknown sessions or before a manifest has been loaded.
func (s *Service) Manifest(id SessionID) (string, bool) {
	sess, ok := s.repo.GetSession(id)
	if !ok {
		return "", false
	}
	m := sess.relay.Manifest()
	if m == nil {
		return "", false
	}
	return playlist.Encode(m), true
}

// StopSession closes the session's relay, waits for it to finish and
// forgets the session.
func (s *Service) StopSession(ctx context.Context, id SessionID) error {
	sess, ok := s.repo.GetSession(id)
	if !ok {
		return ErrSessionNotFound
	}
	if err := s.stop(ctx, sess); err != nil {
		return err
	}
	s.repo.RemoveSession(id)
	s.metrics.SetActiveRelays(s.repo.ActiveSessionCount())
	return nil
}

// Shutdown stops every session. It returns ctx's error if a relay does not
// finish in time.
func (s *Service) Shutdown(ctx context.Context) error {
	for _, sess := range s.repo.ListSessions() {
		if err := s.stop(ctx, sess); err != nil {
			return err
		}
		s.repo.RemoveSession(sess.ID)
	}
	s.metrics.SetActiveRelays(0)
	return nil
}

func (s *Service) stopActive(ctx context.Context) {
	for _, sess := range s.repo.ListSessions() {
		if !sess.Active() {
			continue
		}
		s.log.Info("replacing session", slog.String("session_id", string(sess.ID)), slog.String("service_id", string(sess.ServiceID)))
		if err := s.stop(ctx, sess); err != nil {
			s.log.Warn("session did not stop", slog.String("session_id", string(sess.ID)), slog.String("error", err.Error()))
		}
	}
	s.repo.PruneFinished()
}

func (s *Service) stop(ctx context.Context, sess *Session) error {
	sess.relay.Close()
	select {
	case <-sess.relay.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
