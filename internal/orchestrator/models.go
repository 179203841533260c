package orchestrator

import (
	"context"
	"time"

	"hls-relay/internal/playlist"
	"hls-relay/internal/relay"
)

// SessionID uniquely identifies a relay session. It is the relay's id.
type SessionID string

// ServiceID identifies a channel on the TV server.
type ServiceID string

// Relay is the part of *relay.Relay a session drives.
type Relay interface {
	ID() string
	Kickstart(ctx context.Context) error
	StreamURL() string
	ManifestURL() string
	Manifest() *playlist.Manifest
	State() relay.State
	Ended() bool
	Err() error
	Done() <-chan struct{}
	Close()
}

var _ Relay = (*relay.Relay)(nil)

// Session is one tuned channel being relayed to a local client.
type Session struct {
	ID        SessionID
	ServiceID ServiceID
	Kbps      int
	StreamURL string
	StartedAt time.Time

	relay Relay
}

// Active reports whether the session's relay has not finished yet.
func (s *Session) Active() bool {
	select {
	case <-s.relay.Done():
		return false
	default:
		return true
	}
}

// SessionView is the JSON representation of a session.
type SessionView struct {
	ID          SessionID `json:"id"`
	ServiceID   ServiceID `json:"service_id"`
	Kbps        int       `json:"kbps"`
	ManifestURL string    `json:"manifest_url"`
	StreamURL   string    `json:"stream_url"`
	State       string    `json:"state"`
	Ended       bool      `json:"ended"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
}

// View snapshots the session and its relay.
func (s *Session) View() SessionView {
	v := SessionView{
		ID:          s.ID,
		ServiceID:   s.ServiceID,
		Kbps:        s.Kbps,
		ManifestURL: s.relay.ManifestURL(),
		StreamURL:   s.StreamURL,
		State:       s.relay.State().String(),
		Ended:       s.relay.Ended(),
		StartedAt:   s.StartedAt,
	}
	if err := s.relay.Err(); err != nil {
		v.Error = err.Error()
	}
	return v
}
