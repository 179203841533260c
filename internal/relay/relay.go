// Package relay republishes a live segmented stream as one continuous byte
// stream on a local TCP socket.
//
// A Relay runs two goroutines. The producer polls the manifest, fetches new
// segments and pushes them into a bounded queue. The consumer owns the one
// accepted client connection and drains the queue onto it. They coordinate
// only through the queue and two readiness events.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"hls-relay/internal/platform/metrics"
	"hls-relay/internal/playlist"

	"github.com/google/uuid"
)

// DefaultAddr is the loopback address relays listen on.
const DefaultAddr = "127.0.0.1:2171"

// streamHeader is written ahead of the first segment. The client request is
// never parsed; every client gets the same response.
const streamHeader = "HTTP/1.1 200 OK\r\n" +
	"Content-Type: video/mp4\r\n" +
	"Content-Transfer-Encoding: binary\r\n" +
	"Connection: keep-alive\r\n" +
	"\r\n"

// maxRequestBytes is how much of the client request is read and discarded.
const maxRequestBytes = 4096

var (
	// ErrAlreadyStarted is returned when Kickstart is called twice.
	ErrAlreadyStarted = errors.New("relay: already started")
	// ErrManifestUnavailable is returned when the preflight manifest load fails.
	ErrManifestUnavailable = errors.New("relay: manifest not loaded")
	// ErrProducerTimeout is returned when the producer does not start listening in time.
	ErrProducerTimeout = errors.New("relay: producer timed out")
	// ErrProducerExited is returned when the producer stops before listening.
	ErrProducerExited = errors.New("relay: producer exited")
	// ErrListen wraps bind, listen and accept failures.
	ErrListen = errors.New("relay: listener failed")
	// ErrNoMediaManifest is returned when a master manifest's variant cannot be loaded.
	ErrNoMediaManifest = errors.New("relay: manifest does not lead to a media playlist")
	// ErrConsumerTimeout is recorded when the client never becomes ready.
	ErrConsumerTimeout = errors.New("relay: consumer timed out")
	// ErrFirstSegmentTimeout is recorded when a ready client receives no
	// segment in time.
	ErrFirstSegmentTimeout = errors.New("relay: no segment within timeout")
	// ErrSegmentFetch wraps segment download failures.
	ErrSegmentFetch = errors.New("relay: segment fetch failed")
)

// State is the lifecycle stage of a relay.
type State int32

const (
	StateIdle State = iota
	StateListening
	StateStreaming
	StateFinished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateStreaming:
		return "streaming"
	case StateFinished:
		return "finished"
	default:
		return "failed"
	}
}

// Fetcher loads manifests and segments. *upstream.Client implements it.
type Fetcher interface {
	playlist.Fetcher
	FetchRaw(ctx context.Context, rawURL string) ([]byte, error)
}

// Config holds relay addresses, queue size and timings. Zero values select
// defaults.
type Config struct {
	// Addr is the listen address.
	Addr string
	// QueueSize bounds the number of fetched segments not yet written.
	QueueSize int
	// ProducerReadyTimeout bounds how long Kickstart waits for the listener.
	ProducerReadyTimeout time.Duration
	// ConsumerReadyTimeout bounds how long the producer waits for the
	// accepted client to become ready.
	ConsumerReadyTimeout time.Duration
	// FirstSegmentTimeout bounds how long the consumer waits for the first
	// segment to be queued.
	FirstSegmentTimeout time.Duration
	// WriteTimeout bounds every write after the first one.
	WriteTimeout time.Duration
	// RequestTimeout bounds reading the client request and the first write.
	RequestTimeout time.Duration
	// DefaultPollInterval is used when the manifest declares no target
	// duration.
	DefaultPollInterval time.Duration
	// IdlePollInterval is the pause between unsuccessful reload attempts.
	IdlePollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.ProducerReadyTimeout <= 0 {
		c.ProducerReadyTimeout = 60 * time.Second
	}
	if c.ConsumerReadyTimeout <= 0 {
		c.ConsumerReadyTimeout = 30 * time.Second
	}
	if c.FirstSegmentTimeout <= 0 {
		c.FirstSegmentTimeout = 60 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 60 * time.Second
	}
	if c.DefaultPollInterval <= 0 {
		c.DefaultPollInterval = 4 * time.Second
	}
	if c.IdlePollInterval <= 0 {
		c.IdlePollInterval = time.Second
	}
	return c
}

// Relay serves one manifest to exactly one client. It is single-shot: once
// it finishes or fails a new Relay must be created.
type Relay struct {
	id      string
	cfg     Config
	loader  *playlist.Loader
	fetcher Fetcher
	log     *slog.Logger
	metrics *metrics.Metrics

	producerReady *event
	consumerReady *event
	queue         *segmentQueue
	endOfStream   atomic.Bool
	lastSequence  atomic.Int64

	started         atomic.Bool
	state           atomic.Int32
	consumerStarted atomic.Bool

	listening      chan struct{}
	producerExited chan struct{}
	consumerExited chan struct{}
	done           chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	ln   net.Listener
	conn net.Conn
	err  error
}

// New returns a relay for manifestURL. Metrics may be nil.
func New(cfg Config, manifestURL string, fetcher Fetcher, log *slog.Logger, m *metrics.Metrics) (*Relay, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	id := uuid.NewString()
	log = log.With(slog.String("component", "relay"), slog.String("relay_id", id))

	loader, err := playlist.NewLoader(manifestURL, fetcher, log, m)
	if err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	r := &Relay{
		id:             id,
		cfg:            cfg,
		loader:         loader,
		fetcher:        fetcher,
		log:            log,
		metrics:        m,
		producerReady:  newEvent(),
		consumerReady:  newEvent(),
		queue:          newSegmentQueue(cfg.QueueSize),
		listening:      make(chan struct{}),
		producerExited: make(chan struct{}),
		consumerExited: make(chan struct{}),
		done:           make(chan struct{}),
		ctx:            ctx,
		cancel:         cancel,
	}
	r.lastSequence.Store(-1)
	return r, nil
}

// ID returns the relay's session id.
func (r *Relay) ID() string { return r.id }

// ManifestURL returns the URL currently being polled; it changes when a
// master manifest is followed to its variant.
func (r *Relay) ManifestURL() string { return r.loader.URL() }

// Manifest returns the last good manifest, or nil.
func (r *Relay) Manifest() *playlist.Manifest { return r.loader.Data() }

// State returns the current lifecycle stage.
func (r *Relay) State() State { return State(r.state.Load()) }

// Ended reports whether end-of-stream has been signalled.
func (r *Relay) Ended() bool { return r.endOfStream.Load() }

// Done is closed once both tasks have exited.
func (r *Relay) Done() <-chan struct{} { return r.done }

// Err returns the error that terminated the relay, if any.
func (r *Relay) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Addr returns the bound listen address, or nil before the relay listens.
func (r *Relay) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ln == nil {
		return nil
	}
	return r.ln.Addr()
}

// StreamURL returns the URL a player should open to receive the stream.
func (r *Relay) StreamURL() string {
	addr := r.cfg.Addr
	if a := r.Addr(); a != nil {
		addr = a.String()
	}
	return "http://" + addr + "/stream.mpeg"
}

// Kickstart loads the manifest once, starts the producer and waits until it
// listens for the client. A nil error means the relay is ready to accept
// its client at StreamURL. Failures after Kickstart returns are not
// reported to the caller; they end the stream.
func (r *Relay) Kickstart(ctx context.Context) error {
	if r.started.Swap(true) {
		return ErrAlreadyStarted
	}
	r.log.Info("preflight", slog.String("manifest_url", r.loader.URL()))

	if !r.loader.Load(ctx) {
		r.abortKickstart(ErrManifestUnavailable, false)
		return ErrManifestUnavailable
	}

	r.producerReady.Clear()
	go r.produce()

	t := time.NewTimer(r.cfg.ProducerReadyTimeout)
	defer t.Stop()
	select {
	case <-r.listening:
		r.log.Info("relay ready", slog.String("stream_url", r.StreamURL()))
		return nil
	case <-r.producerExited:
		err := r.Err()
		if err == nil {
			err = ErrProducerExited
		}
		return err
	case <-t.C:
		r.abortKickstart(ErrProducerTimeout, true)
		return ErrProducerTimeout
	case <-ctx.Done():
		r.abortKickstart(ctx.Err(), true)
		return ctx.Err()
	}
}

// abortKickstart tears down a relay whose kickstart failed. A running
// producer notices the cancelled context or the closed listener and exits.
func (r *Relay) abortKickstart(err error, producerStarted bool) {
	r.log.Error("kickstart failed", slog.String("error", err.Error()))
	r.metrics.IncRelayFailures("kickstart")
	r.setErr(err)
	r.endOfStream.Store(true)
	r.cancel()
	r.closeListener()
	if !producerStarted {
		r.finish()
	}
}

// Close stops the relay: the listener and the client connection are closed
// and both tasks exit. It does not wait for them; use Done. Close on a relay
// that was never kickstarted releases Done immediately.
func (r *Relay) Close() {
	r.endOfStream.Store(true)
	r.cancel()
	r.mu.Lock()
	if r.ln != nil {
		_ = r.ln.Close()
	}
	if r.conn != nil {
		_ = r.conn.Close()
	}
	r.mu.Unlock()
	if !r.started.Swap(true) {
		r.finish()
	}
}

func (r *Relay) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
}

func (r *Relay) closeListener() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ln != nil {
		_ = r.ln.Close()
	}
}

// finish records the terminal state and releases Done.
func (r *Relay) finish() {
	if r.Err() != nil {
		r.state.Store(int32(StateFailed))
	} else {
		r.state.Store(int32(StateFinished))
	}
	r.cancel()
	close(r.done)
}
