package relay

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"hls-relay/internal/playlist"
)

// cyclePlan is what one manifest reload asks the producer to do.
type cyclePlan struct {
	Schedule       []string
	TargetDuration int64
	HasTarget      bool
	EndList        bool
	LastSequence   int64
}

// planCycle picks the entries of m that have not been relayed yet.
//
// When the server declares a media sequence, entry i has sequence base+i and
// only sequences above lastSeq are scheduled. Without a declared sequence,
// or when the newest sequence falls behind lastSeq (the server restarted
// numbering), entries are compared by MRL against the previous cycle and
// tracking restarts from the newest sequence of m. lastSeq is -1 before the
// first declared sequence has been seen.
func planCycle(m *playlist.Manifest, prev map[string]struct{}, lastSeq int64) cyclePlan {
	plan := cyclePlan{LastSequence: lastSeq}

	base, declared := m.MediaSequence()
	useSeq := declared
	if newest := base + int64(len(m.MRLs())) - 1; declared && lastSeq >= 0 && newest < lastSeq {
		useSeq = false
		plan.LastSequence = newest
	}

	i := int64(0)
	for _, rec := range m.Records {
		if rec.TargetDuration != nil {
			plan.TargetDuration = *rec.TargetDuration
			plan.HasTarget = true
		}
		if rec.EndList {
			plan.EndList = true
		}
		if !rec.IsSegment() {
			continue
		}
		seq := base + i
		i++

		if useSeq {
			if seq <= plan.LastSequence {
				continue
			}
			plan.LastSequence = seq
		} else if _, seen := prev[rec.MRL]; seen {
			continue
		}
		plan.Schedule = append(plan.Schedule, rec.MRL)
	}
	return plan
}

func mrlSet(m *playlist.Manifest) map[string]struct{} {
	set := make(map[string]struct{}, len(m.Records))
	for _, mrl := range m.MRLs() {
		set[mrl] = struct{}{}
	}
	return set
}

func (r *Relay) produce() {
	defer r.producerDone()
	r.log.Info("producer initializing")

	if err := r.followVariant(); err != nil {
		r.fail(err)
		return
	}

	conn, err := r.listenAndAccept()
	if err != nil {
		r.fail(err)
		return
	}

	r.mu.Lock()
	if r.ctx.Err() != nil {
		r.mu.Unlock()
		_ = conn.Close()
		r.fail(r.ctx.Err())
		return
	}
	r.conn = conn
	r.mu.Unlock()

	r.producerReady.Clear()
	r.consumerReady.Clear()
	r.consumerStarted.Store(true)
	go r.consume(conn)

	if !r.consumerReady.Wait(r.cfg.ConsumerReadyTimeout, r.consumerExited) {
		r.fail(ErrConsumerTimeout)
		return
	}

	r.poll()
	r.log.Info("producer exiting")
}

func (r *Relay) producerDone() {
	r.endOfStream.Store(true)
	r.queue.Close()
	r.closeListener()
	close(r.producerExited)
	if r.consumerStarted.Load() {
		<-r.consumerExited
	}
	r.finish()
}

// fail ends the producer and drops the client connection. Failures caused
// by Close or an aborted kickstart are not recorded as relay errors.
func (r *Relay) fail(err error) {
	r.endOfStream.Store(true)
	r.producerReady.Clear()
	r.mu.Lock()
	if r.conn != nil {
		_ = r.conn.Close()
	}
	r.mu.Unlock()
	if r.ctx.Err() != nil {
		r.log.Info("producer stopped", slog.String("reason", err.Error()))
		return
	}
	r.log.Error("producer terminating", slog.String("error", err.Error()))
	r.setErr(err)
	r.metrics.IncRelayFailures("producer")
}

// followVariant repoints the loader at the first variant of a master
// manifest. Media manifests are served as they are.
func (r *Relay) followVariant() error {
	first, ok := r.loader.Data().FirstSegment()
	if !ok || !first.IsVariant() {
		return nil
	}
	r.log.Info("following variant", slog.String("variant", first.MRL))
	if err := r.loader.Repoint(first.MRL); err != nil {
		return fmt.Errorf("%w: %v", ErrNoMediaManifest, err)
	}
	if !r.loader.Load(r.ctx) {
		return fmt.Errorf("%w: %s", ErrNoMediaManifest, r.loader.URL())
	}
	r.log.Debug("variant validated", slog.String("manifest_url", r.loader.URL()))
	return nil
}

// listenAndAccept binds the listener, reports readiness and waits for the
// single client. The listener is closed as soon as the client is accepted.
func (r *Relay) listenAndAccept() (net.Conn, error) {
	ln, err := net.Listen("tcp", r.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrListen, err)
	}

	r.mu.Lock()
	if err := r.ctx.Err(); err != nil {
		r.mu.Unlock()
		_ = ln.Close()
		return nil, err
	}
	r.ln = ln
	r.mu.Unlock()

	r.state.Store(int32(StateListening))
	r.producerReady.Set()
	close(r.listening)
	r.metrics.IncRelaysStarted()
	r.log.Info("listening for client", slog.String("addr", ln.Addr().String()))

	conn, err := ln.Accept()
	_ = ln.Close()
	if err != nil {
		r.producerReady.Clear()
		return nil, fmt.Errorf("%w: accept: %v", ErrListen, err)
	}
	r.log.Info("client connected", slog.String("client", conn.RemoteAddr().String()))
	return conn, nil
}

// poll reloads the manifest and queues new segments until the list ends or
// the consumer goes away.
func (r *Relay) poll() {
	r.loader.Reset()

	var (
		deadline time.Time
		prev     map[string]struct{}
		endList  bool
	)
	for !endList {
		if r.ctx.Err() != nil {
			r.log.Info("relay closed")
			return
		}
		var schedule []string
		if !time.Now().Before(deadline) && r.loader.Load(r.ctx) {
			m := r.loader.Data()
			plan := planCycle(m, prev, r.lastSequence.Load())
			r.lastSequence.Store(plan.LastSequence)
			schedule = plan.Schedule
			prev = mrlSet(m)

			if plan.EndList {
				r.log.Info("end of list, terminating after this batch")
				endList = true
			}
			if plan.HasTarget {
				deadline = time.Now().Add(time.Duration(plan.TargetDuration) * time.Second)
			} else {
				r.log.Warn("no target duration in manifest", slog.Duration("default", r.cfg.DefaultPollInterval))
				deadline = time.Now().Add(r.cfg.DefaultPollInterval)
			}
			r.log.Debug("manifest reloaded",
				slog.Int("scheduled", len(schedule)),
				slog.Int64("last_sequence", plan.LastSequence))
		} else {
			select {
			case <-time.After(r.cfg.IdlePollInterval):
			case <-r.consumerExited:
			case <-r.ctx.Done():
			}
		}

		for _, ref := range schedule {
			if !r.consumerReady.IsSet() {
				break
			}
			if err := r.push(ref); err != nil {
				r.fail(err)
				return
			}
		}

		if !r.consumerReady.IsSet() {
			r.log.Info("consumer terminated, following")
			return
		}
	}

	if r.consumerReady.IsSet() {
		r.log.Info("waiting for consumer to drain the queue")
		r.queue.WaitDrained(r.consumerExited)
	}
}

// push fetches one segment and queues it. Any failure is fatal to the
// relay; segments are never skipped.
func (r *Relay) push(ref string) error {
	segURL, err := r.loader.Resolve(ref)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSegmentFetch, err)
	}
	data, err := r.fetcher.FetchRaw(r.ctx, segURL)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSegmentFetch, ref, err)
	}
	if err := r.queue.TryPut(data); err != nil {
		return err
	}
	r.producerReady.Set()
	r.log.Debug("segment queued", slog.String("mrl", ref), slog.Int("bytes", len(data)))
	return nil
}
