package relay

import (
	"log/slog"
	"net"
	"time"
)

func (r *Relay) consume(conn net.Conn) {
	log := r.log.With(slog.String("client", conn.RemoteAddr().String()))
	defer func() {
		r.consumerReady.Clear()
		_ = conn.Close()
		close(r.consumerExited)
		log.Info("consumer exiting")
	}()

	buf := make([]byte, maxRequestBytes)
	_ = conn.SetReadDeadline(time.Now().Add(r.cfg.RequestTimeout))
	n, err := conn.Read(buf)
	if err != nil {
		r.socketFailed(log, "reading client request", err)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})
	log.Debug("client request discarded", slog.Int("bytes", n))

	r.consumerReady.Set()
	if !r.producerReady.Wait(r.cfg.FirstSegmentTimeout, r.producerExited) {
		select {
		case <-r.producerExited:
			log.Info("producer exited before the first segment")
		default:
			log.Error("no segment from producer", slog.Duration("timeout", r.cfg.FirstSegmentTimeout))
			r.setErr(ErrFirstSegmentTimeout)
			r.metrics.IncRelayFailures("consumer")
		}
		return
	}

	data, ok := r.queue.Get()
	if !ok {
		log.Warn("stream ended before the first segment")
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(r.cfg.RequestTimeout))
	bufs := net.Buffers{[]byte(streamHeader), data}
	_, err = bufs.WriteTo(conn)
	r.queue.Done()
	if err != nil {
		r.socketFailed(log, "writing first segment", err)
		return
	}
	r.metrics.AddSegmentRelayed(len(data))
	r.state.Store(int32(StateStreaming))
	log.Info("streaming", slog.Duration("write_timeout", r.cfg.WriteTimeout))

	for {
		if !r.producerReady.IsSet() && r.queue.Len() == 0 {
			log.Info("producer terminated, joining")
			return
		}
		data, ok := r.queue.Get()
		if !ok {
			log.Info("end of stream")
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(r.cfg.WriteTimeout))
		_, err := conn.Write(data)
		r.queue.Done()
		if err != nil {
			r.socketFailed(log, "client write failed", err)
			return
		}
		r.metrics.AddSegmentRelayed(len(data))
	}
}

// socketFailed logs a read or write error on the client connection. The
// client hanging up ends the stream without a relay error; errors after the
// producer already ended the stream are not counted again.
func (r *Relay) socketFailed(log *slog.Logger, msg string, err error) {
	if r.ctx.Err() != nil || r.endOfStream.Load() {
		log.Info(msg, slog.String("error", err.Error()))
		return
	}
	log.Warn(msg, slog.String("error", err.Error()))
	r.metrics.IncRelayFailures("consumer")
}
