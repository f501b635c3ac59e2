package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/danthegoodman1/trackguard/internal/classify"
	"github.com/danthegoodman1/trackguard/internal/metrics"
	"github.com/danthegoodman1/trackguard/internal/store"
	"github.com/danthegoodman1/trackguard/internal/trackers"
)

var (
	ErrAlreadyRunning = errors.New("filter loop already started")
	ErrChannelFailed  = errors.New("tunnel channel failed")
)

// Recorder accepts blocked events without blocking the caller.
type Recorder interface {
	Record(e store.Event) error
}

type LoopConfig struct {
	BufferSize int
	// IdleBackoff is slept after a zero-length read.
	IdleBackoff time.Duration
	SessionID   string
	Metrics     *metrics.Metrics
}

// Loop reads packets from a tunnel channel, drops those addressed to
// trackers and writes everything else back unchanged, in read order.
type Loop struct {
	channel     io.ReadWriteCloser
	index       *trackers.Index
	sink        Recorder
	bufSize     int
	idleBackoff time.Duration
	sessionID   string
	metrics     *metrics.Metrics
	logger      zerolog.Logger

	started   atomic.Bool
	running   atomic.Bool
	stopping  atomic.Bool
	closeOnce sync.Once
}

func NewLoop(channel io.ReadWriteCloser, index *trackers.Index, sink Recorder, cfg LoopConfig, logger zerolog.Logger) *Loop {
	bufSize := cfg.BufferSize
	if bufSize <= 0 {
		bufSize = 32767
	}
	return &Loop{
		channel:     channel,
		index:       index,
		sink:        sink,
		bufSize:     bufSize,
		idleBackoff: cfg.IdleBackoff,
		sessionID:   cfg.SessionID,
		metrics:     cfg.Metrics,
		logger:      logger.With().Str("component", "loop").Logger(),
	}
}

func (l *Loop) Running() bool {
	return l.running.Load()
}

// Run processes packets until Stop is called, ctx is done, or the channel
// fails. A failure while running is returned wrapped in ErrChannelFailed; a
// failure caused by Stop is not an error. A Loop can only be run once.
func (l *Loop) Run(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	l.running.Store(true)
	l.metrics.SetRunning(true)
	defer l.metrics.SetRunning(false)
	defer l.running.Store(false)

	stop := context.AfterFunc(ctx, l.Stop)
	defer stop()

	l.logger.Info().Int("buffer_size", l.bufSize).Msg("filter loop started")
	defer l.logger.Info().Msg("filter loop stopped")

	buf := make([]byte, l.bufSize)
	for !l.stopping.Load() {
		n, err := l.channel.Read(buf)
		if n > 0 {
			if werr := l.process(buf[:n]); werr != nil {
				return l.fail("writing packet", werr)
			}
		}
		if err != nil {
			return l.fail("reading packet", err)
		}
		if n <= 0 {
			l.idle(ctx)
		}
	}
	return nil
}

// Stop flips the loop to stopped and closes the channel, which unblocks a
// pending read. It does not wait for queued events to be persisted.
func (l *Loop) Stop() {
	l.stopping.Store(true)
	l.running.Store(false)
	l.closeChannel()
}

func (l *Loop) process(pkt []byte) error {
	d, ok := classify.Classify(pkt)
	if !ok {
		l.metrics.Unclassified()
		return l.forward(pkt)
	}

	t, hit := l.index.View().Match(d.Dst, d.Domain)
	if !hit {
		return l.forward(pkt)
	}

	l.metrics.Dropped()
	l.logger.Debug().
		Str("target", d.Target()).
		Str("protocol", d.Protocol.String()).
		Str("tracker", t.ID).
		Msg("blocked packet")

	err := l.sink.Record(store.Event{
		Timestamp:  time.Now(),
		Domain:     d.Domain,
		IPAddress:  d.Dst.String(),
		PacketType: d.Protocol.String(),
		Blocked:    true,
		SessionID:  l.sessionID,
	})
	if err != nil && !errors.Is(err, ErrQueueFull) {
		l.logger.Debug().Err(err).Msg("event not recorded")
	}
	return nil
}

func (l *Loop) forward(pkt []byte) error {
	n, err := l.channel.Write(pkt)
	if err != nil {
		return err
	}
	if n != len(pkt) {
		return io.ErrShortWrite
	}
	l.metrics.Forwarded()
	return nil
}

func (l *Loop) idle(ctx context.Context) {
	if l.idleBackoff <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(l.idleBackoff):
	}
}

func (l *Loop) fail(op string, err error) error {
	if l.stopping.Load() {
		l.logger.Debug().Err(err).Str("op", op).Msg("channel closed after stop")
		return nil
	}
	l.running.Store(false)
	l.closeChannel()
	l.logger.Error().Err(err).Str("op", op).Msg("channel failed")
	return fmt.Errorf("%w: %s: %w", ErrChannelFailed, op, err)
}

func (l *Loop) closeChannel() {
	l.closeOnce.Do(func() {
		if err := l.channel.Close(); err != nil {
			l.logger.Debug().Err(err).Msg("error closing channel")
		}
	})
}
