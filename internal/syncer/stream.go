package syncer

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ppiankov/boorupan/internal/sse"
)

// State is the live channel's connection state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// DefaultReconnectDelay is the fixed wait before a reconnect attempt.
const DefaultReconnectDelay = 5 * time.Second

const readChunk = 4096

// Dialer opens the event stream.
type Dialer func(ctx context.Context) (io.ReadCloser, error)

// Handler receives decoded events in arrival order.
type Handler func(ctx context.Context, ev sse.Event)

// Timer is the part of *time.Timer the stream needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it via StdAfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

// StdAfterFunc wraps time.AfterFunc.
func StdAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// StreamConfig configures a Stream.
type StreamConfig struct {
	Dial      Dialer
	Handle    Handler
	Active    func() bool
	Delay     time.Duration
	AfterFunc AfterFunc
	Logger    logrus.FieldLogger
}

// Stream keeps one live connection open. Every Open bumps the generation;
// work belonging to an older generation is dropped.
type Stream struct {
	dial      Dialer
	handle    Handler
	active    func() bool
	delay     time.Duration
	afterFunc AfterFunc
	log       logrus.FieldLogger

	mu     sync.Mutex
	state  State
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc
	body   io.ReadCloser
	timer  Timer
	wg     sync.WaitGroup
}

// NewStream validates cfg and returns a disconnected stream.
func NewStream(cfg StreamConfig) (*Stream, error) {
	if cfg.Dial == nil {
		return nil, errors.New("stream: dialer is required")
	}
	if cfg.Handle == nil {
		return nil, errors.New("stream: handler is required")
	}
	s := &Stream{
		dial:      cfg.Dial,
		handle:    cfg.Handle,
		active:    cfg.Active,
		delay:     cfg.Delay,
		afterFunc: cfg.AfterFunc,
		log:       cfg.Logger,
	}
	if s.active == nil {
		s.active = func() bool { return true }
	}
	if s.delay <= 0 {
		s.delay = DefaultReconnectDelay
	}
	if s.afterFunc == nil {
		s.afterFunc = StdAfterFunc
	}
	if s.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		s.log = l
	}
	s.log = s.log.WithField("component", "stream")
	return s, nil
}

// State returns the current connection state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Generation returns the current generation number.
func (s *Stream) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Open supersedes any previous connection and starts a new one. It is a
// no-op when there is no active session. ctx bounds every connection made
// from this call, reconnects included.
func (s *Stream) Open(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openLocked(ctx)
}

func (s *Stream) openLocked(ctx context.Context) {
	s.gen++
	s.teardownLocked()
	if !s.active() {
		s.state = Disconnected
		return
	}
	connCtx, cancel := context.WithCancel(ctx)
	s.ctx = ctx
	s.cancel = cancel
	s.state = Connecting

	gen := s.gen
	log := s.log.WithFields(logrus.Fields{"conn": uuid.NewString(), "generation": gen})
	s.wg.Add(1)
	go s.run(connCtx, gen, log)
}

// Close ends the connection and cancels any pending reconnect.
func (s *Stream) Close() {
	s.mu.Lock()
	s.gen++
	s.teardownLocked()
	s.state = Disconnected
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Stream) teardownLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.body != nil {
		_ = s.body.Close()
		s.body = nil
	}
}

func (s *Stream) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

func (s *Stream) run(ctx context.Context, gen uint64, log logrus.FieldLogger) {
	defer s.wg.Done()

	body, err := s.dial(ctx)
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		if body != nil {
			_ = body.Close()
		}
		return
	}
	if err != nil {
		log.WithError(err).Warn("stream connect failed")
		s.scheduleLocked(gen)
		s.mu.Unlock()
		return
	}
	s.body = body
	s.state = Connected
	s.mu.Unlock()
	log.Info("stream connected")

	var dec sse.Decoder
	buf := make([]byte, readChunk)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			for _, ev := range dec.Feed(buf[:n]) {
				if !s.current(gen) {
					return
				}
				s.handle(ctx, ev)
			}
		}
		if rerr != nil {
			if !errors.Is(rerr, io.EOF) && ctx.Err() == nil {
				log.WithError(rerr).Warn("stream read failed")
			}
			break
		}
	}
	_ = body.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}
	s.body = nil
	log.Info("stream ended")
	s.scheduleLocked(gen)
}

// scheduleLocked arranges exactly one reconnect for gen.
func (s *Stream) scheduleLocked(gen uint64) {
	if !s.active() {
		s.state = Disconnected
		return
	}
	s.state = Reconnecting
	s.timer = s.afterFunc(s.delay, func() { s.reconnect(gen) })
}

func (s *Stream) reconnect(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		s.log.WithField("generation", gen).Debug("stale reconnect skipped")
		return
	}
	s.timer = nil
	if s.ctx == nil || s.ctx.Err() != nil {
		s.state = Disconnected
		return
	}
	s.openLocked(s.ctx)
}
