package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cory-johannsen/gamerelay/internal/config"
	"github.com/cory-johannsen/gamerelay/internal/observability"
)

// State is the run state of a Server.
type State int

const (
	// StateIdle is a server that has not entered Serve yet.
	StateIdle State = iota
	// StateRunning is a server inside its receive loop.
	StateRunning
	// StateStopped is terminal; a stopped server cannot be restarted.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// datagramWriter is the send half of the UDP socket.
type datagramWriter interface {
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
}

// Server owns the relay's UDP socket and drives the receive cycle:
// every datagram refreshes its sender in the Registry, is classified, and is
// answered, broadcast or dropped.
type Server struct {
	cfg      config.RelayConfig
	registry *Registry
	metrics  *observability.Metrics
	logger   *zap.Logger

	mu       sync.Mutex
	conn     *net.UDPConn
	writer   datagramWriter
	state    State
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewServer creates a relay server. metrics may be nil.
//
// Precondition: cfg must be valid; registry and logger must be non-nil.
// Postcondition: Returns an idle Server; call Listen then Serve.
func NewServer(cfg config.RelayConfig, registry *Registry, metrics *observability.Metrics, logger *zap.Logger) *Server {
	return &Server{
		cfg:      cfg,
		registry: registry,
		metrics:  metrics,
		logger:   logger,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Listen binds the UDP socket on the configured address.
//
// Postcondition: Returns nil with the socket bound, or a *BindError.
func (s *Server) Listen() error {
	start := time.Now()

	addr, err := net.ResolveUDPAddr("udp", s.cfg.Addr())
	if err != nil {
		return &BindError{Addr: s.cfg.Addr(), Err: err}
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return &BindError{Addr: s.cfg.Addr(), Err: err}
	}

	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		conn.Close()
		return &BindError{Addr: s.cfg.Addr(), Err: errors.New("already listening")}
	}
	s.conn = conn
	s.writer = conn
	s.mu.Unlock()

	s.logger.Info("udp relay listening",
		zap.String("addr", conn.LocalAddr().String()),
		zap.Duration("activity_window", s.cfg.ActivityWindow),
		zap.Int("workers", s.cfg.Workers),
		zap.Duration("startup", time.Since(start)),
	)
	return nil
}

// Serve runs the receive loop until ctx is cancelled, Stop is called, or a
// receive fails. Cancellation is observed between datagrams; a fan-out in
// progress, and every datagram already handed to a worker, is completed
// before the socket is closed.
//
// Precondition: Listen must have succeeded.
// Postcondition: Returns nil on cancellation or Stop, otherwise the receive
// error. The socket is closed, the state is StateStopped and Done is closed.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	if conn == nil {
		s.mu.Unlock()
		return ErrNotListening
	}
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyServing
	}
	s.state = StateRunning
	s.mu.Unlock()

	start := time.Now()
	defer func() {
		s.Stop()
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Warn("closing udp socket", zap.Error(err))
		}
		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()
		close(s.done)
		s.logger.Info("udp relay stopped", zap.Duration("uptime", time.Since(start)))
	}()

	unwatch := context.AfterFunc(ctx, s.Stop)
	defer unwatch()

	var pool *errgroup.Group
	if s.cfg.Workers > 0 {
		pool = new(errgroup.Group)
		pool.SetLimit(s.cfg.Workers)
		defer pool.Wait()
	}

	// One spare byte: a read that fills it means the datagram did not fit.
	buf := make([]byte, s.cfg.MaxDatagramSize+1)
	for {
		if ctx.Err() != nil || s.stopping() {
			return nil
		}

		n, sender, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if s.stopping() {
				return nil
			}
			s.logger.Error("receiving datagram", zap.Error(err))
			return fmt.Errorf("receiving datagram: %w", err)
		}
		sender = netip.AddrPortFrom(sender.Addr().Unmap(), sender.Port())

		if pool == nil {
			s.dispatch(sender, buf[:n])
			continue
		}
		payload := bytes.Clone(buf[:n])
		pool.Go(func() error {
			s.dispatch(sender, payload)
			return nil
		})
	}
}

// Stop ends the receive loop. A pending receive is released through an
// expired read deadline; sends keep working until Serve has drained the
// datagram in hand and closes the socket itself. A server that never entered
// Serve has its socket closed immediately. Safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.conn == nil {
			return
		}
		if s.state == StateIdle {
			if err := s.conn.Close(); err != nil {
				s.logger.Warn("closing udp socket", zap.Error(err))
			}
			return
		}
		if err := s.conn.SetReadDeadline(time.Now()); err != nil {
			s.logger.Warn("releasing udp receive", zap.Error(err))
		}
	})
}

// Done is closed once Serve has returned and the socket is closed.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Addr returns the bound local address, or empty string if not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn.LocalAddr().String()
	}
	return ""
}

// State returns the current run state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Server) stopping() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

// dispatch handles one datagram end to end.
func (s *Server) dispatch(sender netip.AddrPort, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic while handling datagram",
				zap.Stringer("sender", sender),
				zap.Any("panic", r),
				zap.StackSkip("stack", 1),
			)
		}
	}()

	s.metrics.Received()
	s.registry.Touch(sender)

	if len(payload) > s.cfg.MaxDatagramSize {
		s.metrics.Truncated()
		s.logger.Warn("dropping oversized datagram",
			zap.Stringer("sender", sender),
			zap.Int("limit", s.cfg.MaxDatagramSize),
		)
		return
	}

	action := Classify(payload)
	s.metrics.Routed(action.Kind.String())
	s.logger.Debug("datagram received",
		zap.Stringer("sender", sender),
		zap.Int("bytes", len(payload)),
		zap.Stringer("action", action.Kind),
	)

	switch action.Kind {
	case ActionReply:
		s.send(action.Payload, sender)
	case ActionBroadcast:
		s.broadcast(sender, action.Payload)
	}
}

// broadcast sends payload once to every live endpoint. A failed send is
// logged and does not stop the remaining sends.
func (s *Server) broadcast(sender netip.AddrPort, payload []byte) int {
	var excluded netip.AddrPort
	if s.cfg.ExcludeSender {
		excluded = sender
	}

	recipients, failed := 0, 0
	for ep := range s.registry.SnapshotLiveExcept(excluded, s.cfg.ActivityWindow) {
		recipients++
		if !s.send(payload, ep) {
			failed++
		}
	}
	s.metrics.FannedOut(recipients)

	if failed > 0 {
		s.logger.Warn("broadcast partially failed",
			zap.Stringer("sender", sender),
			zap.Int("recipients", recipients),
			zap.Int("failed", failed),
		)
	}
	return recipients
}

// send writes payload to one endpoint and reports whether it was accepted.
// Failures are logged and counted here.
func (s *Server) send(payload []byte, to netip.AddrPort) bool {
	_, err := s.writer.WriteToUDPAddrPort(payload, to)
	s.metrics.Sent(err)
	if err != nil {
		s.logger.Warn("sending datagram",
			zap.Stringer("to", to),
			zap.Error(err),
		)
		return false
	}
	return true
}
