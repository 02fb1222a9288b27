package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/soheilhy/cmux"
	"golang.org/x/sync/errgroup"

	"github.com/rapidaai/hootenanny/internal/bus"
	"github.com/rapidaai/hootenanny/internal/config"
	"github.com/rapidaai/hootenanny/internal/envelope"
	"github.com/rapidaai/hootenanny/internal/hoot"
	"github.com/rapidaai/hootenanny/pkg/commons"
)

// ToolHandler services one Shell or Query request and returns the envelope
// to send back. Handlers never panic in practice, but a panic is still
// recovered into an Internal error reply rather than dropping the request.
type ToolHandler func(ctx context.Context, frame hoot.Frame) envelope.Envelope

// ControlHandler services one authenticated Control command.
type ControlHandler func(ctx context.Context, payload json.RawMessage) envelope.Envelope

// ControlRequest is the JSON body carried by every Control-channel frame:
// the bearer token travels in the body since HOOT frames have no dedicated
// auth segment.
type ControlRequest struct {
	Token   string          `json:"token"`
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type inboundRequest struct {
	conn  net.Conn
	frame hoot.Frame
}

const channelBufferSize = 64

// Server is the five-channel HOOT broker: Shell and Query share a cmux'd
// listener with Control (discriminated by a leading byte), Heartbeat and
// IOPub each get their own. One goroutine dispatches Control/Shell/
// Heartbeat/Query requests in strict priority order onto the single-
// threaded garden; IOPub streams the bus independently of that loop.
type Server struct {
	logger commons.Logger
	bus    *bus.Bus
	auth   *controlAuth

	state *stateHolder

	toolsMu         sync.RWMutex
	tools           map[string]ToolHandler
	controlHandlers map[string]ControlHandler

	shellCh     chan inboundRequest
	controlCh   chan inboundRequest
	heartbeatCh chan inboundRequest
	queryCh     chan inboundRequest

	listeners []net.Listener
	stopped   chan struct{}
}

func NewServer(logger commons.Logger, eventBus *bus.Bus, controlToken string) *Server {
	return &Server{
		logger:          logger,
		bus:             eventBus,
		auth:            newControlAuth(controlToken),
		state:           newStateHolder(),
		tools:           make(map[string]ToolHandler),
		controlHandlers: make(map[string]ControlHandler),
		shellCh:         make(chan inboundRequest, channelBufferSize),
		controlCh:       make(chan inboundRequest, channelBufferSize),
		heartbeatCh:     make(chan inboundRequest, channelBufferSize),
		queryCh:         make(chan inboundRequest, channelBufferSize),
		stopped:         make(chan struct{}),
	}
}

// RegisterTool binds a Shell/Query service name to its handler. Query-only
// tools (read-only, e.g. get_snapshot) are still registered here; whether a
// call arrives over Shell or Query only changes which priority lane it
// travels in, not which handler answers it.
func (s *Server) RegisterTool(service string, handler ToolHandler) {
	s.toolsMu.Lock()
	defer s.toolsMu.Unlock()
	s.tools[service] = handler
}

// RegisterControl binds an admin-plane command name (e.g. emergency_pause)
// to its handler. "shutdown" itself is reserved and handled directly by the
// server.
func (s *Server) RegisterControl(command string, handler ControlHandler) {
	s.toolsMu.Lock()
	defer s.toolsMu.Unlock()
	s.controlHandlers[command] = handler
}

// Serve binds all five channel listeners and runs the dispatch loop until
// ctx is cancelled or a Control::shutdown is received. It blocks until the
// broker has fully drained in-flight requests.
func (s *Server) Serve(ctx context.Context, endpoints config.BrokerEndpoints) error {
	rawListener, err := listenUnix(endpoints.Shell)
	if err != nil {
		return err
	}
	m := cmux.New(rawListener)
	controlL := m.Match(cmux.PrefixMatcher(discriminatorControl))
	queryL := m.Match(cmux.PrefixMatcher(discriminatorQuery))
	shellL := m.Match(cmux.Any())

	heartbeatL, err := listenUnix(endpoints.Heartbeat)
	if err != nil {
		return err
	}
	iopubL, err := listenUnix(endpoints.IOPub)
	if err != nil {
		return err
	}

	s.listeners = []net.Listener{rawListener, heartbeatL, iopubL}

	var eg errgroup.Group
	eg.Go(func() error { return m.Serve() })
	eg.Go(func() error { s.acceptLoop(shellL, s.shellCh, 0); return nil })
	eg.Go(func() error { s.acceptLoop(controlL, s.controlCh, len(discriminatorControl)); return nil })
	eg.Go(func() error { s.acceptLoop(queryL, s.queryCh, len(discriminatorQuery)); return nil })
	eg.Go(func() error { s.acceptLoop(heartbeatL, s.heartbeatCh, 0); return nil })
	eg.Go(func() error { s.serveIOPub(iopubL); return nil })

	s.transitionState(StateIdle)
	s.dispatch(ctx)

	// dispatch only returns once drainAndExit (or a ctx cancellation) has
	// closed every listener, so the channel goroutines above are already
	// unwinding; Wait just joins them. cmux/net return expected "use of
	// closed network connection" errors on a deliberate shutdown, which
	// aren't worth surfacing as a Serve failure.
	for _, l := range s.listeners {
		l.Close()
	}
	if err := eg.Wait(); err != nil {
		s.logger.Debugw("channel goroutine exited", "error", err)
	}
	return nil
}

func (s *Server) acceptLoop(l net.Listener, ch chan inboundRequest, prefixLen int) {
	for {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		go s.readOneFrame(conn, ch, prefixLen)
	}
}

// readOneFrame reads a single request frame per connection. Each client
// call opens, writes, reads its reply, and closes — there is no persistent
// multiplexed session, which keeps the Go-native transport's framing
// trivial at the cost of a fresh unix-socket dial per call. cmux replays
// the bytes it sniffed, so the first prefixLen bytes (the Control/Query
// discriminator) are dropped before the frame is parsed.
func (s *Server) readOneFrame(conn net.Conn, ch chan inboundRequest, prefixLen int) {
	if prefixLen > 0 {
		if _, err := io.ReadFull(conn, make([]byte, prefixLen)); err != nil {
			s.logger.Debugw("failed reading channel discriminator", "error", err)
			conn.Close()
			return
		}
	}
	frame, err := hoot.ReadFrom(conn)
	if err != nil {
		s.logger.Debugw("failed reading request frame", "error", err)
		conn.Close()
		return
	}
	ch <- inboundRequest{conn: conn, frame: frame}
}

func (s *Server) dispatch(ctx context.Context) {
	defer close(s.stopped)
	for {
		// Control is serviced ahead of everything else whenever it's
		// ready, even if Shell/Heartbeat/Query also have work queued.
		select {
		case req := <-s.controlCh:
			if s.handleControl(ctx, req) {
				s.drainAndExit()
				return
			}
			continue
		default:
		}

		select {
		case req := <-s.controlCh:
			if s.handleControl(ctx, req) {
				s.drainAndExit()
				return
			}
		case req := <-s.shellCh:
			s.handleShell(ctx, req)
		case req := <-s.heartbeatCh:
			s.handleHeartbeat(req)
		case req := <-s.queryCh:
			s.handleQuery(ctx, req)
		case <-ctx.Done():
			s.drainAndExit()
			return
		}
	}
}

func (s *Server) handleShell(ctx context.Context, req inboundRequest) {
	s.transitionState(StateBusy)
	defer s.transitionState(StateIdle)
	s.reply(req, s.invokeTool(ctx, req.frame))
}

func (s *Server) handleQuery(ctx context.Context, req inboundRequest) {
	s.reply(req, s.invokeTool(ctx, req.frame))
}

func (s *Server) invokeTool(ctx context.Context, frame hoot.Frame) (env envelope.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("tool handler panicked", "service", frame.Service, "panic", r)
			env = envelope.ErrorEnvelope(envelope.NewInternalWithDetails("handler panicked", fmt.Sprintf("%v", r)))
		}
	}()

	s.toolsMu.RLock()
	handler, ok := s.tools[frame.Service]
	s.toolsMu.RUnlock()
	if !ok {
		return envelope.ErrorEnvelope(envelope.NewNotFound("tool", frame.Service))
	}
	return handler(ctx, frame)
}

func (s *Server) handleHeartbeat(req inboundRequest) {
	reply := req.frame.Reply(hoot.ContentTypeEmpty, nil)
	reply.Command = hoot.CommandHeartbeat
	if err := hoot.WriteTo(req.conn, reply); err != nil {
		s.logger.Debugw("heartbeat reply failed", "error", err)
	}
	req.conn.Close()
}

// handleControl services one Control frame and reports whether the broker
// should now shut down.
func (s *Server) handleControl(ctx context.Context, req inboundRequest) bool {
	var creq ControlRequest
	if err := hoot.DecodeJSON(req.frame.Body, &creq); err != nil {
		s.reply(req, envelope.ErrorEnvelope(envelope.NewValidation("malformed_control_body", err.Error())))
		return false
	}
	if err := s.auth.Validate(creq.Token); err != nil {
		s.reply(req, envelope.ErrorEnvelope(envelope.NewPermission("control", creq.Command)))
		return false
	}

	if creq.Command == "shutdown" {
		s.transitionState(StateShuttingDown)
		s.reply(req, envelope.Ack("shutting_down"))
		return true
	}

	s.transitionState(StateBusy)
	defer s.transitionState(StateIdle)

	s.toolsMu.RLock()
	handler, ok := s.controlHandlers[creq.Command]
	s.toolsMu.RUnlock()
	if !ok {
		s.reply(req, envelope.ErrorEnvelope(envelope.NewNotFound("control_command", creq.Command)))
		return false
	}
	s.reply(req, s.invokeControl(ctx, handler, creq.Payload))
	return false
}

func (s *Server) invokeControl(ctx context.Context, handler ControlHandler, payload json.RawMessage) (env envelope.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("control handler panicked", "panic", r)
			env = envelope.ErrorEnvelope(envelope.NewInternalWithDetails("handler panicked", fmt.Sprintf("%v", r)))
		}
	}()
	return handler(ctx, payload)
}

// drainAndExit closes every listener, then replies Cancelled to whatever
// shell/query requests are already queued rather than leaking their
// connections.
func (s *Server) drainAndExit() {
	for _, l := range s.listeners {
		l.Close()
	}
	for {
		select {
		case req := <-s.shellCh:
			s.reply(req, envelope.ErrorEnvelope(envelope.NewCancelled("broker shutting down")))
		case req := <-s.queryCh:
			s.reply(req, envelope.ErrorEnvelope(envelope.NewCancelled("broker shutting down")))
		default:
			return
		}
	}
}

func (s *Server) reply(req inboundRequest, env envelope.Envelope) {
	defer req.conn.Close()
	replyFrame := req.frame.Reply(hoot.ContentTypeJSON, env.ToJSON())
	if err := hoot.WriteTo(req.conn, replyFrame); err != nil {
		s.logger.Warnw("failed writing reply", "service", req.frame.Service, "error", err)
	}
}

func (s *Server) transitionState(next ExecutionState) {
	prev := s.state.set(next)
	if prev == next {
		return
	}
	s.logger.Infow("execution state transition", "from", prev.String(), "to", next.String())
	s.bus.Publish(bus.EventLog, bus.LogPayload{
		Level:   "info",
		Message: fmt.Sprintf("execution state: %s -> %s", prev, next),
	})
}

// State returns the broker's current ExecutionState.
func (s *Server) State() ExecutionState { return s.state.get() }

func (s *Server) serveIOPub(l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		go s.streamIOPub(conn)
	}
}

func (s *Server) streamIOPub(conn net.Conn) {
	defer conn.Close()
	sub := s.bus.Subscribe()
	defer sub.Unsubscribe()
	for event := range sub.Events() {
		body, err := hoot.EncodeJSON(event)
		if err != nil {
			s.logger.Warnw("failed encoding iopub event", "error", err)
			continue
		}
		frame := hoot.Frame{
			Command:     hoot.CommandReply,
			ContentType: hoot.ContentTypeJSON,
			RequestID:   uuid.New(),
			Service:     "iopub",
			Body:        body,
		}
		if err := hoot.WriteTo(conn, frame); err != nil {
			return
		}
	}
}

// Wait blocks until the dispatch loop has exited (ctx cancelled or a
// Control::shutdown was processed).
func (s *Server) Wait() { <-s.stopped }
