package broker

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rapidaai/hootenanny/internal/bus"
	"github.com/rapidaai/hootenanny/internal/config"
	"github.com/rapidaai/hootenanny/internal/envelope"
	"github.com/rapidaai/hootenanny/internal/hoot"
	"github.com/rapidaai/hootenanny/internal/snapshot"
)

// ConnectionState is the client's view of its own link to the broker.
type ConnectionState int32

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

// Client is the GardenManager-equivalent: a thin, reconnect-free client
// over the five HOOT channels. Every call dials its own short-lived unix
// socket connection rather than holding a persistent session, mirroring
// the one-shot-per-request transport the Server implements.
type Client struct {
	endpoints config.BrokerEndpoints
	token     string
	dialTimeout time.Duration

	state atomic.Int32

	eventsMu     sync.Mutex
	events       []bus.Event
	listenCancel context.CancelFunc
	listenDone   chan struct{}
}

func NewClient(endpoints config.BrokerEndpoints, controlToken string) *Client {
	c := &Client{endpoints: endpoints, token: controlToken, dialTimeout: 5 * time.Second}
	c.state.Store(int32(Disconnected))
	return c
}

func (c *Client) State() ConnectionState { return ConnectionState(c.state.Load()) }

// Connect verifies the broker is reachable via one heartbeat round trip.
func (c *Client) Connect(ctx context.Context) error {
	c.state.Store(int32(Connecting))
	if err := c.Ping(ctx); err != nil {
		c.state.Store(int32(Disconnected))
		return fmt.Errorf("connecting to broker: %w", err)
	}
	c.state.Store(int32(Connected))
	return nil
}

// Disconnect stops any running event listener and marks the client
// disconnected. There's no persistent socket to tear down.
func (c *Client) Disconnect() {
	c.stopEventListener()
	c.state.Store(int32(Disconnected))
}

func (c *Client) dial(ctx context.Context, endpoint string) (net.Conn, error) {
	addr := strings.TrimPrefix(endpoint, "ipc://")
	d := net.Dialer{Timeout: c.dialTimeout}
	return d.DialContext(ctx, "unix", addr)
}

func (c *Client) roundTrip(ctx context.Context, endpoint, discriminator string, frame hoot.Frame) (hoot.Frame, error) {
	conn, err := c.dial(ctx, endpoint)
	if err != nil {
		return hoot.Frame{}, err
	}
	defer conn.Close()

	if discriminator != "" {
		if _, err := conn.Write([]byte(discriminator)); err != nil {
			return hoot.Frame{}, fmt.Errorf("writing channel discriminator: %w", err)
		}
	}
	if err := hoot.WriteTo(conn, frame); err != nil {
		return hoot.Frame{}, fmt.Errorf("writing request: %w", err)
	}
	reply, err := hoot.ReadFrom(conn)
	if err != nil {
		return hoot.Frame{}, fmt.Errorf("reading reply: %w", err)
	}
	return reply, nil
}

func decodeEnvelope(frame hoot.Frame) (envelope.Envelope, error) {
	var env envelope.Envelope
	if err := hoot.DecodeJSON(frame.Body, &env); err != nil {
		return envelope.Envelope{}, fmt.Errorf("decoding reply envelope: %w", err)
	}
	return env, nil
}

// Request calls a Shell tool by service name with a JSON body.
func (c *Client) Request(ctx context.Context, service string, body []byte) (envelope.Envelope, error) {
	req := hoot.NewRequest(service, hoot.ContentTypeJSON, body)
	reply, err := c.roundTrip(ctx, c.endpoints.Shell, "", req)
	if err != nil {
		return envelope.Envelope{}, err
	}
	return decodeEnvelope(reply)
}

// Query calls a read-only tool over the Query channel.
func (c *Client) Query(ctx context.Context, service string, body []byte) (envelope.Envelope, error) {
	req := hoot.NewRequest(service, hoot.ContentTypeJSON, body)
	reply, err := c.roundTrip(ctx, c.endpoints.Shell, discriminatorQuery, req)
	if err != nil {
		return envelope.Envelope{}, err
	}
	return decodeEnvelope(reply)
}

// Control issues an authenticated admin-plane command.
func (c *Client) Control(ctx context.Context, command string, payload []byte) (envelope.Envelope, error) {
	token, err := IssueControlToken(c.token, time.Minute)
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("minting control token: %w", err)
	}
	body, err := hoot.EncodeJSON(ControlRequest{Token: token, Command: command, Payload: payload})
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("encoding control request: %w", err)
	}
	req := hoot.NewRequest("control", hoot.ContentTypeJSON, body)
	reply, err := c.roundTrip(ctx, c.endpoints.Shell, discriminatorControl, req)
	if err != nil {
		return envelope.Envelope{}, err
	}
	return decodeEnvelope(reply)
}

// Ping sends one heartbeat probe and reports whether it was answered.
func (c *Client) Ping(ctx context.Context) error {
	req := hoot.Frame{Command: hoot.CommandHeartbeat, ContentType: hoot.ContentTypeEmpty}
	_, err := c.roundTrip(ctx, c.endpoints.Heartbeat, "", req)
	return err
}

// --- convenience methods mirroring the original GardenManager surface ---

func (c *Client) Play(ctx context.Context) (envelope.Envelope, error) {
	return c.Request(ctx, "transport.play", nil)
}

func (c *Client) Pause(ctx context.Context) (envelope.Envelope, error) {
	return c.Request(ctx, "transport.pause", nil)
}

func (c *Client) Stop(ctx context.Context) (envelope.Envelope, error) {
	return c.Request(ctx, "transport.stop", nil)
}

func (c *Client) Seek(ctx context.Context, beat float64) (envelope.Envelope, error) {
	body, err := hoot.EncodeJSON(struct {
		Beat float64 `json:"beat"`
	}{Beat: beat})
	if err != nil {
		return envelope.Envelope{}, err
	}
	return c.Request(ctx, "transport.seek", body)
}

func (c *Client) SetTempo(ctx context.Context, bpm float64) (envelope.Envelope, error) {
	body, err := hoot.EncodeJSON(struct {
		BPM float64 `json:"bpm"`
	}{BPM: bpm})
	if err != nil {
		return envelope.Envelope{}, err
	}
	return c.Request(ctx, "transport.set_tempo", body)
}

func (c *Client) GetTransportState(ctx context.Context) (envelope.Envelope, error) {
	return c.Query(ctx, "transport.get_state", nil)
}

func (c *Client) EmergencyPause(ctx context.Context) (envelope.Envelope, error) {
	return c.Control(ctx, "emergency_pause", nil)
}

func (c *Client) ShutdownDaemon(ctx context.Context) (envelope.Envelope, error) {
	return c.Control(ctx, "shutdown", nil)
}

// GetSnapshot fetches and decodes the garden snapshot in one query round trip.
func (c *Client) GetSnapshot(ctx context.Context) (snapshot.Snapshot, error) {
	env, err := c.Query(ctx, "garden.get_snapshot", nil)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	if env.Kind == envelope.KindError {
		return snapshot.Snapshot{}, env.Error
	}
	var snap snapshot.Snapshot
	if err := hoot.DecodeJSON(env.Response, &snap); err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("decoding snapshot response: %w", err)
	}
	return snap, nil
}

// StartEventListener opens a persistent IOPub stream and buffers every
// event it receives until TakeEvents drains them. Safe to call once per
// client; a second call first stops the prior listener.
func (c *Client) StartEventListener(ctx context.Context) error {
	c.stopEventListener()

	conn, err := c.dial(ctx, c.endpoints.IOPub)
	if err != nil {
		return fmt.Errorf("connecting to iopub: %w", err)
	}

	listenCtx, cancel := context.WithCancel(ctx)
	c.listenCancel = cancel
	c.listenDone = make(chan struct{})

	go c.listenLoop(listenCtx, conn)
	return nil
}

func (c *Client) listenLoop(ctx context.Context, conn net.Conn) {
	defer close(c.listenDone)
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		frame, err := hoot.ReadFrom(conn)
		if err != nil {
			return
		}
		var event bus.Event
		if err := hoot.DecodeJSON(frame.Body, &event); err != nil {
			continue
		}
		c.eventsMu.Lock()
		c.events = append(c.events, event)
		c.eventsMu.Unlock()
	}
}

func (c *Client) stopEventListener() {
	if c.listenCancel == nil {
		return
	}
	c.listenCancel()
	<-c.listenDone
	c.listenCancel = nil
	c.listenDone = nil
}

// TakeEvents returns and clears every event buffered since the last call.
func (c *Client) TakeEvents() []bus.Event {
	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()
	taken := c.events
	c.events = nil
	return taken
}
