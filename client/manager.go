package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/anjiri1684/chat_core/websocket"
	fastws "github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type State int

const (
	StateConnecting State = iota
	StateConnected
	StateReconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	ErrNotConnected       = errors.New("not connected")
	ErrConnectionLost     = errors.New("connection lost")
	ErrAuthRejected       = errors.New("authentication rejected")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// InvocationError is a failure reported by the server in a Completion.
type InvocationError struct {
	Code    string
	Message string
}

func (e *InvocationError) Error() string { return e.Code + ": " + e.Message }

type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

type wsDialer struct {
	d *fastws.Dialer
}

// NewDialer dials with the fasthttp websocket client.
func NewDialer(handshakeTimeout time.Duration) Dialer {
	return &wsDialer{d: &fastws.Dialer{HandshakeTimeout: handshakeTimeout}}
}

func (w *wsDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := w.d.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type Options struct {
	URL string
	// Token is called on every (re)connect so expired tokens can be refreshed.
	Token             func(ctx context.Context) (string, error)
	Dialer            Dialer
	Policy            ReconnectPolicy
	HeartbeatInterval time.Duration
	Sleep             func(ctx context.Context, d time.Duration) error
	OnEvent           func(websocket.ServerFrame)
	// OnStateChange runs on the Run goroutine and must not block.
	OnStateChange func(State)
	Log           zerolog.Logger
}

type result struct {
	frame websocket.ServerFrame
	err   error
}

// Manager keeps one authenticated connection alive. Channel membership is not
// restored after a reconnect; callers re-join from OnStateChange.
type Manager struct {
	opts Options

	mu      sync.Mutex
	state   State
	conn    Conn
	cancel  context.CancelFunc
	pending map[string]chan result

	writeMu sync.Mutex
}

func NewManager(o Options) *Manager {
	if o.Dialer == nil {
		o.Dialer = NewDialer(10 * time.Second)
	}
	if o.Policy == (ReconnectPolicy{}) {
		o.Policy = DefaultReconnectPolicy()
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
	return &Manager{opts: o, pending: map[string]chan result{}}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	changed := m.state != s
	m.state = s
	m.mu.Unlock()
	if changed && m.opts.OnStateChange != nil {
		m.opts.OnStateChange(s)
	}
}

// Run connects and keeps the connection alive until ctx ends, Close is
// called, or the reconnect policy gives up. It returns nil on a requested
// shutdown.
func (m *Manager) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.state = StateConnecting
	m.cancel = cancel
	m.mu.Unlock()
	defer cancel()
	if m.opts.OnStateChange != nil {
		m.opts.OnStateChange(StateConnecting)
	}

	conn, err := m.connect(ctx)
	for {
		if err != nil {
			if ctx.Err() != nil {
				m.setState(StateDisconnected)
				return nil
			}
			if errors.Is(err, ErrAuthRejected) {
				m.setState(StateDisconnected)
				return err
			}
			m.setState(StateReconnecting)
			conn, err = m.reconnect(ctx)
			if err != nil {
				m.setState(StateDisconnected)
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}

		m.setState(StateConnected)
		err = m.serve(ctx, conn)
		m.opts.Log.Debug().Err(err).Msg("connection ended")
		if err == nil {
			err = ErrConnectionLost
		}
	}
}

func (m *Manager) reconnect(ctx context.Context) (Conn, error) {
	var lastErr error
	for attempt := 1; ; attempt++ {
		d, ok := m.opts.Policy.Delay(attempt)
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrReconnectExhausted, lastErr)
		}
		if err := m.opts.Sleep(ctx, d); err != nil {
			return nil, err
		}
		conn, err := m.connect(ctx)
		if err == nil {
			return conn, nil
		}
		if errors.Is(err, ErrAuthRejected) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		m.opts.Log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect failed")
	}
}

// connect dials and performs the auth handshake.
func (m *Manager) connect(ctx context.Context) (Conn, error) {
	token, err := m.opts.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	conn, err := m.opts.Dialer.Dial(ctx, m.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	frame, _ := json.Marshal(websocket.AuthFrame{Type: websocket.FrameAuth, Token: token})
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send auth: %w", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read auth reply: %w", err)
	}
	var reply websocket.ServerFrame
	if err := json.Unmarshal(data, &reply); err != nil || reply.Type != "Authenticated" {
		_ = conn.Close()
		return nil, ErrAuthRejected
	}
	return conn, nil
}

func (m *Manager) serve(ctx context.Context, conn Conn) error {
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	connCtx, stop := context.WithCancel(ctx)
	defer func() {
		stop()
		m.mu.Lock()
		if m.conn == conn {
			m.conn = nil
		}
		m.mu.Unlock()
		_ = conn.Close()
		m.failPending()
	}()
	go func() {
		<-connCtx.Done()
		_ = conn.Close()
	}()
	go m.heartbeat(connCtx)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		var frame websocket.ServerFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			m.opts.Log.Warn().Err(err).Msg("bad server frame")
			continue
		}
		if frame.Type == websocket.FrameCompletion {
			m.complete(frame)
			continue
		}
		if m.opts.OnEvent != nil {
			m.opts.OnEvent(frame)
		}
	}
}

func (m *Manager) heartbeat(ctx context.Context) {
	t := time.NewTicker(m.opts.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := m.Send(websocket.TargetUpdateActivity, nil); err != nil {
				m.opts.Log.Debug().Err(err).Msg("heartbeat failed")
			}
		}
	}
}

func (m *Manager) complete(frame websocket.ServerFrame) {
	m.mu.Lock()
	ch, ok := m.pending[frame.InvocationID]
	delete(m.pending, frame.InvocationID)
	m.mu.Unlock()
	if ok {
		ch <- result{frame: frame}
	}
}

func (m *Manager) failPending() {
	m.mu.Lock()
	pending := m.pending
	m.pending = map[string]chan result{}
	m.mu.Unlock()
	for _, ch := range pending {
		ch <- result{err: ErrConnectionLost}
	}
}

func (m *Manager) write(inv websocket.Invocation) error {
	data, err := json.Marshal(inv)
	if err != nil {
		return err
	}
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func encodeArgs(args any) (json.RawMessage, error) {
	if args == nil {
		return nil, nil
	}
	return json.Marshal(args)
}

// Send invokes target without waiting for a reply.
func (m *Manager) Send(target string, args any) error {
	raw, err := encodeArgs(args)
	if err != nil {
		return err
	}
	return m.write(websocket.Invocation{Type: websocket.FrameInvoke, Target: target, Arguments: raw})
}

// Invoke calls target and waits for its Completion.
func (m *Manager) Invoke(ctx context.Context, target string, args any) (json.RawMessage, error) {
	raw, err := encodeArgs(args)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	ch := make(chan result, 1)
	m.mu.Lock()
	m.pending[id] = ch
	m.mu.Unlock()

	err = m.write(websocket.Invocation{Type: websocket.FrameInvoke, Target: target, InvocationID: id, Arguments: raw})
	if err != nil {
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
		return nil, err
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		if r.frame.Error != nil {
			return nil, &InvocationError{Code: r.frame.Error.Code, Message: r.frame.Error.Message}
		}
		return r.frame.Result, nil
	case <-ctx.Done():
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Close ends Run and drops the current connection.
func (m *Manager) Close() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
