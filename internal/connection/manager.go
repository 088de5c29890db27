package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/eleven-am/voice-client/internal/events"
	"github.com/eleven-am/voice-client/internal/observability"
	"github.com/eleven-am/voice-client/internal/protocol"
	"github.com/eleven-am/voice-client/internal/shared"
	"github.com/eleven-am/voice-client/internal/transport"
)

// State is the connection lifecycle state, owned exclusively by the Manager.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// defaultToken keeps the Authorization header present for endpoints that
// require it without validating it.
const defaultToken = "test-token"

const defaultHeartbeatInterval = 15 * time.Second

var errHalfOpen = errors.New("transport half-open")

type Config struct {
	URL      string
	Token    string
	DeviceID string

	AudioParams       protocol.AudioParams
	HeartbeatInterval time.Duration
	Backoff           shared.BackoffConfig
}

func normalizeConfig(cfg Config) Config {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.AudioParams == (protocol.AudioParams{}) {
		cfg.AudioParams = protocol.DefaultAudioParams()
	}
	cfg.Backoff = shared.NormalizeBackoff(cfg.Backoff)
	return cfg
}

// Sink receives everything the manager produces: lifecycle and decoded
// protocol events in wire arrival order, plus negotiated session ids.
type Sink interface {
	HandleEvent(evt events.Event)
	HandleSessionID(id string)
}

// Manager owns at most one live transport at a time and drives connect,
// heartbeat and the reconnect backoff loop.
type Manager struct {
	cfg     Config
	dialer  transport.Dialer
	decoder *protocol.Decoder
	sink    Sink
	metrics *observability.Metrics
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu               sync.Mutex
	state            State
	conn             transport.Conn
	gen              uint64
	currentDelay     time.Duration
	reconnectEnabled bool
	reconnectPending bool
	heartbeatCancel  context.CancelFunc
}

func NewManager(cfg Config, dialer transport.Dialer, sink Sink, metrics *observability.Metrics, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	cfg = normalizeConfig(cfg)
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		cfg:              cfg,
		dialer:           dialer,
		decoder:          protocol.NewDecoder(log),
		sink:             sink,
		metrics:          metrics,
		log:              log.With("device_id", cfg.DeviceID),
		ctx:              ctx,
		cancel:           cancel,
		currentDelay:     cfg.Backoff.Initial,
		reconnectEnabled: true,
	}
}

// Connect is idempotent: a call while Connected with a live transport
// returns immediately, and a call while another attempt is in flight is a
// no-op. A stale, non-open transport is torn down before dialing. Dial
// errors propagate to the caller.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateConnected && m.conn != nil && m.conn.IsOpen() {
		m.mu.Unlock()
		return nil
	}
	if m.state == StateConnecting {
		m.mu.Unlock()
		return nil
	}
	if m.conn != nil {
		m.log.Debug("tearing down stale transport before connect")
		_ = m.conn.Close(transport.CloseNormal, "reconnecting")
		m.conn = nil
	}
	m.state = StateConnecting
	m.gen++
	gen := m.gen
	m.mu.Unlock()
	m.metrics.SetConnectionState(float64(StateConnecting))

	conn, err := m.dialer.Dial(ctx, m.cfg.URL, m.headers(), transport.Handler{
		OnText:   func(data []byte) { m.handleText(gen, data) },
		OnBinary: func(data []byte) { m.handleBinary(gen, data) },
		OnClose:  func(err error) { m.handleClose(gen, err) },
	})
	if err != nil {
		m.mu.Lock()
		m.state = StateDisconnected
		m.mu.Unlock()
		m.metrics.SetConnectionState(float64(StateDisconnected))
		return fmt.Errorf("connect: %w", err)
	}

	m.mu.Lock()
	if gen != m.gen {
		// Torn down (explicit disconnect or close) while the dial was in
		// flight; do not install the orphaned transport.
		m.mu.Unlock()
		_ = conn.Close(transport.CloseNormal, "superseded")
		return fmt.Errorf("connect: %w", shared.ErrNotConnected)
	}
	m.conn = conn
	m.state = StateConnected
	m.currentDelay = m.cfg.Backoff.Initial
	m.startHeartbeatLocked()
	m.mu.Unlock()

	m.metrics.SetConnectionState(float64(StateConnected))
	m.log.Info("connected", "url", m.cfg.URL)
	m.publish(events.Signal(events.KindConnected))
	m.sendHello(conn)
	return nil
}

// Disconnect closes the transport with a normal-closure code. Reconnection
// is suppressed for this close only.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	// Bump the generation so the read pump's close callback is ignored.
	m.gen++
	conn := m.conn
	m.conn = nil
	wasConnected := m.state == StateConnected
	m.state = StateDisconnected
	m.stopHeartbeatLocked()
	m.mu.Unlock()

	m.metrics.SetConnectionState(float64(StateDisconnected))

	var err error
	if conn != nil {
		err = conn.Close(transport.CloseNormal, "client disconnect")
	}
	if wasConnected {
		m.publish(events.Signal(events.KindDisconnected))
	}
	return err
}

// SendText writes one control frame. When not connected it logs and drops;
// transport errors never reach the caller.
func (m *Manager) SendText(data []byte) {
	conn, ok := m.liveConn()
	if !ok {
		m.log.Warn("dropping text frame, not connected")
		return
	}
	if err := conn.SendText(data); err != nil {
		m.log.Warn("text send failed", "error", err)
		return
	}
	m.metrics.CountFrame("out", "text")
}

// SendFrame marshals and sends one control frame.
func (m *Manager) SendFrame(frame protocol.ClientFrame) {
	data, err := frame.Marshal()
	if err != nil {
		m.log.Error("frame marshal failed", "type", frame.Type, "error", err)
		return
	}
	m.SendText(data)
}

// SendBinary writes one raw audio frame, with the same drop semantics as
// SendText.
func (m *Manager) SendBinary(data []byte) {
	conn, ok := m.liveConn()
	if !ok {
		m.log.Warn("dropping binary frame, not connected")
		return
	}
	if err := conn.SendBinary(data); err != nil {
		m.log.Warn("binary send failed", "error", err)
		return
	}
	m.metrics.CountFrame("out", "binary")
}

func (m *Manager) liveConn() (transport.Conn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected || m.conn == nil {
		return nil, false
	}
	return m.conn, true
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnected && m.conn != nil && m.conn.IsOpen()
}

// CurrentBackoff reports the delay the next reconnect attempt would use.
func (m *Manager) CurrentBackoff() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentDelay
}

// SetReconnect toggles automatic reconnection after transport loss.
func (m *Manager) SetReconnect(enabled bool) {
	m.mu.Lock()
	m.reconnectEnabled = enabled
	m.mu.Unlock()
}

// Close cancels the heartbeat and any pending reconnect, then closes the
// transport. The manager is not reusable afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.reconnectEnabled = false
	m.mu.Unlock()
	m.cancel()
	return m.Disconnect()
}

func (m *Manager) headers() http.Header {
	h := http.Header{}
	h.Set("device-id", m.cfg.DeviceID)
	h.Set("client-id", m.cfg.DeviceID)
	h.Set("protocol-version", "1")
	token := m.cfg.Token
	if token == "" {
		token = defaultToken
	}
	h.Set("Authorization", "Bearer "+token)
	return h
}

func (m *Manager) sendHello(conn transport.Conn) {
	data, err := protocol.Hello(m.cfg.AudioParams).Marshal()
	if err != nil {
		m.log.Error("hello marshal failed", "error", err)
		return
	}
	if err := conn.SendText(data); err != nil {
		m.log.Warn("hello send failed", "error", err)
		return
	}
	m.metrics.CountFrame("out", "text")
}

func (m *Manager) handleText(gen uint64, data []byte) {
	if m.stale(gen) {
		return
	}
	m.metrics.CountFrame("in", "text")
	result := m.decoder.DecodeText(data)
	if result.SessionID != "" {
		m.sink.HandleSessionID(result.SessionID)
	}
	if result.Event != nil {
		m.publish(*result.Event)
	}
}

func (m *Manager) handleBinary(gen uint64, data []byte) {
	if m.stale(gen) {
		return
	}
	m.metrics.CountFrame("in", "binary")
	m.publish(m.decoder.DecodeBinary(data))
}

func (m *Manager) stale(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen != m.gen
}

// handleClose runs for any transport loss: close, failure, heartbeat send
// error, or half-open detection.
func (m *Manager) handleClose(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.gen++
	m.conn = nil
	m.state = StateDisconnected
	m.stopHeartbeatLocked()
	shouldReconnect := m.reconnectEnabled
	m.mu.Unlock()

	m.metrics.SetConnectionState(float64(StateDisconnected))
	m.log.Info("transport lost", "error", err)
	m.publish(events.Signal(events.KindDisconnected))

	if shouldReconnect {
		m.scheduleReconnect()
	}
}

// scheduleReconnect arranges a single pending attempt after the current
// delay; attempts are never stacked.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.reconnectPending || !m.reconnectEnabled {
		m.mu.Unlock()
		return
	}
	m.reconnectPending = true
	delay := m.currentDelay
	m.mu.Unlock()

	m.log.Info("scheduling reconnect", "delay", delay)
	go m.reconnectAfter(delay)
}

func (m *Manager) reconnectAfter(delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-m.ctx.Done():
		m.mu.Lock()
		m.reconnectPending = false
		m.mu.Unlock()
		return
	case <-timer.C:
	}

	m.mu.Lock()
	m.reconnectPending = false
	enabled := m.reconnectEnabled
	alreadyConnected := m.state == StateConnected && m.conn != nil && m.conn.IsOpen()
	m.mu.Unlock()
	if !enabled || alreadyConnected {
		return
	}

	m.metrics.IncReconnect()
	if err := m.Connect(m.ctx); err != nil {
		m.mu.Lock()
		m.currentDelay = shared.MinDuration(m.currentDelay*2, m.cfg.Backoff.MaxDelay)
		next := m.currentDelay
		m.mu.Unlock()
		m.log.Warn("reconnect attempt failed", "error", err, "next_delay", next)
		m.scheduleReconnect()
	}
}

func (m *Manager) startHeartbeatLocked() {
	if m.heartbeatCancel != nil {
		m.heartbeatCancel()
	}
	hbCtx, cancel := context.WithCancel(m.ctx)
	m.heartbeatCancel = cancel
	gen := m.gen
	go m.heartbeatLoop(hbCtx, gen)
}

func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeatCancel != nil {
		m.heartbeatCancel()
		m.heartbeatCancel = nil
	}
}

func (m *Manager) heartbeatLoop(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sendPing(gen)
		}
	}
}

// sendPing writes one heartbeat frame. A send failure, or a transport that
// is present but no longer open, means the socket is dead even if the
// transport has not reported it; both run the disconnect path.
func (m *Manager) sendPing(gen uint64) {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == StateConnected && gen == m.gen
	m.mu.Unlock()
	if !connected || conn == nil {
		return
	}

	if !conn.IsOpen() {
		m.log.Warn("heartbeat found half-open transport")
		m.handleClose(gen, errHalfOpen)
		return
	}

	data, err := protocol.Ping(time.Now()).Marshal()
	if err != nil {
		m.log.Error("ping marshal failed", "error", err)
		return
	}
	if err := conn.SendText(data); err != nil {
		m.log.Warn("heartbeat send failed", "error", err)
		m.handleClose(gen, err)
		return
	}
	m.metrics.IncHeartbeat()
	m.metrics.CountFrame("out", "text")
}

func (m *Manager) publish(evt events.Event) {
	m.metrics.CountEvent(string(evt.Kind))
	m.sink.HandleEvent(evt)
}
