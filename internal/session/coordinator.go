package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eleven-am/voice-client/internal/audio"
	"github.com/eleven-am/voice-client/internal/connection"
	"github.com/eleven-am/voice-client/internal/events"
	"github.com/eleven-am/voice-client/internal/observability"
	"github.com/eleven-am/voice-client/internal/protocol"
	"github.com/eleven-am/voice-client/internal/shared"
	"github.com/eleven-am/voice-client/internal/transport"
)

// TTSCompleted is the sentinel result of a text exchange that ended with
// the terminal TTS-stopped event.
const TTSCompleted = "TTS_COMPLETED"

const (
	defaultRequestTimeout = 30 * time.Second
	defaultSessionIDWait  = 500 * time.Millisecond
)

type Config struct {
	Connection connection.Config

	// RequestTimeout bounds a single-shot text exchange.
	RequestTimeout time.Duration

	// SessionIDWait bounds how long StartVoiceStreaming waits for the
	// hello handshake to deliver a session id.
	SessionIDWait time.Duration
}

func normalizeConfig(cfg Config) Config {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.SessionIDWait <= 0 {
		cfg.SessionIDWait = defaultSessionIDWait
	}
	return cfg
}

// Coordinator is the highest-level facade over the realtime session: it
// owns the negotiated session id, the conversation routing key, mute and
// streaming flags, and the single-flight text request pattern. Construct
// one per device identity and Dispose it when done; a disposed instance is
// not reusable.
type Coordinator struct {
	cfg     Config
	mgr     *connection.Manager
	bus     *events.Dispatcher
	device  audio.Device
	metrics *observability.Metrics
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu             sync.Mutex
	connected      bool
	muted          bool
	streaming      bool
	disposed       bool
	sessionID      string
	sessionReady   chan struct{}
	conversationID string
	streamCancel   context.CancelFunc

	recognitionCb func(text string)
}

func New(cfg Config, dialer transport.Dialer, device audio.Device, metrics *observability.Metrics, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	cfg = normalizeConfig(cfg)
	ctx, cancel := context.WithCancel(context.Background())

	c := &Coordinator{
		cfg:          cfg,
		bus:          events.NewDispatcher(log),
		device:       device,
		metrics:      metrics,
		log:          log,
		ctx:          ctx,
		cancel:       cancel,
		sessionReady: make(chan struct{}),
	}
	c.mgr = connection.NewManager(cfg.Connection, dialer, c, metrics, log)

	// Pre-warm the playback path so the first TTS sentence does not stutter.
	go func() {
		if err := device.PreInitializeAudio(); err != nil {
			log.Warn("audio pre-initialization failed", "error", err)
		}
		if err := device.InitPlayer(); err != nil {
			log.Warn("audio player init failed", "error", err)
		}
	}()

	return c
}

// Subscribe registers a listener on the session event bus. The caller owns
// the returned handle.
func (c *Coordinator) Subscribe(fn events.Listener) *events.Subscription {
	return c.bus.Subscribe(fn)
}

// SetVoiceRecognitionCallback installs a hook invoked with every STT result,
// independent of conversation routing.
func (c *Coordinator) SetVoiceRecognitionCallback(fn func(text string)) {
	c.mu.Lock()
	c.recognitionCb = fn
	c.mu.Unlock()
}

// SetCurrentConversationID binds inbound chat-visible events to a
// conversation. TextMessage and SttResult events are only forwarded while a
// conversation id is set.
func (c *Coordinator) SetCurrentConversationID(id string) {
	c.mu.Lock()
	c.conversationID = id
	c.mu.Unlock()
	c.log.Debug("current conversation set", "conversation_id", id)
}

// HandleSessionID implements connection.Sink.
func (c *Coordinator) HandleSessionID(id string) {
	c.mu.Lock()
	c.sessionID = id
	select {
	case <-c.sessionReady:
	default:
		close(c.sessionReady)
	}
	c.mu.Unlock()
	c.log.Info("session negotiated", "session_id", id)
}

// HandleEvent implements connection.Sink. Events arrive in wire order; the
// coordinator applies conversation routing and drives playback, then fans
// out on the bus.
func (c *Coordinator) HandleEvent(evt events.Event) {
	switch evt.Kind {
	case events.KindConnected:
		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()
		c.bus.Publish(evt)

	case events.KindDisconnected:
		c.mu.Lock()
		c.connected = false
		wasStreaming := c.streaming
		c.mu.Unlock()
		if wasStreaming {
			// Streaming is a sub-state of Connected; force-exit it.
			c.haltStreaming()
		}
		c.bus.Publish(evt)

	case events.KindTextMessage:
		if c.currentConversationID() == "" {
			c.log.Warn("dropping text message, no conversation bound")
			return
		}
		c.bus.Publish(evt)

	case events.KindSTTResult:
		c.mu.Lock()
		cb := c.recognitionCb
		conversation := c.conversationID
		c.mu.Unlock()
		if cb != nil && evt.Text != "" {
			cb(evt.Text)
		}
		if conversation == "" {
			c.log.Warn("dropping stt result, no conversation bound")
			return
		}
		c.bus.Publish(evt)

	case events.KindAudioData:
		go func() {
			if err := c.device.PlayOpusData(evt.Audio); err != nil {
				c.log.Warn("audio playback failed", "error", err)
			}
		}()
		c.bus.Publish(evt)

	default:
		c.bus.Publish(evt)
	}
}

// Connect establishes the session transport. When the manager is already
// connected it only resyncs the local flag.
func (c *Coordinator) Connect(ctx context.Context) error {
	if c.isDisposed() {
		return shared.ErrDisposed
	}

	if c.mgr.IsConnected() {
		c.mu.Lock()
		resync := !c.connected
		c.connected = true
		c.mu.Unlock()
		if resync {
			c.bus.Publish(events.Signal(events.KindConnected))
		}
		return nil
	}

	if err := c.mgr.Connect(ctx); err != nil {
		c.bus.Publish(events.Text(events.KindError, fmt.Sprintf("connect failed: %v", err)))
		return err
	}
	return nil
}

func (c *Coordinator) Disconnect() error {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return c.mgr.Disconnect()
}

func (c *Coordinator) ensureConnected(ctx context.Context) error {
	if c.IsConnected() {
		return nil
	}
	return c.Connect(ctx)
}

// SendTextMessage performs one single-flight text exchange: partial
// responses stream to onPartial as they arrive, a terminal TTS-stopped
// event resolves the call with TTSCompleted, an error event or the request
// timeout fails it. The transient listener is always removed on settlement.
func (c *Coordinator) SendTextMessage(ctx context.Context, text string, onPartial func(string)) (string, error) {
	if c.isDisposed() {
		return "", shared.ErrDisposed
	}
	if err := c.ensureConnected(ctx); err != nil {
		return "", err
	}

	req := newPendingRequest()
	sub := c.bus.Subscribe(func(evt events.Event) {
		switch evt.Kind {
		case events.KindTextMessage:
			if evt.Text != text && onPartial != nil {
				onPartial(evt.Text)
			}
		case events.KindTTSStarted:
			go func() {
				if err := c.device.WarmUpAudioTrack(); err != nil {
					c.log.Warn("audio track warm-up failed", "error", err)
				}
			}()
		case events.KindTTSStopped:
			req.succeed(TTSCompleted)
		case events.KindError:
			req.fail(fmt.Errorf("assistant error: %s", evt.Text))
		}
	})
	defer sub.Close()

	c.bus.Publish(events.Text(events.KindUserMessage, text))
	c.mgr.SendFrame(protocol.TextRequest(text))

	start := time.Now()
	val, err := req.wait(ctx, c.ctx.Done(), c.cfg.RequestTimeout)
	c.metrics.ObserveRequestDuration(time.Since(start))
	return val, err
}

// StartListening begins a push-to-talk capture. It fails fast with
// ErrSessionNotReady before any wire frame or capture start when no session
// id has been negotiated.
func (c *Coordinator) StartListening(ctx context.Context, mode string) error {
	if c.isDisposed() {
		return shared.ErrDisposed
	}
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}

	sid := c.SessionID()
	if sid == "" {
		return fmt.Errorf("start listening: %w", shared.ErrSessionNotReady)
	}

	if mode == "" {
		mode = protocol.ModeManual
	}
	if err := c.device.StartRecording(); err != nil {
		c.log.Warn("recording start failed", "error", err)
	}
	c.mgr.SendFrame(protocol.ListenStart(sid, mode))
	c.log.Debug("listening started", "mode", mode)
	return nil
}

// StopListening stops capture unconditionally and sends the stop command
// when a session exists.
func (c *Coordinator) StopListening() error {
	if err := c.device.StopRecording(); err != nil {
		c.log.Warn("recording stop failed", "error", err)
	}
	if sid := c.SessionID(); sid != "" {
		c.mgr.SendFrame(protocol.ListenStop(sid, protocol.ModeAuto))
	}
	c.log.Debug("listening stopped")
	return nil
}

// AbortListening cancels the in-flight capture without waiting for a result.
func (c *Coordinator) AbortListening() error {
	if err := c.device.StopRecording(); err != nil {
		c.log.Warn("recording stop failed", "error", err)
	}
	if sid := c.SessionID(); sid != "" {
		c.mgr.SendFrame(protocol.Abort(sid))
	}
	c.log.Debug("listening aborted")
	return nil
}

// StartVoiceStreaming enters continuous duplex mode: every captured chunk
// is forwarded as a binary frame until StopVoiceStreaming, Dispose, or a
// connection drop. Waits briefly for the hello handshake when no session id
// is available yet.
func (c *Coordinator) StartVoiceStreaming(ctx context.Context) error {
	if c.isDisposed() {
		return shared.ErrDisposed
	}

	c.mu.Lock()
	if c.streaming {
		c.mu.Unlock()
		return nil
	}
	ready := c.sessionReady
	c.mu.Unlock()

	select {
	case <-ready:
	case <-time.After(c.cfg.SessionIDWait):
		return fmt.Errorf("start voice streaming: %w", shared.ErrSessionNotReady)
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := c.ensureConnected(ctx); err != nil {
		return err
	}

	if err := c.device.InitRecorder(); err != nil {
		c.log.Warn("recorder init failed", "error", err)
	}
	if err := c.device.StartRecording(); err != nil {
		c.log.Warn("recording start failed", "error", err)
	}

	streamCtx, cancel := context.WithCancel(c.ctx)
	c.mu.Lock()
	c.streaming = true
	c.streamCancel = cancel
	sid := c.sessionID
	c.mu.Unlock()

	c.wg.Add(1)
	go c.forwardAudio(streamCtx)

	c.mgr.SendFrame(protocol.ListenStart(sid, protocol.ModeAuto))
	c.log.Info("voice streaming started", "session_id", sid)
	return nil
}

// forwardAudio is the flag-gated streaming task. It outlives individual
// listen control messages and stops only on cancellation or a closed chunk
// source.
func (c *Coordinator) forwardAudio(ctx context.Context) {
	defer c.wg.Done()

	chunks := c.device.Chunks()
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-chunks:
			if !ok {
				return
			}
			if !c.IsVoiceStreaming() {
				continue
			}
			c.mgr.SendBinary(chunk)
		}
	}
}

// StopVoiceStreaming leaves duplex mode and sends the matching stop command.
func (c *Coordinator) StopVoiceStreaming() error {
	sid, stopped := c.exitStreaming()
	if !stopped {
		return nil
	}
	if sid != "" {
		c.mgr.SendFrame(protocol.ListenStop(sid, protocol.ModeAuto))
	}
	c.log.Info("voice streaming stopped")
	return nil
}

// haltStreaming force-exits streaming without wire traffic, used when the
// connection drops.
func (c *Coordinator) haltStreaming() {
	if _, stopped := c.exitStreaming(); stopped {
		c.log.Info("voice streaming halted by disconnect")
	}
}

func (c *Coordinator) exitStreaming() (sessionID string, stopped bool) {
	c.mu.Lock()
	if !c.streaming {
		c.mu.Unlock()
		return "", false
	}
	c.streaming = false
	cancel := c.streamCancel
	c.streamCancel = nil
	sessionID = c.sessionID
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if err := c.device.StopRecording(); err != nil {
		c.log.Warn("recording stop failed", "error", err)
	}
	return sessionID, true
}

// ToggleMute flips the local mute flag and, only while connected, informs
// the server. Returns the new state.
func (c *Coordinator) ToggleMute() bool {
	c.mu.Lock()
	c.muted = !c.muted
	muted := c.muted
	c.mu.Unlock()

	if c.mgr.IsConnected() {
		c.mgr.SendFrame(protocol.Mute(muted))
	}
	return muted
}

// StopPlayback halts TTS playback on the device, best-effort.
func (c *Coordinator) StopPlayback() {
	if err := c.device.StopPlaying(); err != nil {
		c.log.Warn("playback stop failed", "error", err)
	}
}

func (c *Coordinator) SetVolume(v float64) {
	if err := c.device.SetVolume(v); err != nil {
		c.log.Warn("volume change failed", "error", err)
	}
}

func (c *Coordinator) Volume() float64 {
	return c.device.Volume()
}

func (c *Coordinator) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Coordinator) IsMuted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

func (c *Coordinator) IsVoiceStreaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streaming
}

func (c *Coordinator) IsConnected() bool {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	return connected && c.mgr.IsConnected()
}

func (c *Coordinator) currentConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

func (c *Coordinator) isDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

// ResetConnectionState clears listeners, streaming and routing state while
// keeping the transport up. Used when the application switches surfaces.
func (c *Coordinator) ResetConnectionState() {
	c.StopVoiceStreaming()
	c.bus.Clear()

	c.mu.Lock()
	c.muted = false
	c.conversationID = ""
	c.mu.Unlock()
	c.log.Debug("connection state reset")
}

// Dispose tears the session down: heartbeat and reconnect first, then
// pending request timers and the streaming task, then the audio device.
// The coordinator must be recreated, not reused.
func (c *Coordinator) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	c.mu.Unlock()

	if err := c.mgr.Close(); err != nil {
		c.log.Warn("transport close failed", "error", err)
	}
	c.cancel()
	c.haltStreaming()
	c.wg.Wait()

	if err := c.device.Dispose(); err != nil {
		c.log.Warn("audio device dispose failed", "error", err)
	}
	c.bus.Clear()
	c.log.Info("session disposed")
}
