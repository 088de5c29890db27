package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/eleven-am/voice-client/internal/audio"
	"github.com/eleven-am/voice-client/internal/events"
	"github.com/eleven-am/voice-client/internal/shared"
	"github.com/eleven-am/voice-client/internal/transport"
)

func newTestSession(cfg Config) (*Coordinator, *transport.MockDialer, *audio.MockDevice) {
	if cfg.Connection.URL == "" {
		cfg.Connection.URL = "ws://example/assistant/v1/"
	}
	if cfg.Connection.DeviceID == "" {
		cfg.Connection.DeviceID = "dev-1"
	}
	dialer := transport.NewMockDialer()
	device := audio.NewMockDevice()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New(cfg, dialer, device, nil, log)
	return c, dialer, device
}

// connectWithSession connects and completes the hello handshake.
func connectWithSession(t *testing.T, c *Coordinator, dialer *transport.MockDialer, sid string) *transport.MockConn {
	t.Helper()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn := dialer.LastConn()
	if conn == nil {
		t.Fatal("no connection dialed")
	}
	if sid != "" {
		conn.ServerText([]byte(`{"type":"hello","session_id":"` + sid + `"}`))
	}
	return conn
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func frameAt(t *testing.T, conn *transport.MockConn, i int) map[string]any {
	t.Helper()
	data := conn.TextAt(i)
	if data == nil {
		t.Fatalf("no frame at index %d (count %d)", i, conn.TextCount())
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("frame %d unmarshal: %v", i, err)
	}
	return m
}

func TestConnectNegotiatesSession(t *testing.T) {
	c, dialer, _ := newTestSession(Config{})
	defer c.Dispose()

	connectWithSession(t, c, dialer, "sess-1")
	if got := c.SessionID(); got != "sess-1" {
		t.Errorf("SessionID = %q, want sess-1", got)
	}
	if !c.IsConnected() {
		t.Error("IsConnected = false after connect")
	}
}

func TestSendTextMessageCompletes(t *testing.T) {
	c, dialer, _ := newTestSession(Config{})
	defer c.Dispose()
	conn := connectWithSession(t, c, dialer, "sess-1")
	c.SetCurrentConversationID("conv-1")

	var mu sync.Mutex
	var partials []string
	done := make(chan struct{})
	var result string
	var sendErr error
	go func() {
		result, sendErr = c.SendTextMessage(context.Background(), "what time is it", func(text string) {
			mu.Lock()
			partials = append(partials, text)
			mu.Unlock()
		})
		close(done)
	}()

	// Frame 0 is the hello; frame 1 is the text request.
	waitFor(t, func() bool { return conn.TextCount() >= 2 }, "text request never sent")
	req := frameAt(t, conn, 1)
	if req["type"] != "listen" || req["state"] != "detect" || req["text"] != "what time is it" || req["source"] != "text" {
		t.Errorf("unexpected text request frame: %v", req)
	}

	conn.ServerText([]byte(`{"type":"tts","state":"start"}`))
	conn.ServerText([]byte(`{"type":"tts","state":"sentence_start","text":"It is noon."}`))
	conn.ServerText([]byte(`{"type":"tts","state":"stop"}`))
	<-done

	if sendErr != nil {
		t.Fatalf("SendTextMessage: %v", sendErr)
	}
	if result != TTSCompleted {
		t.Errorf("result = %q, want %q", result, TTSCompleted)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(partials) != 1 || partials[0] != "It is noon." {
		t.Errorf("partials = %v", partials)
	}
}

func TestSendTextMessageTimeout(t *testing.T) {
	c, dialer, _ := newTestSession(Config{RequestTimeout: 20 * time.Millisecond})
	defer c.Dispose()
	connectWithSession(t, c, dialer, "sess-1")

	_, err := c.SendTextMessage(context.Background(), "hello", nil)
	if !errors.Is(err, shared.ErrRequestTimeout) {
		t.Errorf("err = %v, want ErrRequestTimeout", err)
	}
}

func TestSendTextMessageFailsOnErrorEvent(t *testing.T) {
	c, dialer, _ := newTestSession(Config{})
	defer c.Dispose()
	conn := connectWithSession(t, c, dialer, "sess-1")

	done := make(chan struct{})
	var sendErr error
	go func() {
		_, sendErr = c.SendTextMessage(context.Background(), "hello", nil)
		close(done)
	}()

	waitFor(t, func() bool { return conn.TextCount() >= 2 }, "text request never sent")
	conn.ServerText([]byte(`{"type":"error","error":"server overloaded"}`))
	<-done

	if sendErr == nil {
		t.Fatal("expected an error")
	}
}

func TestSendTextMessageSettlesOnce(t *testing.T) {
	c, dialer, _ := newTestSession(Config{})
	defer c.Dispose()
	conn := connectWithSession(t, c, dialer, "sess-1")

	done := make(chan struct{})
	var result string
	var sendErr error
	go func() {
		result, sendErr = c.SendTextMessage(context.Background(), "hello", nil)
		close(done)
	}()

	waitFor(t, func() bool { return conn.TextCount() >= 2 }, "text request never sent")
	conn.ServerText([]byte(`{"type":"tts","state":"stop"}`))
	conn.ServerText([]byte(`{"type":"error","error":"too late"}`))
	<-done

	if sendErr != nil || result != TTSCompleted {
		t.Errorf("result = %q err = %v, want settled success", result, sendErr)
	}
}

func TestStartListeningRequiresSession(t *testing.T) {
	c, dialer, device := newTestSession(Config{})
	defer c.Dispose()
	conn := connectWithSession(t, c, dialer, "")

	err := c.StartListening(context.Background(), "")
	if !errors.Is(err, shared.ErrSessionNotReady) {
		t.Fatalf("err = %v, want ErrSessionNotReady", err)
	}
	if conn.TextCount() != 1 {
		t.Errorf("TextCount = %d, want 1 (hello only)", conn.TextCount())
	}
	starts, _ := device.Counts()
	if starts != 0 {
		t.Errorf("RecordStarts = %d, want 0", starts)
	}
}

func TestListenLifecycle(t *testing.T) {
	c, dialer, device := newTestSession(Config{})
	defer c.Dispose()
	conn := connectWithSession(t, c, dialer, "sess-1")

	if err := c.StartListening(context.Background(), ""); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	start := frameAt(t, conn, 1)
	if start["type"] != "listen" || start["state"] != "start" || start["mode"] != "manual" || start["session_id"] != "sess-1" {
		t.Errorf("unexpected listen start frame: %v", start)
	}
	if !device.Recording() {
		t.Error("device not recording after StartListening")
	}

	if err := c.StopListening(); err != nil {
		t.Fatalf("StopListening: %v", err)
	}
	stop := frameAt(t, conn, 2)
	if stop["type"] != "listen" || stop["state"] != "stop" {
		t.Errorf("unexpected listen stop frame: %v", stop)
	}
	if device.Recording() {
		t.Error("device still recording after StopListening")
	}

	if err := c.StartListening(context.Background(), "auto"); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	if err := c.AbortListening(); err != nil {
		t.Fatalf("AbortListening: %v", err)
	}
	abort := frameAt(t, conn, 4)
	if abort["type"] != "abort" || abort["session_id"] != "sess-1" {
		t.Errorf("unexpected abort frame: %v", abort)
	}
}

func TestVoiceStreamingForwardsChunks(t *testing.T) {
	c, dialer, device := newTestSession(Config{})
	defer c.Dispose()
	conn := connectWithSession(t, c, dialer, "sess-1")

	if err := c.StartVoiceStreaming(context.Background()); err != nil {
		t.Fatalf("StartVoiceStreaming: %v", err)
	}
	if !c.IsVoiceStreaming() {
		t.Fatal("IsVoiceStreaming = false")
	}
	start := frameAt(t, conn, 1)
	if start["type"] != "listen" || start["state"] != "start" || start["mode"] != "auto" {
		t.Errorf("unexpected listen start frame: %v", start)
	}

	device.Feed([]byte{0x01})
	device.Feed([]byte{0x02})
	waitFor(t, func() bool { return conn.BinaryCount() == 2 }, "chunks not forwarded")

	if err := c.StopVoiceStreaming(); err != nil {
		t.Fatalf("StopVoiceStreaming: %v", err)
	}
	if c.IsVoiceStreaming() {
		t.Error("IsVoiceStreaming = true after stop")
	}
	stop := frameAt(t, conn, 2)
	if stop["type"] != "listen" || stop["state"] != "stop" {
		t.Errorf("unexpected listen stop frame: %v", stop)
	}
	if device.Recording() {
		t.Error("device still recording after stop")
	}

	// Chunks after the stop are not forwarded.
	device.Feed([]byte{0x03})
	time.Sleep(10 * time.Millisecond)
	if conn.BinaryCount() != 2 {
		t.Errorf("BinaryCount = %d after stop, want 2", conn.BinaryCount())
	}
}

func TestVoiceStreamingRequiresSession(t *testing.T) {
	c, dialer, _ := newTestSession(Config{SessionIDWait: 20 * time.Millisecond})
	defer c.Dispose()
	connectWithSession(t, c, dialer, "")

	err := c.StartVoiceStreaming(context.Background())
	if !errors.Is(err, shared.ErrSessionNotReady) {
		t.Errorf("err = %v, want ErrSessionNotReady", err)
	}
}

func TestVoiceStreamingWaitsForHandshake(t *testing.T) {
	c, dialer, _ := newTestSession(Config{SessionIDWait: 300 * time.Millisecond})
	defer c.Dispose()
	conn := connectWithSession(t, c, dialer, "")

	done := make(chan error, 1)
	go func() { done <- c.StartVoiceStreaming(context.Background()) }()

	// Hello lands while the start call is waiting.
	time.Sleep(10 * time.Millisecond)
	conn.ServerText([]byte(`{"type":"hello","session_id":"sess-late"}`))

	if err := <-done; err != nil {
		t.Fatalf("StartVoiceStreaming: %v", err)
	}
	if !c.IsVoiceStreaming() {
		t.Error("IsVoiceStreaming = false")
	}
}

func TestStreamingHaltedByDisconnect(t *testing.T) {
	c, dialer, device := newTestSession(Config{})
	defer c.Dispose()
	conn := connectWithSession(t, c, dialer, "sess-1")

	if err := c.StartVoiceStreaming(context.Background()); err != nil {
		t.Fatalf("StartVoiceStreaming: %v", err)
	}
	sent := conn.TextCount()

	conn.ServerClose(nil)
	waitFor(t, func() bool { return !c.IsVoiceStreaming() }, "streaming survived the disconnect")
	if conn.TextCount() != sent {
		t.Error("halt must not send wire frames on a dead transport")
	}
	if device.Recording() {
		t.Error("device still recording after forced halt")
	}
}

func TestToggleMute(t *testing.T) {
	c, dialer, _ := newTestSession(Config{})
	defer c.Dispose()

	// Offline: the flag flips locally, nothing is sent.
	if !c.ToggleMute() {
		t.Fatal("first toggle should mute")
	}
	if !c.IsMuted() {
		t.Error("IsMuted = false")
	}

	conn := connectWithSession(t, c, dialer, "sess-1")
	if c.ToggleMute() {
		t.Fatal("second toggle should unmute")
	}
	frame := frameAt(t, conn, 1)
	if frame["type"] != "voice_unmute" {
		t.Errorf("frame type = %v, want voice_unmute", frame["type"])
	}
}

func TestConversationGating(t *testing.T) {
	c, dialer, _ := newTestSession(Config{})
	defer c.Dispose()
	conn := connectWithSession(t, c, dialer, "sess-1")

	var mu sync.Mutex
	var texts []string
	sub := c.Subscribe(func(evt events.Event) {
		if evt.Kind == events.KindTextMessage || evt.Kind == events.KindSTTResult {
			mu.Lock()
			texts = append(texts, evt.Text)
			mu.Unlock()
		}
	})
	defer sub.Close()

	conn.ServerText([]byte(`{"type":"tts","state":"sentence_start","text":"dropped"}`))
	conn.ServerText([]byte(`{"type":"stt","text":"also dropped"}`))

	c.SetCurrentConversationID("conv-1")
	conn.ServerText([]byte(`{"type":"tts","state":"sentence_start","text":"kept"}`))
	conn.ServerText([]byte(`{"type":"stt","text":"kept too"}`))

	mu.Lock()
	defer mu.Unlock()
	if len(texts) != 2 || texts[0] != "kept" || texts[1] != "kept too" {
		t.Errorf("forwarded texts = %v", texts)
	}
}

func TestRecognitionCallbackIgnoresGating(t *testing.T) {
	c, dialer, _ := newTestSession(Config{})
	defer c.Dispose()
	conn := connectWithSession(t, c, dialer, "sess-1")

	var mu sync.Mutex
	var heard []string
	c.SetVoiceRecognitionCallback(func(text string) {
		mu.Lock()
		heard = append(heard, text)
		mu.Unlock()
	})

	// No conversation bound: the callback still fires.
	conn.ServerText([]byte(`{"type":"stt","text":"turn on the lights"}`))

	mu.Lock()
	defer mu.Unlock()
	if len(heard) != 1 || heard[0] != "turn on the lights" {
		t.Errorf("heard = %v", heard)
	}
}

func TestInboundAudioPlayed(t *testing.T) {
	c, dialer, device := newTestSession(Config{})
	defer c.Dispose()
	conn := connectWithSession(t, c, dialer, "sess-1")

	conn.ServerBinary([]byte{0x0a, 0x0b})
	waitFor(t, func() bool { return device.PlayedCount() == 1 }, "audio never played")
}

func TestVolumePassthrough(t *testing.T) {
	c, _, _ := newTestSession(Config{})
	defer c.Dispose()

	c.SetVolume(0.5)
	if got := c.Volume(); got != 0.5 {
		t.Errorf("Volume = %v, want 0.5", got)
	}
	c.StopPlayback()
}

func TestResetConnectionState(t *testing.T) {
	c, dialer, _ := newTestSession(Config{})
	defer c.Dispose()
	conn := connectWithSession(t, c, dialer, "sess-1")
	c.SetCurrentConversationID("conv-1")
	c.ToggleMute()

	var mu sync.Mutex
	count := 0
	c.Subscribe(func(events.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	c.ResetConnectionState()

	if c.IsMuted() {
		t.Error("mute flag survived reset")
	}
	if !c.IsConnected() {
		t.Error("reset must keep the transport up")
	}

	// Listener was cleared and the conversation unbound.
	conn.ServerText([]byte(`{"type":"tts","state":"sentence_start","text":"hi"}`))
	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Errorf("listener invocations = %d after reset, want 0", count)
	}
}

func TestDispose(t *testing.T) {
	c, dialer, _ := newTestSession(Config{})
	conn := connectWithSession(t, c, dialer, "sess-1")

	c.Dispose()
	if !conn.Closed() {
		t.Error("transport not closed")
	}

	if err := c.Connect(context.Background()); !errors.Is(err, shared.ErrDisposed) {
		t.Errorf("Connect err = %v, want ErrDisposed", err)
	}
	if _, err := c.SendTextMessage(context.Background(), "hi", nil); !errors.Is(err, shared.ErrDisposed) {
		t.Errorf("SendTextMessage err = %v, want ErrDisposed", err)
	}
	if err := c.StartListening(context.Background(), ""); !errors.Is(err, shared.ErrDisposed) {
		t.Errorf("StartListening err = %v, want ErrDisposed", err)
	}
	if err := c.StartVoiceStreaming(context.Background()); !errors.Is(err, shared.ErrDisposed) {
		t.Errorf("StartVoiceStreaming err = %v, want ErrDisposed", err)
	}

	// Idempotent.
	c.Dispose()
}

func TestDisposeFailsPendingRequest(t *testing.T) {
	c, dialer, _ := newTestSession(Config{})
	conn := connectWithSession(t, c, dialer, "sess-1")

	done := make(chan error, 1)
	go func() {
		_, err := c.SendTextMessage(context.Background(), "hi", nil)
		done <- err
	}()
	waitFor(t, func() bool { return conn.TextCount() >= 2 }, "text request never sent")

	c.Dispose()
	if err := <-done; !errors.Is(err, shared.ErrDisposed) {
		t.Errorf("err = %v, want ErrDisposed", err)
	}
}
