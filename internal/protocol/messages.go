package protocol

import (
	"encoding/json"
	"time"
)

// Frame type discriminators used by the assistant wire protocol.
const (
	TypeHello       = "hello"
	TypeListen      = "listen"
	TypeAbort       = "abort"
	TypeTTS         = "tts"
	TypeSTT         = "stt"
	TypeEmotion     = "emotion"
	TypeError       = "error"
	TypePing        = "ping"
	TypeVoiceMute   = "voice_mute"
	TypeVoiceUnmute = "voice_unmute"
)

// State sub-discriminators for stateful frame types.
const (
	StateStart         = "start"
	StateStop          = "stop"
	StateDetect        = "detect"
	StatePartial       = "partial"
	StateFinal         = "final"
	StateSentenceStart = "sentence_start"
	StateSentenceEnd   = "sentence_end"
	StateAudioStart    = "audio_start"
	StateAudioEnd      = "audio_end"
)

const (
	ModeAuto   = "auto"
	ModeManual = "manual"

	SourceText = "text"

	TransportWebSocket = "websocket"

	Version = 1
)

// AudioParams declares the codec the client will use for the duplex audio
// stream, sent with the hello handshake.
type AudioParams struct {
	Format        string `json:"format"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	FrameDuration int    `json:"frame_duration"`
}

func DefaultAudioParams() AudioParams {
	return AudioParams{
		Format:        "opus",
		SampleRate:    16000,
		Channels:      1,
		FrameDuration: 60,
	}
}

// ClientFrame is an outbound control frame. Zero-valued fields are omitted
// from the wire form.
type ClientFrame struct {
	Type        string       `json:"type"`
	Version     int          `json:"version,omitempty"`
	Transport   string       `json:"transport,omitempty"`
	AudioParams *AudioParams `json:"audio_params,omitempty"`
	State       string       `json:"state,omitempty"`
	Mode        string       `json:"mode,omitempty"`
	Text        string       `json:"text,omitempty"`
	Source      string       `json:"source,omitempty"`
	SessionID   string       `json:"session_id,omitempty"`
	Timestamp   int64        `json:"timestamp,omitempty"`
}

func (f ClientFrame) Marshal() ([]byte, error) {
	return json.Marshal(f)
}

func Hello(params AudioParams) ClientFrame {
	return ClientFrame{
		Type:        TypeHello,
		Version:     Version,
		Transport:   TransportWebSocket,
		AudioParams: &params,
	}
}

// TextRequest wraps a typed chat message as a detect-state listen frame.
func TextRequest(text string) ClientFrame {
	return ClientFrame{
		Type:   TypeListen,
		State:  StateDetect,
		Text:   text,
		Source: SourceText,
	}
}

func ListenStart(sessionID, mode string) ClientFrame {
	return ClientFrame{
		Type:      TypeListen,
		State:     StateStart,
		Mode:      mode,
		SessionID: sessionID,
	}
}

func ListenStop(sessionID, mode string) ClientFrame {
	return ClientFrame{
		Type:      TypeListen,
		State:     StateStop,
		Mode:      mode,
		SessionID: sessionID,
	}
}

func Abort(sessionID string) ClientFrame {
	return ClientFrame{
		Type:      TypeAbort,
		SessionID: sessionID,
	}
}

func Mute(muted bool) ClientFrame {
	if muted {
		return ClientFrame{Type: TypeVoiceMute}
	}
	return ClientFrame{Type: TypeVoiceUnmute}
}

func Ping(now time.Time) ClientFrame {
	return ClientFrame{
		Type:      TypePing,
		Timestamp: now.UnixMilli(),
	}
}

// ServerFrame is the superset of fields appearing in inbound control frames.
type ServerFrame struct {
	Type      string `json:"type"`
	State     string `json:"state"`
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
	Emotion   string `json:"emotion"`
	Error     string `json:"error"`
	Message   string `json:"message"`
}
