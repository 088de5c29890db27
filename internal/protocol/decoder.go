package protocol

import (
	"encoding/json"
	"log/slog"

	"github.com/eleven-am/voice-client/internal/events"
)

// Decoder translates inbound wire frames into typed events. Malformed or
// unrecognized frames are logged and dropped; decoding never fails the
// transport callback.
type Decoder struct {
	log *slog.Logger
}

func NewDecoder(log *slog.Logger) *Decoder {
	if log == nil {
		log = slog.Default()
	}
	return &Decoder{log: log}
}

// Result carries the outcome of decoding one text frame. At most one of
// Event and SessionID is set: hello frames surface the negotiated session
// id instead of an event.
type Result struct {
	Event     *events.Event
	SessionID string
}

func (d *Decoder) DecodeText(data []byte) Result {
	var f ServerFrame
	if err := json.Unmarshal(data, &f); err != nil {
		d.log.Warn("dropping malformed control frame", "error", err)
		return Result{}
	}

	switch f.Type {
	case TypeHello:
		if f.SessionID == "" {
			d.log.Warn("hello frame without session id")
			return Result{}
		}
		return Result{SessionID: f.SessionID}

	case TypeTTS:
		return d.decodeTTS(f)

	case TypeSTT:
		return d.decodeSTT(f)

	case TypeEmotion:
		if f.Emotion == "" {
			return Result{}
		}
		return eventResult(events.Text(events.KindTextMessage, "emotion:"+f.Emotion))

	case TypeError:
		msg := f.Error
		if msg == "" {
			msg = f.Message
		}
		if msg == "" {
			msg = "unknown error"
		}
		return eventResult(events.Text(events.KindError, msg))

	case TypeListen:
		// Server-side listen echoes carry no client-visible state.
		d.log.Debug("listen frame observed", "state", f.State)
		return Result{}

	default:
		d.log.Debug("ignoring unrecognized frame type", "type", f.Type)
		return Result{}
	}
}

func (d *Decoder) decodeTTS(f ServerFrame) Result {
	switch f.State {
	case StateStart:
		return eventResult(events.Signal(events.KindTTSStarted))
	case StateSentenceStart:
		if f.Text == "" {
			d.log.Debug("tts sentence_start with empty text")
			return Result{}
		}
		return eventResult(events.Text(events.KindTextMessage, f.Text))
	case StateStop:
		return eventResult(events.Signal(events.KindTTSStopped))
	case StateSentenceEnd, StateAudioStart, StateAudioEnd:
		d.log.Debug("tts state observed", "state", f.State)
		return Result{}
	default:
		d.log.Debug("ignoring unrecognized tts state", "state", f.State)
		return Result{}
	}
}

func (d *Decoder) decodeSTT(f ServerFrame) Result {
	// Server shorthand: a bare text field without state is a final result.
	if f.State == "" && f.Text != "" {
		return eventResult(events.Text(events.KindSTTResult, f.Text))
	}

	switch f.State {
	case StateStart:
		return eventResult(events.Signal(events.KindSTTStarted))
	case StatePartial, StateFinal:
		if f.Text == "" {
			return Result{}
		}
		return eventResult(events.Text(events.KindSTTResult, f.Text))
	case StateStop:
		return eventResult(events.Signal(events.KindSTTStopped))
	default:
		d.log.Debug("ignoring unrecognized stt state", "state", f.State)
		return Result{}
	}
}

// DecodeBinary wraps a raw audio payload. Binary frames are never
// JSON-decoded.
func (d *Decoder) DecodeBinary(data []byte) events.Event {
	return events.Audio(data)
}

func eventResult(evt events.Event) Result {
	return Result{Event: &evt}
}
