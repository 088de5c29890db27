package events

// Kind identifies event variants published on the session bus.
type Kind string

const (
	KindConnected    Kind = "connected"
	KindDisconnected Kind = "disconnected"
	KindTextMessage  Kind = "text_message"
	KindAudioData    Kind = "audio_data"
	KindUserMessage  Kind = "user_message"
	KindError        Kind = "error"
	KindTTSStarted   Kind = "tts_started"
	KindTTSStopped   Kind = "tts_stopped"
	KindSTTResult    Kind = "stt_result"
	KindSTTStarted   Kind = "stt_started"
	KindSTTStopped   Kind = "stt_stopped"
)

// Event is an immutable value carrying at most one payload: Text for
// control-derived events, Audio for binary frames, neither for pure
// lifecycle signals. Never mutated after creation.
type Event struct {
	Kind  Kind
	Text  string
	Audio []byte
}

func Signal(kind Kind) Event {
	return Event{Kind: kind}
}

func Text(kind Kind, text string) Event {
	return Event{Kind: kind, Text: text}
}

func Audio(data []byte) Event {
	return Event{Kind: KindAudioData, Audio: data}
}
