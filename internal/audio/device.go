package audio

// Device is the duplex capture/encode/playback/decode engine the session
// layer drives. Implementations live outside this module; the session treats
// every call as best-effort and never fails on a device error.
type Device interface {
	PreInitializeAudio() error
	InitRecorder() error
	InitPlayer() error

	StartRecording() error
	StopRecording() error

	PlayOpusData(data []byte) error
	StopPlaying() error
	WarmUpAudioTrack() error

	SetVolume(v float64) error
	Volume() float64

	// Chunks is the continuous outbound source consumed by the voice
	// streaming task: one encoded frame per element, closed on Dispose.
	Chunks() <-chan []byte

	Dispose() error
}

// NopDevice satisfies Device without hardware. Its chunk source never
// produces and closes on Dispose.
type NopDevice struct {
	chunks chan []byte
	volume float64
}

func NewNopDevice() *NopDevice {
	return &NopDevice{chunks: make(chan []byte), volume: 1.0}
}

func (d *NopDevice) PreInitializeAudio() error   { return nil }
func (d *NopDevice) InitRecorder() error         { return nil }
func (d *NopDevice) InitPlayer() error           { return nil }
func (d *NopDevice) StartRecording() error       { return nil }
func (d *NopDevice) StopRecording() error        { return nil }
func (d *NopDevice) PlayOpusData([]byte) error   { return nil }
func (d *NopDevice) StopPlaying() error          { return nil }
func (d *NopDevice) WarmUpAudioTrack() error     { return nil }
func (d *NopDevice) SetVolume(v float64) error   { d.volume = v; return nil }
func (d *NopDevice) Volume() float64             { return d.volume }
func (d *NopDevice) Chunks() <-chan []byte       { return d.chunks }

func (d *NopDevice) Dispose() error {
	close(d.chunks)
	return nil
}
