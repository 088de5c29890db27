package audio

import "sync"

// MockDevice records calls and lets tests feed captured chunks. Used as the
// in-process stand-in for the real capture/playback engine.
type MockDevice struct {
	mu sync.Mutex

	chunks    chan []byte
	recording bool
	disposed  bool
	volume    float64

	RecordStarts int
	RecordStops  int
	InitRecords  int
	InitPlays    int
	PreInits     int
	WarmUps      int
	PlayStops    int
	Played       [][]byte

	FailStartRecording bool
}

func NewMockDevice() *MockDevice {
	return &MockDevice{chunks: make(chan []byte, 64), volume: 1.0}
}

func (d *MockDevice) PreInitializeAudio() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.PreInits++
	return nil
}

func (d *MockDevice) InitRecorder() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.InitRecords++
	return nil
}

func (d *MockDevice) InitPlayer() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.InitPlays++
	return nil
}

func (d *MockDevice) StartRecording() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.RecordStarts++
	if d.FailStartRecording {
		return errMock
	}
	d.recording = true
	return nil
}

func (d *MockDevice) StopRecording() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.RecordStops++
	d.recording = false
	return nil
}

func (d *MockDevice) PlayOpusData(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Played = append(d.Played, append([]byte(nil), data...))
	return nil
}

func (d *MockDevice) StopPlaying() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.PlayStops++
	return nil
}

func (d *MockDevice) WarmUpAudioTrack() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.WarmUps++
	return nil
}

func (d *MockDevice) SetVolume(v float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.volume = v
	return nil
}

func (d *MockDevice) Volume() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.volume
}

func (d *MockDevice) Chunks() <-chan []byte {
	return d.chunks
}

// Feed injects one captured chunk into the outbound source.
func (d *MockDevice) Feed(data []byte) {
	d.mu.Lock()
	disposed := d.disposed
	d.mu.Unlock()
	if disposed {
		return
	}
	d.chunks <- data
}

func (d *MockDevice) Dispose() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.disposed {
		return nil
	}
	d.disposed = true
	close(d.chunks)
	return nil
}

func (d *MockDevice) Recording() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.recording
}

func (d *MockDevice) PlayedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Played)
}

func (d *MockDevice) Counts() (starts, stops int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.RecordStarts, d.RecordStops
}

type mockError string

func (e mockError) Error() string { return string(e) }

const errMock = mockError("mock device failure")
