package audio

import (
	"errors"
	"sync"
	"time"
)

// ErrFakeReadFailure is the injected device error delivered by a
// FakeContext configured with FailOnChunk.
var ErrFakeReadFailure = errors.New("injected device read failure")

// FakeContext serves canned devices and PCM so the capture pipeline
// can be exercised without hardware.
type FakeContext struct {
	DeviceList  []DeviceInfo
	PCM         []byte // interleaved little-endian 16-bit samples
	ChunkBytes  int
	FailOnChunk int           // deliver an error instead of this chunk (1-based); 0 = never
	Interval    time.Duration // pause between chunks; 0 = as fast as possible
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return f.DeviceList, nil
}

func (f *FakeContext) NewCapture(_ *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	chunkBytes := f.ChunkBytes
	if chunkBytes == 0 {
		chunkBytes = 4096
	}
	return &FakeCapture{
		pcm:           f.PCM,
		chunkBytes:    chunkBytes,
		failOnChunk:   f.FailOnChunk,
		interval:      f.Interval,
		bytesPerFrame: int(config.Channels) * 2,
		audioDone:     make(chan struct{}),
	}, nil
}

func (f *FakeContext) Close() {}

type FakeCapture struct {
	pcm           []byte
	chunkBytes    int
	failOnChunk   int
	interval      time.Duration
	bytesPerFrame int
	audioDone     chan struct{}

	mu       sync.Mutex
	cb       *Callbacks
	stopCh   chan struct{}
	feedDone chan struct{}
}

// AudioDone closes once every canned chunk has been delivered (or the
// injected failure fired). Tests wait on it before stopping.
func (f *FakeCapture) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FakeCapture) SetCallbacks(cb Callbacks) {
	f.mu.Lock()
	f.cb = &cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallbacks() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) callbacks() *Callbacks {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

func (f *FakeCapture) Start() error {
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})

	go func() {
		defer close(f.feedDone)
		pos := 0
		for chunk := 1; ; chunk++ {
			select {
			case <-f.stopCh:
				return
			default:
			}

			cb := f.callbacks()
			if cb == nil {
				time.Sleep(time.Millisecond)
				continue
			}

			if f.failOnChunk > 0 && chunk == f.failOnChunk {
				if cb.Error != nil {
					cb.Error(ErrFakeReadFailure)
				}
				f.closeAudioDone()
				return
			}

			if pos >= len(f.pcm) {
				f.closeAudioDone()
				return
			}

			end := pos + f.chunkBytes
			if end > len(f.pcm) {
				end = len(f.pcm)
			}
			data := make([]byte, end-pos)
			copy(data, f.pcm[pos:end])
			pos = end
			if cb.Data != nil {
				cb.Data(data, uint32(len(data)/f.bytesPerFrame))
			}

			if f.interval > 0 {
				select {
				case <-f.stopCh:
					return
				case <-time.After(f.interval):
				}
			}
		}
	}()

	return nil
}

func (f *FakeCapture) closeAudioDone() {
	select {
	case <-f.audioDone:
	default:
		close(f.audioDone)
	}
}

func (f *FakeCapture) Stop() {
	if f.stopCh == nil {
		return
	}
	select {
	case <-f.stopCh:
	default:
		close(f.stopCh)
	}
	<-f.feedDone
}

func (f *FakeCapture) Close() {
	f.Stop()
}
