package finalize

import (
	"bytes"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mvult/secretary/analyze"
	"github.com/mvult/secretary/capture"
	"github.com/mvult/secretary/wav"
)

type fakeStore struct {
	finalizedID   uint
	duration      float64
	localPath     string
	failedID      uint
	failedNote    string
	finalizeErr   error
	finalizeCalls int
}

func (f *fakeStore) SetFinalized(id uint, durationSeconds float64, localPath string) error {
	f.finalizeCalls++
	if f.finalizeErr != nil {
		return f.finalizeErr
	}
	f.finalizedID = id
	f.duration = durationSeconds
	f.localPath = localPath
	return nil
}

func (f *fakeStore) MarkFinalizeFailed(id uint, note string) error {
	f.failedID = id
	f.failedNote = note
	return nil
}

func writeSpool(t *testing.T, samples []int16) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.spool")
	if err := os.WriteFile(path, analyze.SamplesToBytes(samples), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// threeChannelFixture interleaves a correlated sine pair on channels
// 0/1 and independent noise on channel 2.
func threeChannelFixture(frames int) []int16 {
	rng := rand.New(rand.NewSource(7))
	out := make([]int16, frames*3)
	for f := 0; f < frames; f++ {
		s := int16(8000 * math.Sin(2*math.Pi*440*float64(f)/44100))
		out[f*3] = s
		out[f*3+1] = s
		out[f*3+2] = int16(rng.Intn(16000) - 8000)
	}
	return out
}

func TestConvertDownmixesToMono(t *testing.T) {
	samples := []int16{100, 200, 300, -100, -200, -300} // 2 frames, 3 channels
	spool := writeSpool(t, samples)
	out := filepath.Join(t.TempDir(), "out.wav")

	frames, err := Convert(spool, out, 3, 44100, 0)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if frames != 2 {
		t.Fatalf("frames = %d, want 2", frames)
	}
	info, data, err := wav.Decode(out)
	if err != nil {
		t.Fatal(err)
	}
	if info.Channels != 1 {
		t.Errorf("channels = %d", info.Channels)
	}
	got := analyze.ToSamples(data, 1)
	want := []int16{200, -200}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestConvertBlockSizeIndependent(t *testing.T) {
	samples := threeChannelFixture(999) // not a multiple of any block size
	spool := writeSpool(t, samples)
	dir := t.TempDir()

	var ref []byte
	for _, blockFrames := range []int{1, 7, 128, 4096} {
		out := filepath.Join(dir, "out.wav")
		if _, err := Convert(spool, out, 3, 44100, blockFrames); err != nil {
			t.Fatalf("blockFrames=%d: %v", blockFrames, err)
		}
		data, err := os.ReadFile(out)
		if err != nil {
			t.Fatal(err)
		}
		if ref == nil {
			ref = data
			continue
		}
		if !bytes.Equal(data, ref) {
			t.Fatalf("blockFrames=%d produced different output", blockFrames)
		}
	}
}

func TestConvertIdempotent(t *testing.T) {
	samples := threeChannelFixture(500)
	spool := writeSpool(t, samples)
	out := filepath.Join(t.TempDir(), "out.wav")

	if _, err := Convert(spool, out, 3, 44100, 0); err != nil {
		t.Fatal(err)
	}
	first, _ := os.ReadFile(out)
	if _, err := Convert(spool, out, 3, 44100, 0); err != nil {
		t.Fatal(err)
	}
	second, _ := os.ReadFile(out)
	if !bytes.Equal(first, second) {
		t.Error("re-running the conversion changed the output")
	}
}

func TestRunHappyPath(t *testing.T) {
	// 500 frames at 100 Hz = exactly 5 seconds.
	frames := 500
	samples := make([]int16, frames*3)
	for f := 0; f < frames; f++ {
		samples[f*3] = 1000
		samples[f*3+1] = 1000
		samples[f*3+2] = -500
	}
	spool := writeSpool(t, samples)
	out := filepath.Join(t.TempDir(), "out.wav")
	store := &fakeStore{}

	res, err := New(store, Options{}).Run(capture.Handoff{
		RecordingID: 7,
		SpoolPath:   spool,
		OutPath:     out,
		Channels:    3,
		SampleRate:  100,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.DurationSeconds != 5 {
		t.Errorf("duration = %v, want 5", res.DurationSeconds)
	}
	if store.finalizedID != 7 || store.duration != 5 || store.localPath != out {
		t.Errorf("store got id=%d duration=%v path=%q", store.finalizedID, store.duration, store.localPath)
	}
	if _, err := os.Stat(spool); !os.IsNotExist(err) {
		t.Error("spool not removed after successful finalize")
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("output missing: %v", err)
	}
}

func TestRunConversionFailureKeepsSpool(t *testing.T) {
	spool := writeSpool(t, threeChannelFixture(10))
	// Output in a directory that does not exist forces the failure.
	out := filepath.Join(t.TempDir(), "missing", "out.wav")
	store := &fakeStore{}

	_, err := New(store, Options{}).Run(capture.Handoff{
		RecordingID: 3,
		SpoolPath:   spool,
		OutPath:     out,
		Channels:    3,
		SampleRate:  44100,
	})
	if err == nil {
		t.Fatal("Run succeeded with unwritable output")
	}
	if store.failedID != 3 {
		t.Errorf("failedID = %d, want 3", store.failedID)
	}
	if _, err := os.Stat(spool); err != nil {
		t.Errorf("spool missing after failed finalize: %v", err)
	}
}

func TestRunWritesStems(t *testing.T) {
	spool := writeSpool(t, threeChannelFixture(2000))
	out := filepath.Join(t.TempDir(), "out.wav")
	store := &fakeStore{}

	res, err := New(store, Options{WriteStems: true}).Run(capture.Handoff{
		RecordingID: 1,
		SpoolPath:   spool,
		OutPath:     out,
		Channels:    3,
		SampleRate:  44100,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Layout.SystemPair == nil || res.Layout.SystemPair[0] != 0 || res.Layout.SystemPair[1] != 1 {
		t.Fatalf("system pair = %v, want (0,1)", res.Layout.SystemPair)
	}
	if res.Layout.MicIndex == nil || *res.Layout.MicIndex != 2 {
		t.Fatalf("mic index = %v, want 2", res.Layout.MicIndex)
	}
	if len(res.StemPaths) != 2 {
		t.Fatalf("stems = %v, want 2 files", res.StemPaths)
	}
	for _, p := range res.StemPaths {
		info, err := wav.ReadInfo(p)
		if err != nil {
			t.Fatalf("stem %s: %v", p, err)
		}
		if info.Channels != 1 || info.Frames() != 2000 {
			t.Errorf("stem %s: channels=%d frames=%d", p, info.Channels, info.Frames())
		}
	}
}

func TestRunPersistRetries(t *testing.T) {
	spool := writeSpool(t, threeChannelFixture(10))
	out := filepath.Join(t.TempDir(), "out.wav")
	store := &fakeStore{finalizeErr: os.ErrDeadlineExceeded}

	_, err := New(store, Options{RetryInterval: time.Millisecond}).Run(capture.Handoff{
		RecordingID: 2,
		SpoolPath:   spool,
		OutPath:     out,
		Channels:    3,
		SampleRate:  44100,
	})
	if err == nil {
		t.Fatal("Run succeeded despite persistent store failure")
	}
	if store.finalizeCalls < 2 {
		t.Errorf("SetFinalized called %d times, want retries", store.finalizeCalls)
	}
	// The artifact still exists even when the record update fails.
	if _, err := os.Stat(out); err != nil {
		t.Errorf("output missing: %v", err)
	}
}
