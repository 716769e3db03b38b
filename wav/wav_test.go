package wav

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func pcm(n int) []byte {
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(i*37))
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	const frames = 4800

	w, err := Create(path, 1, 48000, 16)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	data := pcm(frames)
	if err := w.WriteFrames(data); err != nil {
		t.Fatalf("WriteFrames: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	info, got, err := Decode(path)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if info.Channels != 1 || info.SampleRate != 48000 || info.BitDepth != 16 {
		t.Errorf("info = %+v", info)
	}
	if info.Frames() != frames {
		t.Errorf("Frames = %d, want %d", info.Frames(), frames)
	}
	if !bytes.Equal(got, data) {
		t.Error("decoded PCM differs from written PCM")
	}
}

func TestMultiChannelRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	const frames = 1000

	w, err := Create(path, 3, 44100, 16)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	data := pcm(frames * 3)
	if err := w.WriteFrames(data); err != nil {
		t.Fatalf("WriteFrames: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	info, err := ReadInfo(path)
	if err != nil {
		t.Fatalf("ReadInfo: %v", err)
	}
	if info.Channels != 3 || info.Frames() != frames {
		t.Errorf("info = %+v, want 3ch %d frames", info, frames)
	}
}

func TestStreamingWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")

	w, err := Create(path, 1, 16000, 16)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	var want []byte
	for i := 0; i < 10; i++ {
		chunk := pcm(100 + i)
		want = append(want, chunk...)
		if err := w.WriteFrames(chunk); err != nil {
			t.Fatalf("WriteFrames %d: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, got, err := Decode(path)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Error("streamed writes corrupted data")
	}
}

func TestHeaderPatchedOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	w, err := Create(path, 1, 16000, 16)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	w.WriteFrames(pcm(50))

	// Before Close the declared data size is still the placeholder.
	raw, _ := os.ReadFile(path)
	if got := binary.LittleEndian.Uint32(raw[40:44]); got != 0 {
		t.Errorf("pre-close data size = %d, want 0", got)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	raw, _ = os.ReadFile(path)
	if got := binary.LittleEndian.Uint32(raw[40:44]); got != 100 {
		t.Errorf("post-close data size = %d, want 100", got)
	}
	if got := binary.LittleEndian.Uint32(raw[4:8]); got != 136 {
		t.Errorf("post-close RIFF size = %d, want 136", got)
	}
}

func TestIndependentWriters(t *testing.T) {
	dir := t.TempDir()
	a, err := Create(filepath.Join(dir, "a.wav"), 1, 16000, 16)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Create(filepath.Join(dir, "b.wav"), 2, 44100, 16)
	if err != nil {
		t.Fatal(err)
	}
	a.WriteFrames(pcm(10))
	b.WriteFrames(pcm(40))
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}

	ia, _ := ReadInfo(filepath.Join(dir, "a.wav"))
	ib, _ := ReadInfo(filepath.Join(dir, "b.wav"))
	if ia.Frames() != 10 || ib.Frames() != 20 {
		t.Errorf("frames = %d/%d, want 10/20", ia.Frames(), ib.Frames())
	}
}

func TestCloseIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	w, err := Create(path, 1, 16000, 16)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := w.WriteFrames(pcm(1)); err == nil {
		t.Error("expected error writing after close")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.bin")
	os.WriteFile(path, []byte("this is not a wav file at all"), 0644)
	if _, _, err := Decode(path); err == nil {
		t.Error("expected error decoding garbage")
	}
}
