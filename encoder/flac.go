// Package encoder compresses finalized mono recordings to FLAC for
// the cloud tier and decodes them back when a local copy is restored.
package encoder

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"

	"github.com/mvult/secretary/wav"
)

const (
	BitsPerSample = 16
	BlockSize     = 4096
)

type FlacEncoder struct {
	buf         bytes.Buffer
	enc         *flac.Encoder
	sampleRate  int
	totalFrames uint64
	mu          sync.Mutex
}

// NewFlac returns a mono 16-bit encoder for the given sample rate.
func NewFlac(sampleRate int) (*FlacEncoder, error) {
	e := &FlacEncoder{sampleRate: sampleRate}
	info := &meta.StreamInfo{
		BlockSizeMin:  BlockSize,
		BlockSizeMax:  BlockSize,
		SampleRate:    uint32(sampleRate),
		NChannels:     1,
		BitsPerSample: BitsPerSample,
		NSamples:      0,
	}
	enc, err := flac.NewEncoder(&e.buf, info)
	if err != nil {
		return nil, fmt.Errorf("creating flac encoder: %w", err)
	}
	enc.EnablePredictionAnalysis(true)
	e.enc = enc
	return e, nil
}

func (e *FlacEncoder) EncodeBlock(block []int16) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	samples32 := make([]int32, len(block))
	for i, s := range block {
		samples32[i] = int32(s)
	}

	subframe := &frame.Subframe{
		SubHeader: frame.SubHeader{
			Pred: frame.PredVerbatim,
		},
		Samples:  samples32,
		NSamples: len(block),
	}

	f := &frame.Frame{
		Header: frame.Header{
			BlockSize:     uint16(len(block)),
			SampleRate:    uint32(e.sampleRate),
			Channels:      frame.ChannelsMono,
			BitsPerSample: BitsPerSample,
		},
		Subframes: []*frame.Subframe{subframe},
	}

	if err := e.enc.WriteFrame(f); err != nil {
		return fmt.Errorf("writing flac frame: %w", err)
	}
	e.totalFrames += uint64(len(block))
	return nil
}

func (e *FlacEncoder) Close() error {
	return e.enc.Close()
}

func (e *FlacEncoder) Bytes() []byte {
	return e.buf.Bytes()
}

func (e *FlacEncoder) TotalFrames() uint64 {
	return e.totalFrames
}

// FromWAV encodes a mono 16-bit WAV file to FLAC in memory.
func FromWAV(path string) ([]byte, error) {
	info, data, err := wav.Decode(path)
	if err != nil {
		return nil, err
	}
	if info.Channels != 1 || info.BitDepth != 16 {
		return nil, fmt.Errorf("flac encoding expects mono 16-bit, got %d channels %d-bit",
			info.Channels, info.BitDepth)
	}
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(uint16(data[i*2]) | uint16(data[i*2+1])<<8)
	}

	enc, err := NewFlac(info.SampleRate)
	if err != nil {
		return nil, err
	}
	for i := 0; i < len(samples); i += BlockSize {
		end := i + BlockSize
		if end > len(samples) {
			end = len(samples)
		}
		if err := enc.EncodeBlock(samples[i:end]); err != nil {
			return nil, err
		}
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return enc.Bytes(), nil
}

// ToWAV decodes a mono FLAC file back into a 16-bit WAV at wavPath.
func ToWAV(flacPath, wavPath string) error {
	stream, err := flac.ParseFile(flacPath)
	if err != nil {
		return fmt.Errorf("parsing flac: %w", err)
	}
	defer stream.Close()

	if stream.Info.NChannels != 1 {
		return fmt.Errorf("flac decoding expects mono, got %d channels", stream.Info.NChannels)
	}

	w, err := wav.Create(wavPath, 1, int(stream.Info.SampleRate), 16)
	if err != nil {
		return err
	}
	for {
		f, err := stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			w.Close()
			os.Remove(wavPath)
			return fmt.Errorf("decoding flac frame: %w", err)
		}
		samples := f.Subframes[0].Samples
		data := make([]byte, len(samples)*2)
		for i, s := range samples {
			data[i*2] = byte(uint16(int16(s)))
			data[i*2+1] = byte(uint16(int16(s)) >> 8)
		}
		if err := w.WriteFrames(data); err != nil {
			w.Close()
			os.Remove(wavPath)
			return err
		}
	}
	return w.Close()
}
