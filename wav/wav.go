// Package wav writes and reads RIFF/WAVE containers holding raw
// little-endian PCM. The writer is streaming: the header is written
// with placeholder sizes at open time and patched on Close from the
// bytes actually appended, so a file interrupted mid-write stays
// decodable up to the last flushed frame.
package wav

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const HeaderSize = 44

// Writer appends PCM frames to one container file. Writers share no
// state; any number of files can be open at once.
type Writer struct {
	f          *os.File
	channels   int
	sampleRate int
	bitDepth   int
	dataBytes  uint32
	closed     bool
}

// Create truncates path and writes a placeholder header.
func Create(path string, channels, sampleRate, bitDepth int) (*Writer, error) {
	if channels < 1 || sampleRate < 1 {
		return nil, fmt.Errorf("wav: invalid format %dch @ %dHz", channels, sampleRate)
	}
	if bitDepth != 16 {
		return nil, fmt.Errorf("wav: unsupported bit depth %d", bitDepth)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := &Writer{f: f, channels: channels, sampleRate: sampleRate, bitDepth: bitDepth}
	if err := w.writeHeader(0); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) writeHeader(dataSize uint32) error {
	byteRate := uint32(w.sampleRate * w.channels * w.bitDepth / 8)
	blockAlign := uint16(w.channels * w.bitDepth / 8)

	h := struct {
		RiffID      [4]byte
		RiffSize    uint32
		WaveID      [4]byte
		FmtID       [4]byte
		FmtSize     uint32
		AudioFormat uint16
		NumChannels uint16
		SampleRate  uint32
		ByteRate    uint32
		BlockAlign  uint16
		BitsPerSamp uint16
		DataID      [4]byte
		DataSize    uint32
	}{
		RiffID:      [4]byte{'R', 'I', 'F', 'F'},
		RiffSize:    36 + dataSize,
		WaveID:      [4]byte{'W', 'A', 'V', 'E'},
		FmtID:       [4]byte{'f', 'm', 't', ' '},
		FmtSize:     16,
		AudioFormat: 1, // PCM
		NumChannels: uint16(w.channels),
		SampleRate:  uint32(w.sampleRate),
		ByteRate:    byteRate,
		BlockAlign:  blockAlign,
		BitsPerSamp: uint16(w.bitDepth),
		DataID:      [4]byte{'d', 'a', 't', 'a'},
		DataSize:    dataSize,
	}
	return binary.Write(w.f, binary.LittleEndian, &h)
}

// WriteFrames appends raw little-endian sample bytes.
func (w *Writer) WriteFrames(p []byte) error {
	if w.closed {
		return fmt.Errorf("wav: write after close")
	}
	n, err := w.f.Write(p)
	w.dataBytes += uint32(n)
	return err
}

// Frames returns the number of frames written so far.
func (w *Writer) Frames() int {
	return int(w.dataBytes) / (w.channels * w.bitDepth / 8)
}

// Close patches the declared sizes from the bytes actually written,
// syncs and closes the file. Safe to call once per writer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if _, err := w.f.Seek(4, io.SeekStart); err != nil {
		w.f.Close()
		return err
	}
	if err := binary.Write(w.f, binary.LittleEndian, uint32(36+w.dataBytes)); err != nil {
		w.f.Close()
		return err
	}
	if _, err := w.f.Seek(40, io.SeekStart); err != nil {
		w.f.Close()
		return err
	}
	if err := binary.Write(w.f, binary.LittleEndian, w.dataBytes); err != nil {
		w.f.Close()
		return err
	}
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// Info describes a container's declared format.
type Info struct {
	Channels   int
	SampleRate int
	BitDepth   int
	DataBytes  uint32
}

// Frames returns the declared frame count.
func (i Info) Frames() int {
	bpf := i.Channels * i.BitDepth / 8
	if bpf == 0 {
		return 0
	}
	return int(i.DataBytes) / bpf
}

// Duration returns the declared length in seconds.
func (i Info) Duration() float64 {
	if i.SampleRate == 0 {
		return 0
	}
	return float64(i.Frames()) / float64(i.SampleRate)
}

// ReadInfo parses the header of a PCM container.
func ReadInfo(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()
	info, _, err := readHeader(f)
	return info, err
}

// Decode reads the whole container into memory: header info plus raw
// PCM data bytes. Intended for tests, tier toggles and the FLAC
// compressor, not for spool-sized files.
func Decode(path string) (Info, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, nil, err
	}
	defer f.Close()

	info, dataOff, err := readHeader(f)
	if err != nil {
		return Info{}, nil, err
	}
	if _, err := f.Seek(dataOff, io.SeekStart); err != nil {
		return Info{}, nil, err
	}
	data := make([]byte, info.DataBytes)
	if _, err := io.ReadFull(f, data); err != nil {
		return Info{}, nil, fmt.Errorf("wav: reading data chunk: %w", err)
	}
	return info, data, nil
}

func readHeader(f *os.File) (Info, int64, error) {
	var riff [12]byte
	if _, err := io.ReadFull(f, riff[:]); err != nil {
		return Info{}, 0, fmt.Errorf("wav: reading RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return Info{}, 0, fmt.Errorf("wav: not a RIFF/WAVE file")
	}

	var info Info
	haveFmt := false
	offset := int64(12)
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(f, chunk[:]); err != nil {
			return Info{}, 0, fmt.Errorf("wav: reading chunk header: %w", err)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])
		offset += 8

		switch id {
		case "fmt ":
			var fmtChunk [16]byte
			if _, err := io.ReadFull(f, fmtChunk[:]); err != nil {
				return Info{}, 0, fmt.Errorf("wav: reading fmt chunk: %w", err)
			}
			if format := binary.LittleEndian.Uint16(fmtChunk[0:2]); format != 1 {
				return Info{}, 0, fmt.Errorf("wav: unsupported format tag %d", format)
			}
			info.Channels = int(binary.LittleEndian.Uint16(fmtChunk[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(fmtChunk[4:8]))
			info.BitDepth = int(binary.LittleEndian.Uint16(fmtChunk[14:16]))
			haveFmt = true
			if skip := int64(size) - 16; skip > 0 {
				if _, err := f.Seek(skip, io.SeekCurrent); err != nil {
					return Info{}, 0, err
				}
				offset += skip
			}
			offset += 16
		case "data":
			if !haveFmt {
				return Info{}, 0, fmt.Errorf("wav: data chunk before fmt chunk")
			}
			info.DataBytes = size
			return info, offset, nil
		default:
			if _, err := f.Seek(int64(size), io.SeekCurrent); err != nil {
				return Info{}, 0, err
			}
			offset += int64(size)
		}
	}
}
