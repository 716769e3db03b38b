// Package finalize turns a raw interleaved spool into the durable
// mono WAV artifact and updates the recording record. The spool is
// the only copy of the audio until the WAV is fully on disk, so the
// order here is strict: convert, sync, then delete the spool, then
// persist. A conversion failure removes the partial WAV and leaves
// the spool untouched for manual recovery.
package finalize

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mvult/secretary/analyze"
	"github.com/mvult/secretary/capture"
	"github.com/mvult/secretary/log"
	"github.com/mvult/secretary/wav"
)

const (
	defaultBlockFrames = 4096
	// Layout detection inspects the first ten seconds of audio.
	analysisSeconds = 10
)

// Store is the slice of persistence finalization needs.
type Store interface {
	SetFinalized(id uint, durationSeconds float64, localPath string) error
	MarkFinalizeFailed(id uint, note string) error
}

type Options struct {
	BlockFrames   int           // frames converted per block; 0 = default
	WriteStems    bool          // also emit system/mic stem WAVs
	RetryInterval time.Duration // initial backoff for the record update; 0 = default
}

type Result struct {
	OutPath         string
	DurationSeconds float64
	Layout          analyze.Layout
	StemPaths       []string
}

type Pipeline struct {
	store Store
	opts  Options
}

func New(store Store, opts Options) *Pipeline {
	if opts.BlockFrames <= 0 {
		opts.BlockFrames = defaultBlockFrames
	}
	return &Pipeline{store: store, opts: opts}
}

// Run executes the full finalize sequence for one stopped session.
func (p *Pipeline) Run(h capture.Handoff) (Result, error) {
	layout, rms, err := detectLayout(h.SpoolPath, h.Channels, h.SampleRate)
	if err != nil {
		// Detection failing is not fatal; the mono mix uses every
		// channel regardless.
		log.Warnf("channel layout detection: %v", err)
		layout = analyze.Layout{TotalChannels: h.Channels}
	} else {
		logLayout(h.RecordingID, layout, rms)
	}

	frames, err := Convert(h.SpoolPath, h.OutPath, h.Channels, h.SampleRate, p.opts.BlockFrames)
	if err != nil {
		p.failed(h, fmt.Errorf("converting spool: %w", err))
		return Result{}, fmt.Errorf("converting spool: %w", err)
	}

	res := Result{
		OutPath:         h.OutPath,
		DurationSeconds: float64(frames) / float64(h.SampleRate),
		Layout:          layout,
	}

	if p.opts.WriteStems {
		stems, err := writeStems(h.SpoolPath, h.OutPath, layout, h.SampleRate, p.opts.BlockFrames)
		if err != nil {
			// Stems are a convenience; the mono artifact stands alone.
			log.Warnf("writing stems: %v", err)
		}
		res.StemPaths = stems
	}

	// The WAV is durable now; the spool has served its purpose.
	if err := os.Remove(h.SpoolPath); err != nil {
		log.Warnf("removing spool %s: %v", h.SpoolPath, err)
	}

	persist := func() error {
		return p.store.SetFinalized(h.RecordingID, res.DurationSeconds, h.OutPath)
	}
	bo := backoff.NewExponentialBackOff()
	if p.opts.RetryInterval > 0 {
		bo.InitialInterval = p.opts.RetryInterval
	}
	if err := backoff.Retry(persist, backoff.WithMaxRetries(bo, 4)); err != nil {
		// The artifact exists even if the record update keeps failing.
		log.FinalizeFailed(h.RecordingID, h.SpoolPath, err)
		return res, fmt.Errorf("persisting finalized recording %d: %w", h.RecordingID, err)
	}

	log.FinalizeDone(h.RecordingID, h.OutPath, res.DurationSeconds)
	return res, nil
}

func (p *Pipeline) failed(h capture.Handoff, cause error) {
	os.Remove(h.OutPath) // partial output, if any
	log.FinalizeFailed(h.RecordingID, h.SpoolPath, cause)
	if err := p.store.MarkFinalizeFailed(h.RecordingID, "finalize failed, spool preserved at "+h.SpoolPath); err != nil {
		log.Warnf("marking recording %d failed: %v", h.RecordingID, err)
	}
}

func logLayout(id uint, l analyze.Layout, rms []float64) {
	pair := "none"
	if l.SystemPair != nil {
		pair = fmt.Sprintf("%d,%d", l.SystemPair[0], l.SystemPair[1])
	}
	mic := -1
	if l.MicIndex != nil {
		mic = *l.MicIndex
	}
	log.ChannelLayout(id, l.TotalChannels, rms, pair, mic)
}

// Convert streams the interleaved 16-bit spool through the mono
// downmix into a WAV at outPath and returns the frame count written.
// The block size does not affect the output bytes.
func Convert(spoolPath, outPath string, channels, sampleRate, blockFrames int) (int, error) {
	if blockFrames <= 0 {
		blockFrames = defaultBlockFrames
	}
	in, err := os.Open(spoolPath)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	w, err := wav.Create(outPath, 1, sampleRate, 16)
	if err != nil {
		return 0, err
	}

	buf := make([]byte, blockFrames*channels*2)
	for {
		n, err := io.ReadFull(in, buf)
		if n > 0 {
			samples := analyze.ToSamples(buf[:n], channels)
			mono := analyze.DownmixToMono(samples, channels)
			if werr := w.WriteFrames(analyze.SamplesToBytes(mono)); werr != nil {
				w.Close()
				os.Remove(outPath)
				return 0, werr
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			w.Close()
			os.Remove(outPath)
			return 0, err
		}
	}

	frames := w.Frames()
	if err := w.Close(); err != nil {
		os.Remove(outPath)
		return 0, err
	}
	return frames, nil
}

// detectLayout inspects the opening window of the spool and infers
// which channels are the correlated system pair and which is the mic.
func detectLayout(spoolPath string, channels, sampleRate int) (analyze.Layout, []float64, error) {
	in, err := os.Open(spoolPath)
	if err != nil {
		return analyze.Layout{}, nil, err
	}
	defer in.Close()

	window := make([]byte, analysisSeconds*sampleRate*channels*2)
	n, err := io.ReadFull(in, window)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return analyze.Layout{}, nil, err
	}
	if n == 0 {
		return analyze.Layout{TotalChannels: channels}, nil, nil
	}
	samples := analyze.ToSamples(window[:n], channels)
	return analyze.DetectLayout(samples, channels), analyze.RMS(samples, channels), nil
}

// writeStems emits per-role WAVs next to the mono artifact: the system
// pair mixed down to one channel and, when identified, the raw mic
// channel. Returns the paths written.
func writeStems(spoolPath, outPath string, layout analyze.Layout, sampleRate, blockFrames int) ([]string, error) {
	if layout.SystemPair == nil && layout.MicIndex == nil {
		return nil, nil
	}
	channels := layout.TotalChannels

	var paths []string
	if layout.SystemPair != nil {
		path := stemPath(outPath, "system")
		err := writeChannelMix(spoolPath, path, channels, sampleRate, blockFrames,
			layout.SystemPair[0], layout.SystemPair[1])
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	if layout.MicIndex != nil {
		path := stemPath(outPath, "mic")
		err := writeChannelMix(spoolPath, path, channels, sampleRate, blockFrames, *layout.MicIndex)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func stemPath(outPath, role string) string {
	base := strings.TrimSuffix(outPath, ".wav")
	return base + "." + role + ".wav"
}

func writeChannelMix(spoolPath, outPath string, channels, sampleRate, blockFrames int, picks ...int) error {
	in, err := os.Open(spoolPath)
	if err != nil {
		return err
	}
	defer in.Close()

	w, err := wav.Create(outPath, 1, sampleRate, 16)
	if err != nil {
		return err
	}

	buf := make([]byte, blockFrames*channels*2)
	for {
		n, err := io.ReadFull(in, buf)
		if n > 0 {
			samples := analyze.ToSamples(buf[:n], channels)
			picked := analyze.ExtractChannels(samples, channels, picks...)
			mono := analyze.DownmixToMono(picked, len(picks))
			if werr := w.WriteFrames(analyze.SamplesToBytes(mono)); werr != nil {
				w.Close()
				os.Remove(outPath)
				return werr
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			w.Close()
			os.Remove(outPath)
			return err
		}
	}
	if err := w.Close(); err != nil {
		os.Remove(outPath)
		return err
	}
	return nil
}
