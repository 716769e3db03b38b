// Package capture owns one recording's producer loop: it opens the
// aggregate device, pulls chunks off the stream and spools them to
// disk untouched until the session stops and the spool is handed to
// finalization. Exactly one writer owns the device and spool handles;
// every exit path funnels through one idempotent teardown.
package capture

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mvult/secretary/audio"
	"github.com/mvult/secretary/log"
)

// State of a capture session. Transitions are one-directional:
// Idle → Opening → Capturing → Stopping → Finalizing → Closed, with
// Aborted reachable from any non-Closed state.
type State int32

const (
	Idle State = iota
	Opening
	Capturing
	Stopping
	Finalizing
	Closed
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Opening:
		return "opening"
	case Capturing:
		return "capturing"
	case Stopping:
		return "stopping"
	case Finalizing:
		return "finalizing"
	case Closed:
		return "closed"
	case Aborted:
		return "aborted"
	}
	return "unknown"
}

// Stop reasons recorded in the handoff.
const (
	ReasonRequested = "requested"
	ReasonCeiling   = "ceiling"
)

// ErrPersistence wraps a failure to create the recording record. Start
// is aborted before any audio is captured.
var ErrPersistence = errors.New("creating recording record failed")

// Creator is the slice of the persistence layer the session needs at
// start time: the recording row must exist before the first read so a
// crash mid-capture still leaves a discoverable entry.
type Creator interface {
	Create(name, localPath string) (uint, error)
}

type Config struct {
	DeviceMarker string
	Channels     int
	SampleRate   int
	ChunkFrames  int
	SpoolDir     string
	MaxDuration  time.Duration
}

// Handoff carries everything finalization needs once capture stops.
type Handoff struct {
	RecordingID  uint
	SpoolPath    string
	OutPath      string
	Channels     int
	SampleRate   int
	SpooledBytes int64
	Elapsed      time.Duration
	Reason       string
}

type Session struct {
	cfg     Config
	dev     audio.CaptureDevice
	devName string

	recID     uint
	name      string
	outPath   string
	spoolPath string
	spool     *os.File

	startedAt time.Time
	state     atomic.Int32
	spooled   atomic.Int64

	chunks chan []byte
	devErr chan error
	stopCh chan struct{} // closed by Stop()
	quit   chan struct{} // closed by the loop on its way out
	done   chan struct{} // closed once teardown finished

	stopOnce     sync.Once
	teardownOnce sync.Once
	teardownErr  error

	handoff  Handoff
	abortErr error
}

// Start locates the aggregate device, creates the recording record,
// opens the spool and the stream, and launches the capture loop. On
// any failure it cleans up and returns an error; no session exists.
func Start(ctx audio.Context, cfg Config, creator Creator, name, outPath string) (*Session, error) {
	dev, err := audio.FindAggregate(ctx, cfg.DeviceMarker)
	if err != nil {
		return nil, err
	}
	if cfg.Channels > dev.MaxInputChannels {
		return nil, fmt.Errorf("device %q has %d input channels, need %d",
			dev.Name, dev.MaxInputChannels, cfg.Channels)
	}

	s := &Session{
		cfg:     cfg,
		devName: dev.Name,
		name:    name,
		outPath: outPath,
		chunks:  make(chan []byte, 64),
		devErr:  make(chan error, 1),
		stopCh:  make(chan struct{}),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.state.Store(int32(Opening))

	// Record first: a crash before finalize must still leave a row.
	recID, err := creator.Create(name, outPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	s.recID = recID

	if err := os.MkdirAll(cfg.SpoolDir, 0755); err != nil {
		return nil, fmt.Errorf("creating spool dir: %w", err)
	}
	s.spoolPath = filepath.Join(cfg.SpoolDir,
		fmt.Sprintf("rec_%d_%s.spool", recID, uuid.NewString()[:8]))
	spool, err := os.Create(s.spoolPath)
	if err != nil {
		return nil, fmt.Errorf("creating spool file: %w", err)
	}
	s.spool = spool

	capDev, err := ctx.NewCapture(dev, audio.CaptureConfig{
		SampleRate: uint32(cfg.SampleRate),
		Channels:   uint32(cfg.Channels),
	})
	if err != nil {
		spool.Close()
		os.Remove(s.spoolPath) // nothing captured yet
		return nil, fmt.Errorf("opening capture stream: %w", err)
	}
	s.dev = capDev

	capDev.SetCallbacks(audio.Callbacks{
		Data: func(data []byte, _ uint32) {
			chunk := make([]byte, len(data))
			copy(chunk, data)
			select {
			case s.chunks <- chunk:
			case <-s.quit:
			}
		},
		Error: func(err error) {
			select {
			case s.devErr <- err:
			default:
			}
		},
	})

	if err := capDev.Start(); err != nil {
		capDev.ClearCallbacks()
		capDev.Close()
		spool.Close()
		os.Remove(s.spoolPath)
		return nil, fmt.Errorf("starting capture stream: %w", err)
	}

	s.startedAt = time.Now()
	s.state.Store(int32(Capturing))
	log.SessionStart(recID, name, dev.Name, cfg.Channels, cfg.SampleRate)

	go s.loop()
	return s, nil
}

func (s *Session) State() State      { return State(s.state.Load()) }
func (s *Session) RecordingID() uint { return s.recID }
func (s *Session) SpoolPath() string { return s.spoolPath }
func (s *Session) OutPath() string   { return s.outPath }
func (s *Session) DeviceName() string { return s.devName }

// Err returns the abort cause, if any.
func (s *Session) Err() error { return s.abortErr }

// Done closes when the capture loop has exited and teardown finished,
// whether by Stop, ceiling or abort.
func (s *Session) Done() <-chan struct{} { return s.done }

// Elapsed returns the capture duration so far.
func (s *Session) Elapsed() time.Duration {
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

// SpooledBytes returns the number of bytes durably appended so far.
func (s *Session) SpooledBytes() int64 { return s.spooled.Load() }

func (s *Session) loop() {
	ceiling := time.NewTimer(s.cfg.MaxDuration)
	defer ceiling.Stop()

	for {
		select {
		case <-s.stopCh:
			s.finish(ReasonRequested)
			return
		case <-ceiling.C:
			// Policy stop, not an error.
			log.Infof("capture ceiling reached after %s, stopping", s.cfg.MaxDuration)
			s.finish(ReasonCeiling)
			return
		case err := <-s.devErr:
			s.abort(fmt.Errorf("device read: %w", err))
			return
		case chunk := <-s.chunks:
			if err := s.append(chunk); err != nil {
				s.abort(err)
				return
			}
		}
	}
}

func (s *Session) append(chunk []byte) error {
	if _, err := s.spool.Write(chunk); err != nil {
		return fmt.Errorf("spool write: %w", err)
	}
	s.spooled.Add(int64(len(chunk)))
	return nil
}

// finish completes a normal stop: drain what the device already
// delivered, release everything, and publish the handoff.
func (s *Session) finish(reason string) {
	defer close(s.done)
	s.state.Store(int32(Stopping))
	close(s.quit)
	s.drain()
	elapsed := time.Since(s.startedAt)
	if err := s.teardown(); err != nil {
		log.Warnf("teardown after %s stop: %v", reason, err)
	}
	s.handoff = Handoff{
		RecordingID:  s.recID,
		SpoolPath:    s.spoolPath,
		OutPath:      s.outPath,
		Channels:     s.cfg.Channels,
		SampleRate:   s.cfg.SampleRate,
		SpooledBytes: s.spooled.Load(),
		Elapsed:      elapsed,
		Reason:       reason,
	}
	s.state.Store(int32(Finalizing))
	log.CaptureStop(s.recID, reason, s.spooled.Load(), elapsed.Seconds())
}

// abort tears the session down after an unrecoverable error. The spool
// file always stays on disk: it is the only copy of the audio.
func (s *Session) abort(cause error) {
	defer close(s.done)
	s.state.Store(int32(Aborted))
	close(s.quit)
	s.drain()
	if err := s.teardown(); err != nil {
		cause = errors.Join(cause, err)
	}
	s.abortErr = cause
	log.CaptureAbort(s.recID, "capturing", cause, s.spoolPath)
}

// drain writes chunks the device delivered before the loop decided to
// exit. Successfully read audio is never dropped.
func (s *Session) drain() {
	for {
		select {
		case chunk := <-s.chunks:
			if err := s.append(chunk); err != nil {
				log.Warnf("spool drain: %v", err)
				return
			}
		default:
			return
		}
	}
}

// teardown releases the device and spool handles exactly once. The
// spool is flushed and fsync'd before its handle closes so every
// captured byte survives a crash immediately after. Repeat calls
// return the first result; double close never faults.
func (s *Session) teardown() error {
	s.teardownOnce.Do(func() {
		var errs []error
		if s.dev != nil {
			s.dev.Stop()
			s.dev.ClearCallbacks()
			s.dev.Close()
		}
		if s.spool != nil {
			if err := s.spool.Sync(); err != nil {
				errs = append(errs, fmt.Errorf("spool sync: %w", err))
			}
			if err := s.spool.Close(); err != nil {
				errs = append(errs, fmt.Errorf("spool close: %w", err))
			}
		}
		s.teardownErr = errors.Join(errs...)
	})
	return s.teardownErr
}

// Stop requests a cooperative stop, waits for the spool to be durable
// and returns the finalization handoff. Stopping an already-finished
// session is safe; an aborted session returns its abort cause.
func (s *Session) Stop() (Handoff, error) {
	s.stopOnce.Do(func() {
		select {
		case <-s.done:
		default:
			close(s.stopCh)
		}
	})
	<-s.done
	if s.State() == Aborted {
		return Handoff{}, s.abortErr
	}
	return s.handoff, nil
}

// Handoff returns the published handoff after the loop finished. Only
// valid once Done is closed and the session did not abort.
func (s *Session) Result() Handoff { return s.handoff }

// MarkClosed transitions Finalizing → Closed once the finalize
// pipeline reports completion.
func (s *Session) MarkClosed() {
	s.state.CompareAndSwap(int32(Finalizing), int32(Closed))
}
