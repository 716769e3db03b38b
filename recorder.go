package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/mvult/secretary/audio"
	"github.com/mvult/secretary/capture"
	"github.com/mvult/secretary/config"
	"github.com/mvult/secretary/finalize"
	"github.com/mvult/secretary/log"
	"github.com/mvult/secretary/storage"
	"github.com/mvult/secretary/store"
	"github.com/mvult/secretary/transcriber"
)

var (
	ErrAlreadyActive = errors.New("a recording session is already active")
	ErrNoSession     = errors.New("no active recording session")
)

type finalizeOutcome struct {
	res finalize.Result
	err error
}

// Controller owns the single active capture session and drives the
// finalize, replication and enrichment stages after it stops.
type Controller struct {
	cfg      *config.Config
	ctx      audio.Context
	st       *store.Store
	pipeline *finalize.Pipeline
	tiers    *storage.Manager
	trans    transcriber.Transcriber
	summ     transcriber.Summarizer

	mu         sync.Mutex
	session    *capture.Session
	done       chan finalizeOutcome
	finalizing map[string]bool // output paths a finalize is still bound to
	enrichWG   sync.WaitGroup
}

func NewController(cfg *config.Config, ctx audio.Context, st *store.Store, tiers *storage.Manager,
	trans transcriber.Transcriber, summ transcriber.Summarizer) *Controller {
	return &Controller{
		cfg: cfg,
		ctx: ctx,
		st:  st,
		pipeline: finalize.New(st, finalize.Options{
			BlockFrames: cfg.ChunkFrames,
			WriteStems:  cfg.WriteStems,
		}),
		tiers:      tiers,
		trans:      trans,
		summ:       summ,
		finalizing: map[string]bool{},
	}
}

func defaultName(t time.Time) string {
	return "Recording " + t.Format("2006-01-02 15:04:05")
}

func outputFilename(t time.Time) string {
	return "recording_" + t.Format("20060102_150405") + ".wav"
}

// StartRecording opens a new capture session. Only one session can be
// active, and an output path still being finalized cannot be reused.
func (c *Controller) StartRecording(name string) (*capture.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return nil, ErrAlreadyActive
	}

	now := time.Now()
	if name == "" {
		name = defaultName(now)
	}
	outPath := filepath.Join(c.cfg.AudioDir, outputFilename(now))
	if c.finalizing[outPath] {
		return nil, fmt.Errorf("output %s is still being finalized", outPath)
	}

	s, err := capture.Start(c.ctx, capture.Config{
		DeviceMarker: c.cfg.DeviceMarker,
		Channels:     c.cfg.Channels,
		SampleRate:   c.cfg.SampleRate,
		ChunkFrames:  c.cfg.ChunkFrames,
		SpoolDir:     c.cfg.SpoolDir,
		MaxDuration:  c.cfg.MaxDuration(),
	}, c.st, name, outPath)
	if err != nil {
		return nil, err
	}

	c.session = s
	c.done = make(chan finalizeOutcome, 1)
	go c.watch(s, c.done)
	return s, nil
}

// watch waits for the session to end by any path (stop, ceiling or
// abort) and runs the post-capture stages exactly once.
func (c *Controller) watch(s *capture.Session, done chan finalizeOutcome) {
	<-s.Done()

	if s.State() == capture.Aborted {
		c.clearSession()
		done <- finalizeOutcome{err: s.Err()}
		return
	}

	h := s.Result()
	c.mu.Lock()
	c.finalizing[h.OutPath] = true
	c.mu.Unlock()

	res, err := c.pipeline.Run(h)
	s.MarkClosed()

	c.mu.Lock()
	delete(c.finalizing, h.OutPath)
	c.mu.Unlock()
	c.clearSession()

	if err == nil {
		c.enrichWG.Add(1)
		go func() {
			defer c.enrichWG.Done()
			c.postFinalize(h.RecordingID, res)
		}()
	}
	done <- finalizeOutcome{res: res, err: err}
}

func (c *Controller) clearSession() {
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
}

// StopRecording stops the active session and waits for finalization.
func (c *Controller) StopRecording() (finalize.Result, error) {
	c.mu.Lock()
	s := c.session
	done := c.done
	c.mu.Unlock()
	if s == nil {
		return finalize.Result{}, ErrNoSession
	}

	if _, err := s.Stop(); err != nil {
		// The watcher already consumed the abort; surface it here too.
		o := <-done
		if o.err == nil {
			o.err = err
		}
		return finalize.Result{}, o.err
	}
	o := <-done
	return o.res, o.err
}

// Active returns the current session, or nil.
func (c *Controller) Active() *capture.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// WaitIdle blocks until background enrichment has drained. Used on
// shutdown and in tests.
func (c *Controller) WaitIdle() {
	c.enrichWG.Wait()
}

// postFinalize runs replication and enrichment. Failures are logged
// and leave the recording intact; nothing here re-runs capture.
func (c *Controller) postFinalize(id uint, res finalize.Result) {
	ctx := context.Background()

	if c.tiers != nil && c.cfg.NASDir != "" {
		if err := c.tiers.EnsureNAS(ctx, id); err != nil {
			log.Warnf("nas replication for recording %d: %v", id, err)
		}
	}
	if c.tiers != nil && c.cfg.CloudEnabled() {
		if err := c.tiers.EnsureCloud(ctx, id); err != nil {
			log.Warnf("cloud replication for recording %d: %v", id, err)
		}
	}

	if c.trans == nil {
		return
	}
	text, err := c.trans.Transcribe(ctx, res.OutPath)
	log.Enrichment(id, "transcript", err)
	if err != nil || text == "" {
		return
	}
	if err := c.st.SetTranscript(id, text); err != nil {
		log.Warnf("saving transcript for recording %d: %v", id, err)
		return
	}
	if c.summ == nil {
		return
	}
	summary, err := c.summ.Summarize(ctx, text)
	log.Enrichment(id, "summary", err)
	if err != nil || summary == "" {
		return
	}
	if err := c.st.SetSummary(id, summary); err != nil {
		log.Warnf("saving summary for recording %d: %v", id, err)
	}
}

// Status describes the controller state for the command loop.
func (c *Controller) Status() string {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return "idle"
	}
	return fmt.Sprintf("%s: recording %d, %s elapsed, %d KB spooled",
		s.State(), s.RecordingID(),
		s.Elapsed().Truncate(time.Second), s.SpooledBytes()/1024)
}
