// Package log is the diagnostics log for the recorder. It wraps
// zerolog with a console-format writer into a size-rotated file plus
// typed helpers for the events the capture and finalize paths emit.
package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	diagLog  zerolog.Logger
	diagOut  *lumberjack.Logger
	logMu    sync.Mutex
	logReady bool
	pid      int
	dir      string
)

// ResolveDir picks the log directory: flag, then SECRETARY_LOG_PATH,
// then an OS default under the user's home.
func ResolveDir(flagPath string) (string, error) {
	for _, p := range []string{flagPath, os.Getenv("SECRETARY_LOG_PATH")} {
		if p == "" {
			continue
		}
		if !filepath.IsAbs(p) {
			wd, err := os.Getwd()
			if err != nil {
				return "", err
			}
			return filepath.Join(wd, p), nil
		}
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".secretary", "logs"), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	diagOut = &lumberjack.Logger{
		Filename:   filepath.Join(dir, "diagnostics_log.txt"),
		MaxSize:    20, // MB
		MaxBackups: 3,
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagOut,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagOut != nil {
		diagOut.Close()
		diagOut = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func SessionStart(recordingID uint, name, device string, channels, sampleRate int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Uint("recording_id", recordingID).
		Str("name", name).
		Str("device", device).
		Int("channels", channels).
		Int("sample_rate", sampleRate).
		Msg("capture_start")
}

func CaptureStop(recordingID uint, reason string, spooledBytes int64, elapsedS float64) {
	if !logReady {
		return
	}
	diagLog.Info().
		Uint("recording_id", recordingID).
		Str("reason", reason).
		Int64("spooled_bytes", spooledBytes).
		Float64("elapsed_s", elapsedS).
		Msg("capture_stop")
}

func CaptureAbort(recordingID uint, stage string, err error, spoolPath string) {
	if !logReady {
		return
	}
	diagLog.Error().
		Uint("recording_id", recordingID).
		Str("stage", stage).
		Str("spool_preserved", spoolPath).
		Err(err).
		Msg("capture_abort")
}

func ChannelLayout(recordingID uint, channels int, rms []float64, pair string, mic int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Uint("recording_id", recordingID).
		Int("channels", channels).
		Floats64("rms", rms).
		Str("system_pair", pair).
		Int("mic_index", mic).
		Msg("channel_layout")
}

func FinalizeDone(recordingID uint, outPath string, durationS float64) {
	if !logReady {
		return
	}
	diagLog.Info().
		Uint("recording_id", recordingID).
		Str("out", outPath).
		Float64("duration_s", durationS).
		Msg("finalize_done")
}

func FinalizeFailed(recordingID uint, spoolPath string, err error) {
	if !logReady {
		return
	}
	diagLog.Error().
		Uint("recording_id", recordingID).
		Str("spool_preserved", spoolPath).
		Err(err).
		Msg("finalize_failed")
}

func Replication(recordingID uint, tier, dest string, err error) {
	if !logReady {
		return
	}
	ev := diagLog.Info()
	if err != nil {
		ev = diagLog.Warn().Err(err)
	}
	ev.Uint("recording_id", recordingID).
		Str("tier", tier).
		Str("dest", dest).
		Msg("replication")
}

func Enrichment(recordingID uint, kind string, err error) {
	if !logReady {
		return
	}
	ev := diagLog.Info()
	if err != nil {
		ev = diagLog.Warn().Err(err)
	}
	ev.Uint("recording_id", recordingID).Str("kind", kind).Msg("enrichment")
}
