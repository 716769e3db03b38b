package log

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setupLogDir(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	SetDir(tmp)
	t.Cleanup(func() { Close(); SetDir("") })
	return tmp
}

func TestResolveDirFlag(t *testing.T) {
	got, err := ResolveDir("/tmp/mylog")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/tmp/mylog" {
		t.Errorf("got %q, want /tmp/mylog", got)
	}
}

func TestResolveDirFlagRelative(t *testing.T) {
	got, err := ResolveDir("logs")
	if err != nil {
		t.Fatal(err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(wd, "logs")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolveDirEnv(t *testing.T) {
	t.Setenv("SECRETARY_LOG_PATH", "/tmp/secretary-env-log")
	got, err := ResolveDir("")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/tmp/secretary-env-log" {
		t.Errorf("got %q, want /tmp/secretary-env-log", got)
	}
}

func TestResolveDirDefault(t *testing.T) {
	t.Setenv("SECRETARY_LOG_PATH", "")
	got, err := ResolveDir("")
	if err != nil {
		t.Fatal(err)
	}
	if got == "" {
		t.Error("expected non-empty default directory")
	}
}

func TestInitWritesEvents(t *testing.T) {
	tmp := setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}

	SessionStart(7, "Recording 1", "Aggregate Device", 3, 48000)
	CaptureStop(7, "requested", 1234, 5.0)
	FinalizeFailed(7, "/tmp/7.spool", errors.New("disk full"))
	Close()

	data, err := os.ReadFile(filepath.Join(tmp, "diagnostics_log.txt"))
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	for _, want := range []string{"capture_start", "capture_stop", "finalize_failed", "Aggregate Device", "spool_preserved"} {
		if !strings.Contains(text, want) {
			t.Errorf("diagnostics log missing %q, got:\n%s", want, text)
		}
	}
}

func TestHelpersSafeBeforeInit(t *testing.T) {
	setupLogDir(t)
	// Not initialized -- every helper must be a no-op, not a panic.
	Info("x")
	Warnf("x %d", 1)
	Errorf("x %v", errors.New("e"))
	SessionStart(1, "n", "d", 1, 16000)
	Replication(1, "nas", "", errors.New("unreachable"))
}

func TestCloseIdempotent(t *testing.T) {
	setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}
	Close()
	Close() // should not panic
}
