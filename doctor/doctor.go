// Package doctor runs environment diagnostics: directories, database,
// aggregate device presence and a short live capture.
package doctor

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/mvult/secretary/audio"
	"github.com/mvult/secretary/config"
	"github.com/mvult/secretary/store"
)

// Run executes the diagnostic checks and returns an exit code
// (0=all pass, 1=any fail).
func Run(cfg *config.Config) int {
	fmt.Println("secretary doctor - system diagnostics")
	fmt.Println("=====================================")

	allPass := true

	if !checkDirs(cfg) {
		allPass = false
	}
	if !checkDatabase(cfg) {
		allPass = false
	}
	if allPass && !checkCapture(cfg) {
		allPass = false
	}

	fmt.Println()
	if allPass {
		fmt.Println("All checks passed!")
		return 0
	}
	fmt.Println("Some checks failed. See details above.")
	return 1
}

func checkDirs(cfg *config.Config) bool {
	fmt.Println()
	fmt.Println("[1/3] Directories")

	ok := true
	for _, d := range []struct{ label, path string }{
		{"audio", cfg.AudioDir},
		{"spool", cfg.SpoolDir},
	} {
		if err := os.MkdirAll(d.path, 0755); err != nil {
			fmt.Printf("  FAIL: %s dir %s: %v\n", d.label, d.path, err)
			ok = false
			continue
		}
		probe := filepath.Join(d.path, ".doctor_probe")
		if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
			fmt.Printf("  FAIL: %s dir %s not writable: %v\n", d.label, d.path, err)
			ok = false
			continue
		}
		os.Remove(probe)
		fmt.Printf("  PASS: %s dir %s writable\n", d.label, d.path)
	}
	if cfg.NASDir != "" {
		if _, err := os.Stat(cfg.NASDir); err != nil {
			fmt.Printf("  WARN: nas dir %s not reachable: %v\n", cfg.NASDir, err)
		} else {
			fmt.Printf("  PASS: nas dir %s reachable\n", cfg.NASDir)
		}
	}
	return ok
}

func checkDatabase(cfg *config.Config) bool {
	fmt.Println()
	fmt.Println("[2/3] Database")

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755); err != nil {
		fmt.Printf("  FAIL: database dir: %v\n", err)
		return false
	}
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	recs, err := st.List(true)
	if err != nil {
		fmt.Printf("  FAIL: listing recordings: %v\n", err)
		return false
	}
	fmt.Printf("  PASS: %s opened, %d recordings\n", cfg.DatabasePath, len(recs))
	return true
}

func checkCapture(cfg *config.Config) bool {
	fmt.Println()
	fmt.Println("[3/3] Aggregate device capture")

	ctx, err := audio.NewContext()
	if err != nil {
		fmt.Printf("  FAIL: cannot connect to audio: %v\n", err)
		return false
	}
	defer ctx.Close()

	dev, err := audio.FindAggregate(ctx, cfg.DeviceMarker)
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		devices, lerr := ctx.Devices()
		if lerr == nil {
			fmt.Println("  Available capture devices:")
			for _, d := range devices {
				fmt.Printf("    %s (%d in)\n", d.Name, d.MaxInputChannels)
			}
		}
		return false
	}
	fmt.Printf("  Found %q with %d input channels\n", dev.Name, dev.MaxInputChannels)
	if dev.MaxInputChannels < cfg.Channels {
		fmt.Printf("  FAIL: device has %d channels, config wants %d\n",
			dev.MaxInputChannels, cfg.Channels)
		return false
	}

	capDev, err := ctx.NewCapture(dev, audio.CaptureConfig{
		SampleRate: uint32(cfg.SampleRate),
		Channels:   uint32(cfg.Channels),
	})
	if err != nil {
		fmt.Printf("  FAIL: opening capture stream: %v\n", err)
		return false
	}
	defer capDev.Close()

	var captured atomic.Int64
	capDev.SetCallbacks(audio.Callbacks{
		Data: func(data []byte, _ uint32) {
			captured.Add(int64(len(data)))
		},
	})
	if err := capDev.Start(); err != nil {
		fmt.Printf("  FAIL: starting capture: %v\n", err)
		return false
	}

	fmt.Print("  Recording 2 seconds")
	for i := 0; i < 4; i++ {
		time.Sleep(500 * time.Millisecond)
		fmt.Print(".")
	}
	fmt.Println(" done")
	capDev.Stop()
	capDev.ClearCallbacks()

	got := captured.Load()
	if got == 0 {
		fmt.Println("  FAIL: no audio captured")
		return false
	}
	fmt.Printf("  PASS: captured %.1f KB\n", float64(got)/1024)
	return true
}
