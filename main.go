package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/mvult/secretary/audio"
	"github.com/mvult/secretary/config"
	"github.com/mvult/secretary/doctor"
	"github.com/mvult/secretary/log"
	"github.com/mvult/secretary/shutdown"
	"github.com/mvult/secretary/storage"
	"github.com/mvult/secretary/store"
	"github.com/mvult/secretary/transcriber"
)

var version = "dev"

func main() {
	configFlag := flag.String("config", "", "Config file path (default: ~/.secretary/config.yaml)")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	doctorFlag := flag.Bool("doctor", false, "Run system diagnostics and exit")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("secretary %s\n", version)
		os.Exit(0)
	}

	logPath, err := log.ResolveDir(*logPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *doctorFlag {
		os.Exit(doctor.Run(cfg))
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	for _, dir := range []string{cfg.AudioDir, cfg.SpoolDir, filepath.Dir(cfg.DatabasePath)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Fprintf(os.Stderr, "Error initializing audio context: %v\n", err)
		os.Exit(1)
	}
	defer ctx.Close()

	var cloud storage.Cloud
	if cfg.CloudEnabled() {
		azure, err := storage.NewAzureClient(cfg.Azure.ConnectionString, cfg.Azure.Container)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cloud = azure
	}
	tiers := storage.New(st, storage.Config{
		LocalDir:      cfg.AudioDir,
		NASDir:        cfg.NASDir,
		Cloud:         cloud,
		CompressCloud: cfg.Azure.Compress,
	})

	var trans transcriber.Transcriber
	if cfg.DeepgramKey != "" {
		trans = transcriber.NewDeepgram(cfg.DeepgramKey)
	}
	var summ transcriber.Summarizer
	if cfg.OpenAIKey != "" {
		summ = transcriber.NewOpenAI(cfg.OpenAIKey)
	}

	ctl := NewController(cfg, ctx, st, tiers, trans, summ)

	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)
	go func() {
		<-sigChan
		// Stop cleanly so the spool is never left mid-write.
		if ctl.Active() != nil {
			fmt.Println("\nstopping recording...")
			if _, err := ctl.StopRecording(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
		}
		ctl.WaitIdle()
		log.Close()
		os.Exit(0)
	}()

	fmt.Printf("secretary %s — type 'help' for commands\n", version)
	commandLoop(ctl, st, tiers)

	ctl.WaitIdle()
}

func commandLoop(ctl *Controller, st *store.Store, tiers *storage.Manager) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			if ctl.Active() != nil {
				ctl.StopRecording()
			}
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd, args := fields[0], fields[1:]

		switch cmd {
		case "help":
			printHelp()
		case "rec", "record":
			name := strings.TrimSpace(strings.TrimPrefix(line, cmd))
			s, err := ctl.StartRecording(name)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			fmt.Printf("recording %d started on %q\n", s.RecordingID(), s.DeviceName())
		case "stop":
			res, err := ctl.StopRecording()
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			fmt.Printf("saved %s (%.1fs)\n", res.OutPath, res.DurationSeconds)
		case "status":
			fmt.Println(ctl.Status())
		case "list":
			listRecordings(st, len(args) > 0 && args[0] == "all")
		case "show":
			withID(args, func(id uint) { showRecording(st, id) })
		case "name":
			if len(args) < 2 {
				fmt.Println("usage: name <id> <new name>")
				continue
			}
			withID(args[:1], func(id uint) {
				report(st.Rename(id, strings.Join(args[1:], " ")))
			})
		case "tier":
			handleTier(tiers, args)
		case "archive":
			withID(args, func(id uint) { report(st.SetArchived(id, true)) })
		case "unarchive":
			withID(args, func(id uint) { report(st.SetArchived(id, false)) })
		case "delete":
			withID(args, func(id uint) {
				report(tiers.DeleteEverywhere(context.Background(), id))
			})
		case "quit", "exit":
			if ctl.Active() != nil {
				fmt.Println("stopping recording...")
				if _, err := ctl.StopRecording(); err != nil {
					fmt.Printf("Error: %v\n", err)
				}
			}
			return
		default:
			fmt.Printf("unknown command %q, type 'help'\n", cmd)
		}
	}
}

func printHelp() {
	fmt.Println(`commands:
  rec [name]                start recording (optional name)
  stop                      stop and finalize the active recording
  status                    show session state
  list [all]                list recordings (all includes archived)
  show <id>                 show one recording's details
  name <id> <new name>      rename a recording
  tier <id> <local|nas|cloud> <on|off>
                            place or remove a storage copy
  archive <id> / unarchive <id>
  delete <id>               delete every copy and the record
  quit`)
}

func withID(args []string, fn func(uint)) {
	if len(args) < 1 {
		fmt.Println("Error: recording id required")
		return
	}
	id, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		fmt.Printf("Error: bad id %q\n", args[0])
		return
	}
	fn(uint(id))
}

func report(err error) {
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println("ok")
}

func handleTier(tiers *storage.Manager, args []string) {
	if len(args) != 3 || (args[2] != "on" && args[2] != "off") {
		fmt.Println("usage: tier <id> <local|nas|cloud> <on|off>")
		return
	}
	on := args[2] == "on"
	withID(args[:1], func(id uint) {
		ctx := context.Background()
		var err error
		switch args[1] {
		case "local":
			err = tiers.ToggleLocal(ctx, id, on)
		case "nas":
			err = tiers.ToggleNAS(ctx, id, on)
		case "cloud":
			err = tiers.ToggleCloud(ctx, id, on)
		default:
			fmt.Printf("Error: unknown tier %q\n", args[1])
			return
		}
		report(err)
	})
}

func listRecordings(st *store.Store, includeArchived bool) {
	recs, err := st.List(includeArchived)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if len(recs) == 0 {
		fmt.Println("no recordings")
		return
	}
	for _, r := range recs {
		fmt.Println(summaryLine(&r))
	}
}

func summaryLine(r *store.Recording) string {
	dur := "--"
	if r.DurationSeconds != nil {
		dur = (time.Duration(*r.DurationSeconds * float64(time.Second))).Truncate(time.Second).String()
	}
	var tiers []string
	if r.LocalPath != nil {
		tiers = append(tiers, "local")
	}
	if r.NASPath != nil {
		tiers = append(tiers, "nas")
	}
	if r.CloudURL != nil {
		tiers = append(tiers, "cloud")
	}
	flags := ""
	if r.Archived {
		flags = " [archived]"
	}
	if r.Transcript != nil {
		flags += " [transcribed]"
	}
	return fmt.Sprintf("%4d  %s  %7s  %-30s %s%s",
		r.ID, r.CreatedAt.Format("2006-01-02 15:04"), dur, r.Name,
		strings.Join(tiers, ","), flags)
}

func showRecording(st *store.Store, id uint) {
	r, err := st.Get(id)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println(summaryLine(r))
	if r.LocalPath != nil {
		fmt.Printf("  local:  %s\n", *r.LocalPath)
	}
	if r.NASPath != nil {
		fmt.Printf("  nas:    %s\n", *r.NASPath)
	}
	if r.CloudURL != nil {
		fmt.Printf("  cloud:  %s\n", *r.CloudURL)
	}
	if r.Summary != nil {
		fmt.Printf("  summary:\n    %s\n", strings.ReplaceAll(*r.Summary, "\n", "\n    "))
	}
	if r.Notes != nil {
		fmt.Printf("  notes:\n    %s\n", strings.ReplaceAll(*r.Notes, "\n", "\n    "))
	}
}
