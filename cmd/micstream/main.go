// ABOUTME: Entry point for the micstream capture daemon
// ABOUTME: Runs the capture controller on simulated hardware and streams blocks
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ausculsound/micstream/internal/config"
	"github.com/ausculsound/micstream/internal/recorder"
	"github.com/ausculsound/micstream/internal/sim"
	"github.com/ausculsound/micstream/internal/ui"
	"github.com/ausculsound/micstream/pkg/capture"
	"github.com/ausculsound/micstream/pkg/stream"
	tea "github.com/charmbracelet/bubbletea"
)

var (
	configPath   = flag.String("config", "micstream.yaml", "YAML config file (optional)")
	port         = flag.Int("port", 0, "WebSocket server port")
	name         = flag.String("name", "", "Server friendly name")
	codec        = flag.String("codec", "", "Preferred codec: pcm or opus")
	sampleRate   = flag.Int("rate", 0, "ADC sample rate in Hz")
	bufferSize   = flag.Int("buffer", 0, "Samples per ping-pong buffer")
	signalFile   = flag.String("signal", "", "MP3 or FLAC file fed to the simulated microphone (default: test tone)")
	recordPath   = flag.String("record", "", "Record captured audio to this WAV file")
	logFile      = flag.String("log-file", "", "Log file path")
	debug        = flag.Bool("debug", false, "Enable debug logging")
	noMDNS       = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	noTUI        = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
	allowControl = flag.Bool("allow-control", true, "Let controller clients pause and resume capture")
)

func main() {
	flag.Parse()

	cfg, warnings, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	applyFlags(&cfg)

	useTUI := !*noTUI

	f, err := os.OpenFile(cfg.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer func() { _ = f.Close() }()

	if useTUI {
		// TUI mode: log only to file
		log.SetOutput(f)
	} else {
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	for _, w := range warnings {
		log.Printf("Config warning: %s", w)
	}

	if cfg.Name == "micstream" {
		if hostname, err := os.Hostname(); err == nil {
			cfg.Name = fmt.Sprintf("%s-micstream", hostname)
		}
	}

	log.Printf("Starting micstream: %s on port %d", cfg.Name, cfg.Port)
	if cfg.Debug {
		log.Printf("Debug logging enabled")
	}
	log.Printf("Logging to: %s", cfg.LogFile)

	sig, err := sim.OpenSignal(cfg.Signal, cfg.SampleRate)
	if err != nil {
		log.Fatalf("Failed to open signal: %v", err)
	}
	defer sig.Close()
	if sig.SampleRate() != cfg.SampleRate {
		log.Printf("Signal %s is %dHz, capture runs at %dHz; pitch will shift", sig.Name(), sig.SampleRate(), cfg.SampleRate)
	}

	board := sim.NewBoard(sig)
	ctrl, err := capture.New(cfg.Capture(), board.Hardware())
	if err != nil {
		log.Fatalf("Failed to create capture controller: %v", err)
	}

	var sinks []stream.BlockSink
	var rec *recorder.Recorder
	if cfg.Record != "" {
		rec, err = recorder.Create(cfg.Record, cfg.SampleRate)
		if err != nil {
			log.Fatalf("Failed to start recording: %v", err)
		}
		sinks = append(sinks, rec)
		log.Printf("Recording to %s", rec.Path())
	}

	srv, err := stream.NewServer(stream.ServerConfig{
		Port:         cfg.Port,
		Name:         cfg.Name,
		Codec:        cfg.Codec,
		EnableMDNS:   cfg.MDNS,
		AllowControl: cfg.AllowControl,
		Sinks:        sinks,
		Debug:        cfg.Debug,
	}, ctrl)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Start()
	}()

	if err := ctrl.Start(); err != nil {
		srv.Stop()
		<-serverDone
		log.Fatalf("Failed to start capture: %v", err)
	}
	log.Printf("Capturing %s at %dHz (effective %dHz), %d-sample blocks",
		sig.Name(), cfg.SampleRate, board.ADC.EffectiveRate(), cfg.BufferSize)

	var tuiProg *tea.Program
	var control *ui.Control
	if useTUI {
		control = ui.NewControl()
		tuiProg = ui.Run(ui.Info{
			Name:       cfg.Name,
			Port:       cfg.Port,
			Codec:      cfg.Codec,
			Signal:     sig.Name(),
			SampleRate: cfg.SampleRate,
			BufferSize: cfg.BufferSize,
			Resolution: cfg.ResolutionBits,
			Record:     cfg.Record,
		}, control)
		go func() {
			if _, err := tuiProg.Run(); err != nil {
				log.Printf("TUI error: %v", err)
			}
		}()
		go statusLoop(tuiProg, ctrl, srv)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var toggle, quit <-chan struct{}
	if control != nil {
		toggle, quit = control.Toggle, control.Quit
	}

loop:
	for {
		select {
		case <-toggle:
			togglePause(ctrl, srv)
		case <-quit:
			log.Printf("Received quit signal from TUI")
			break loop
		case s := <-sigChan:
			log.Printf("Received %v signal, shutting down gracefully...", s)
			break loop
		case err := <-serverDone:
			if err != nil {
				log.Printf("Server error: %v", err)
			}
			serverDone = nil
			break loop
		}
	}

	if err := ctrl.Stop(); err != nil {
		log.Printf("Capture stop: %v", err)
	}
	srv.EndStream("capture stopped")
	srv.Stop()
	if serverDone != nil {
		<-serverDone
	}

	if rec != nil {
		if err := rec.Close(); err != nil {
			log.Printf("Failed to finalize recording: %v", err)
		} else {
			log.Printf("Recording saved: %s (%d missing blocks filled)", rec.Path(), rec.Gaps())
		}
	}

	if tuiProg != nil {
		tuiProg.Quit()
	}

	st := srv.Stats()
	log.Printf("Captured %d blocks, published %d, dropped %d", st.Captured, st.Published, st.Dropped)
	log.Printf("micstream stopped")
}

// applyFlags overrides config values with flags set on the command line
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "name":
			cfg.Name = *name
		case "codec":
			cfg.Codec = *codec
		case "rate":
			cfg.SampleRate = *sampleRate
		case "buffer":
			cfg.BufferSize = *bufferSize
		case "signal":
			cfg.Signal = *signalFile
		case "record":
			cfg.Record = *recordPath
		case "log-file":
			cfg.LogFile = *logFile
		case "debug":
			cfg.Debug = *debug
		case "no-mdns":
			cfg.MDNS = !*noMDNS
		case "allow-control":
			cfg.AllowControl = *allowControl
		}
	})
}

// togglePause pauses running capture or resumes paused capture
func togglePause(ctrl *capture.Controller, srv *stream.Server) {
	var err error
	switch ctrl.State() {
	case capture.StateRunning:
		err = ctrl.Pause()
	case capture.StatePaused:
		err = ctrl.Resume()
	default:
		return
	}
	if err != nil {
		log.Printf("Pause/resume failed: %v", err)
		return
	}
	log.Printf("Capture %s", ctrl.State())
	srv.BroadcastState()
}

// statusLoop periodically sends capture and server counters to the TUI
func statusLoop(prog *tea.Program, ctrl *capture.Controller, srv *stream.Server) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		prog.Send(ui.StatusMsg{
			Capture: ctrl.Stats(),
			Server:  srv.Stats(),
			Clients: srv.Clients(),
		})
	}
}
