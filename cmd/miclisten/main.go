// ABOUTME: Entry point for the micstream listener
// ABOUTME: Discovers a capture server, receives blocks and plays them
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ausculsound/micstream/internal/discovery"
	"github.com/ausculsound/micstream/internal/version"
	"github.com/ausculsound/micstream/pkg/audio"
	"github.com/ausculsound/micstream/pkg/audio/output"
	"github.com/ausculsound/micstream/pkg/protocol"
	"github.com/ausculsound/micstream/pkg/stream"
	"github.com/google/uuid"
)

var (
	serverAddr = flag.String("server", "", "Manual server address host:port (skip mDNS)")
	name       = flag.String("name", "", "Listener friendly name (default: hostname-miclisten)")
	codec      = flag.String("codec", "", "Preferred codec: pcm or opus (default: opus, then pcm)")
	gain       = flag.Float64("gain", 1.0, "Playback gain")
	control    = flag.Bool("control", false, "Request the controller role")
	logFile    = flag.String("log-file", "miclisten.log", "Log file path")
	timeout    = flag.Duration("discover-timeout", 10*time.Second, "How long to wait for mDNS discovery")
)

func main() {
	flag.Parse()

	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer func() { _ = f.Close() }()
	log.SetOutput(io.MultiWriter(os.Stdout, f))

	listenerName := *name
	if listenerName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		listenerName = fmt.Sprintf("%s-miclisten", hostname)
	}

	address, path := *serverAddr, stream.DefaultPath
	if address == "" {
		log.Printf("Starting server discovery...")
		disc := discovery.NewManager(discovery.Config{ServiceName: listenerName})
		disc.Browse()

		select {
		case server := <-disc.Servers():
			address, path = server.Addr(), server.Path
			log.Printf("Discovered %s at %s", server.Name, address)
		case <-time.After(*timeout):
			log.Fatalf("No server found after %v", *timeout)
		}
		disc.Stop()
	}

	codecs := []string{audio.CodecOpus, audio.CodecPCM}
	switch *codec {
	case "":
	case audio.CodecPCM:
		codecs = []string{audio.CodecPCM}
	case audio.CodecOpus:
		codecs = []string{audio.CodecOpus, audio.CodecPCM}
	default:
		log.Fatalf("Unsupported codec: %s", *codec)
	}

	client := stream.NewClient(stream.ClientConfig{
		ServerAddr: address,
		Path:       path,
		ClientID:   uuid.New().String(),
		Name:       listenerName,
		Codecs:     codecs,
		Control:    *control,
		DeviceInfo: protocol.DeviceInfo{
			ProductName:     version.Product,
			Manufacturer:    version.Manufacturer,
			SoftwareVersion: version.Version,
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = client.Connect(ctx)
	cancel()
	if err != nil {
		log.Fatalf("Connection failed: %v", err)
	}

	out := output.NewOto()
	out.SetGain(*gain)
	defer out.Close()

	if *control {
		log.Printf("Controller role requested: type 'p' to pause, 'r' to resume")
		go readCommands(client)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var played, lastSeq uint32
	var haveSeq bool
	var lost uint64

	for {
		select {
		case start := <-client.Starts:
			if err := out.Open(start.SampleRate, start.Channels); err != nil {
				log.Fatalf("Failed to open audio output: %v", err)
			}
			haveSeq = false

		case block := <-client.Blocks:
			if haveSeq && block.Sequence != lastSeq+1 {
				lost += uint64(block.Sequence - lastSeq - 1)
			}
			lastSeq, haveSeq = block.Sequence, true

			if err := out.Write(block.Samples); err != nil {
				log.Printf("Playback error: %v", err)
				continue
			}
			played++

		case state := <-client.States:
			log.Printf("Capture %s: seq %d, %d blocks, %d dropped at server, %d lost here",
				state.State, state.Sequence, state.Blocks, state.Dropped, lost)

		case end := <-client.Ends:
			log.Printf("Server ended stream: %s", end.Reason)
			shutdown(client, played)
			return

		case <-client.Done():
			log.Printf("Disconnected from %s", address)
			log.Printf("Played %d blocks", played)
			return

		case <-sigChan:
			log.Printf("Shutdown signal received")
			shutdown(client, played)
			return
		}
	}
}

func shutdown(client *stream.Client, played uint32) {
	if err := client.SendGoodbye("shutdown"); err != nil {
		log.Printf("Failed to send goodbye: %v", err)
	}
	client.Close()
	log.Printf("Played %d blocks", played)
}

// readCommands forwards pause and resume commands typed on stdin
func readCommands(client *stream.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		var command string
		switch strings.TrimSpace(scanner.Text()) {
		case "p", "pause":
			command = protocol.CommandPause
		case "r", "resume":
			command = protocol.CommandResume
		default:
			continue
		}
		if err := client.SendCommand(command); err != nil {
			log.Printf("Failed to send %s: %v", command, err)
			return
		}
	}
}
