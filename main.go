// ABOUTME: Entry point for the Talkwire native voice client
// ABOUTME: Parses CLI flags, finds a relay, and runs a voice session
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Talkwire-Protocol/talkwire-go/internal/capture"
	"github.com/Talkwire-Protocol/talkwire-go/internal/discovery"
	"github.com/Talkwire-Protocol/talkwire-go/internal/player"
	"github.com/Talkwire-Protocol/talkwire-go/internal/session"
	"github.com/Talkwire-Protocol/talkwire-go/internal/upstream"
	"github.com/Talkwire-Protocol/talkwire-go/internal/version"
	"github.com/Talkwire-Protocol/talkwire-go/pkg/audio"
	"github.com/joho/godotenv"
)

var (
	relayAddr   = flag.String("relay", "", "Manual relay address host:port (skip mDNS)")
	name        = flag.String("name", "", "Client friendly name (default: hostname-talkwire)")
	policy      = flag.String("policy", "immediate", "Playback policy: immediate or threshold")
	thresholdMs = flag.Int("threshold-ms", 500, "Buffered audio required before playback starts (threshold policy)")
	maxChunkMs  = flag.Int("max-chunk-ms", 0, "Cap on a single playback unit in ms (0 = 2x threshold)")
	sampleRate  = flag.Int("sample-rate", audio.DefaultSampleRate, "Playback sample rate")
	inputRate   = flag.Int("input-rate", 16000, "Microphone rate sent to the relay")
	noCapture   = flag.Bool("no-capture", false, "Listen only, do not open the microphone")
	logFile     = flag.String("log-file", "", "Also log to this file")
)

func main() {
	flag.Parse()

	// Local overrides for development; missing file is fine.
	godotenv.Load()

	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Fatalf("error opening log file: %v", err)
		}
		defer func() { _ = f.Close() }()
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	clientName := *name
	if clientName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		clientName = fmt.Sprintf("%s-talkwire", hostname)
	}

	log.Printf("Starting %s %s: %s", version.Product, version.Version, clientName)

	address := *relayAddr
	if address == "" {
		log.Printf("Starting relay discovery...")
		disc := discovery.NewManager(discovery.Config{ServiceName: clientName})
		disc.Browse()

		select {
		case relay := <-disc.Relays():
			address = fmt.Sprintf("%s:%d", relay.Host, relay.Port)
			log.Printf("Discovered relay at %s", address)
		case <-time.After(10 * time.Second):
			log.Fatalf("No relay found after 10 seconds")
		}
		disc.Stop()
	}

	client := upstream.NewClient(upstream.Config{
		URL:             fmt.Sprintf("ws://%s/talkwire", address),
		Name:            clientName,
		SampleRate:      *sampleRate,
		InputSampleRate: *inputRate,
	})
	if err := client.Connect(); err != nil {
		log.Fatalf("Connection failed: %v", err)
	}

	device, err := player.NewOtoDevice(audio.Format{SampleRate: *sampleRate, Channels: 1})
	if err != nil {
		log.Fatalf("Failed to open audio output: %v", err)
	}

	sched := player.NewScheduler(device, player.Config{
		SampleRate:         *sampleRate,
		Policy:             player.Policy(*policy),
		Threshold:          time.Duration(*thresholdMs) * time.Millisecond,
		MaxChunk:           time.Duration(*maxChunkMs) * time.Millisecond,
		FallbackFlushDelay: 500 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := session.New(sched, client.AudioChunks, client.Events, 2*time.Minute)
	go sess.Run(ctx)

	var recorder *capture.Recorder
	if !*noCapture {
		recorder, err = capture.NewRecorder(capture.Config{
			OutputRate: *inputRate,
			OnChunk: func(pcm []byte) {
				if err := client.SendAudio(pcm); err != nil {
					log.Printf("Failed to send audio: %v", err)
				}
			},
		})
		if err != nil {
			log.Fatalf("Failed to create recorder: %v", err)
		}
		if err := recorder.Start(); err != nil {
			log.Fatalf("Failed to start capture: %v", err)
		}
	}

	log.Printf("Session %s running against %s", client.SessionID(), address)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Printf("Shutdown signal received")
		client.SendEnd(session.ReasonClientRequest)
	case <-sess.Done():
		log.Printf("Session ended: %s", sess.Reason())
	}

	if recorder != nil {
		recorder.Stop()
	}
	client.Close()
	cancel()
	<-sess.Done()

	log.Printf("Client stopped")
}
