// ABOUTME: Entry point for the Talkwire relay server
// ABOUTME: Loads configuration, starts the relay, and advertises it via mDNS
package main

import (
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/Talkwire-Protocol/talkwire-go/internal/config"
	"github.com/Talkwire-Protocol/talkwire-go/internal/discovery"
	"github.com/Talkwire-Protocol/talkwire-go/internal/metrics"
	"github.com/Talkwire-Protocol/talkwire-go/internal/relay"
	"github.com/Talkwire-Protocol/talkwire-go/internal/version"
	"github.com/joho/godotenv"
)

func main() {
	// Local overrides for development; missing file is fine.
	godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	if cfg.Upstream.URL == "" {
		log.Fatalf("TALKWIRE_UPSTREAM_URL must be set")
	}

	log.Printf("Starting %s relay %s: %s on %s",
		version.Product, version.Version, cfg.Relay.Name, cfg.Relay.ListenAddr)
	log.Printf("Press Ctrl-C to stop")

	m := metrics.New()

	srv := relay.New(relay.Config{
		ListenAddr:      cfg.Relay.ListenAddr,
		Name:            cfg.Relay.Name,
		UpstreamURL:     cfg.Upstream.URL,
		UpstreamAPIKey:  cfg.Upstream.APIKey,
		SampleRate:      cfg.Playback.SampleRate,
		InputSampleRate: cfg.Playback.InputSampleRate,
		IdleTimeout:     cfg.Session.IdleTimeout,
	}, m)

	var disc *discovery.Manager
	if cfg.Relay.EnableMDNS {
		disc = discovery.NewManager(discovery.Config{
			ServiceName: cfg.Relay.Name,
			Port:        advertisePort(cfg.Relay.ListenAddr, cfg.Relay.MDNSPort),
		})
		if err := disc.Advertise(); err != nil {
			log.Printf("Failed to start mDNS advertisement: %v", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("Received %v signal, shutting down gracefully...", sig)
		if disc != nil {
			disc.Stop()
		}
		srv.Stop()
	}()

	if err := srv.Start(); err != nil {
		log.Fatalf("Relay error: %v", err)
	}
}

// advertisePort derives the mDNS port from the listen address, falling back
// to the configured mDNS port when the address carries no usable port.
func advertisePort(listenAddr string, fallback int) int {
	if _, portStr, err := net.SplitHostPort(listenAddr); err == nil {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
			return port
		}
	}
	return fallback
}
