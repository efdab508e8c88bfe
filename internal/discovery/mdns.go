// ABOUTME: mDNS service discovery for Talkwire relays
// ABOUTME: Handles both advertisement (relay-side) and browsing (client-side)
package discovery

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/hashicorp/mdns"
)

const relayServiceType = "_talkwire-relay._tcp"

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int
}

// Manager handles mDNS operations
type Manager struct {
	config Config
	ctx    context.Context
	cancel context.CancelFunc
	relays chan *RelayInfo
}

// RelayInfo describes a discovered relay
type RelayInfo struct {
	Name string
	Host string
	Port int
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config: config,
		ctx:    ctx,
		cancel: cancel,
		relays: make(chan *RelayInfo, 10),
	}
}

// Advertise advertises this relay via mDNS
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		relayServiceType,
		"",
		"",
		m.config.Port,
		ips,
		[]string{"path=/talkwire"},
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	log.Printf("Advertising mDNS service: %s on port %d (type: %s)", m.config.ServiceName, m.config.Port, relayServiceType)

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse searches for Talkwire relays on the local network
func (m *Manager) Browse() {
	go m.browseLoop()
}

// browseLoop continuously browses for relays
func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		entries := make(chan *mdns.ServiceEntry, 10)

		go func() {
			for entry := range entries {
				relay := relayFromEntry(entry)
				if relay == nil {
					continue
				}

				log.Printf("Discovered relay: %s at %s:%d", relay.Name, relay.Host, relay.Port)

				select {
				case m.relays <- relay:
				case <-m.ctx.Done():
					return
				}
			}
		}()

		params := &mdns.QueryParam{
			Service: relayServiceType,
			Domain:  "local",
			Timeout: 3 * time.Second,
			Entries: entries,
		}

		mdns.Query(params)
		close(entries)
	}
}

// Relays returns the channel of discovered relays
func (m *Manager) Relays() <-chan *RelayInfo {
	return m.relays
}

// Stop stops the discovery manager
func (m *Manager) Stop() {
	m.cancel()
}

// relayFromEntry converts an mDNS response to a RelayInfo. Entries without an
// IPv4 address are unusable and dropped.
func relayFromEntry(entry *mdns.ServiceEntry) *RelayInfo {
	if entry.AddrV4 == nil {
		return nil
	}
	return &RelayInfo{
		Name: entry.Name,
		Host: entry.AddrV4.String(),
		Port: entry.Port,
	}
}

// getLocalIPs returns local IP addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		ips = append(ips, usableIPs(iface.Flags, addrs)...)
	}

	return ips, nil
}

// usableIPs filters one interface's addresses down to advertisable IPv4
// addresses: the interface must be up and not loopback, and loopback or
// IPv6-only addresses are skipped.
func usableIPs(flags net.Flags, addrs []net.Addr) []net.IP {
	if flags&net.FlagUp == 0 || flags&net.FlagLoopback != 0 {
		return nil
	}

	var ips []net.IP
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipnet.IP.To4() != nil {
				ips = append(ips, ipnet.IP)
			}
		}
	}
	return ips
}
