// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package discovery locates the Enphase Envoy gateway via mDNS.
//
// The Envoy advertises itself with the service type "_enphase-envoy._tcp"
// and carries its serial number in the "serialnum" TXT record. Discovery is
// only used when no envoy.url is configured; when a serial is configured,
// advertisements for other gateways are ignored.
//
// # Example Usage
//
//	scanner := discovery.NewScanner("_enphase-envoy._tcp", "local.")
//
//	gateway, err := scanner.Locate(ctx, "122327081234", 10*time.Second)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(gateway.URL())
package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	pkgerrors "github.com/soothill/envoy-data-logger/pkg/errors"
	"github.com/soothill/envoy-data-logger/pkg/logger"
)

// Gateway represents a discovered Envoy gateway
type Gateway struct {
	Name     string
	Address  net.IP
	Port     int
	Serial   string
	Hostname string
}

// URL returns the HTTPS base URL for the gateway's local API
func (g *Gateway) URL() string {
	if g.Port != 0 && g.Port != 443 {
		return fmt.Sprintf("https://%s:%d", g.Address.String(), g.Port)
	}
	return fmt.Sprintf("https://%s", g.Address.String())
}

// Scanner handles Envoy discovery via mDNS
type Scanner struct {
	serviceType string
	domain      string
	gateways    map[string]*Gateway
	mu          sync.RWMutex // Protects gateways map
}

// NewScanner creates a new gateway scanner
func NewScanner(serviceType, domain string) *Scanner {
	return &Scanner{
		serviceType: serviceType,
		domain:      domain,
		gateways:    make(map[string]*Gateway),
	}
}

// Locate browses for Envoy advertisements until the timeout expires and
// returns the gateway matching the given serial. With an empty serial the
// first gateway found wins. Returns ErrDeviceNotFound when nothing matched.
func (s *Scanner) Locate(ctx context.Context, serial string, timeout time.Duration) (*Gateway, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver: %w", err)
	}

	// Buffered to avoid blocking the zeroconf resolver during bursts
	entries := make(chan *zeroconf.ServiceEntry, 10)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			gateway := parseServiceEntry(entry)
			if gateway == nil {
				continue
			}

			s.mu.Lock()
			s.gateways[gateway.Serial] = gateway
			s.mu.Unlock()

			logger.Info().
				Str("serial", gateway.Serial).
				Str("address", gateway.Address.String()).
				Int("port", gateway.Port).
				Msg("Discovered Envoy gateway")
		}
	}()

	discoverCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err = resolver.Browse(discoverCtx, s.serviceType, s.domain, entries)
	if err != nil {
		return nil, fmt.Errorf("failed to browse: %w", err)
	}

	<-discoverCtx.Done()
	wg.Wait()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if serial != "" {
		if gateway, ok := s.gateways[serial]; ok {
			return gateway, nil
		}
		return nil, fmt.Errorf("envoy with serial %s: %w", serial, pkgerrors.ErrDeviceNotFound)
	}
	for _, gateway := range s.gateways {
		return gateway, nil
	}
	return nil, pkgerrors.ErrDeviceNotFound
}

// Gateways returns all gateways seen so far
func (s *Scanner) Gateways() []*Gateway {
	s.mu.RLock()
	defer s.mu.RUnlock()

	gateways := make([]*Gateway, 0, len(s.gateways))
	for _, gateway := range s.gateways {
		gateways = append(gateways, gateway)
	}
	return gateways
}

// parseServiceEntry converts a zeroconf service entry to a Gateway
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Gateway {
	if entry == nil {
		return nil
	}

	if len(entry.AddrIPv4) == 0 && len(entry.AddrIPv6) == 0 {
		return nil
	}

	// Prefer IPv4, fallback to IPv6
	var addr net.IP
	if len(entry.AddrIPv4) > 0 {
		addr = entry.AddrIPv4[0]
	} else {
		addr = entry.AddrIPv6[0]
	}

	serial := ""
	for _, txt := range entry.Text {
		parts := strings.SplitN(txt, "=", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "serialnum") {
			serial = parts[1]
		}
	}
	if serial == "" {
		// Fall back to the instance name so the gateway is still usable
		serial = entry.Instance
	}

	return &Gateway{
		Name:     entry.Instance,
		Address:  addr,
		Port:     entry.Port,
		Serial:   serial,
		Hostname: entry.HostName,
	}
}
