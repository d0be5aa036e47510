// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package discovery

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
)

func TestNewScanner(t *testing.T) {
	serviceType := "_enphase-envoy._tcp"
	domain := "local."

	scanner := NewScanner(serviceType, domain)

	if scanner == nil {
		t.Fatal("NewScanner() returned nil")
	}
	if scanner.serviceType != serviceType {
		t.Errorf("serviceType = %v, want %v", scanner.serviceType, serviceType)
	}
	if scanner.domain != domain {
		t.Errorf("domain = %v, want %v", scanner.domain, domain)
	}
	if scanner.gateways == nil {
		t.Error("gateways map is nil")
	}
	if len(scanner.gateways) != 0 {
		t.Errorf("gateways map should be empty, got %d gateways", len(scanner.gateways))
	}
}

func TestGatewayURL(t *testing.T) {
	tests := []struct {
		name    string
		gateway Gateway
		want    string
	}{
		{
			name:    "default https port omitted",
			gateway: Gateway{Address: net.ParseIP("192.168.1.50"), Port: 443},
			want:    "https://192.168.1.50",
		},
		{
			name:    "zero port omitted",
			gateway: Gateway{Address: net.ParseIP("192.168.1.50")},
			want:    "https://192.168.1.50",
		},
		{
			name:    "explicit port kept",
			gateway: Gateway{Address: net.ParseIP("192.168.1.50"), Port: 8443},
			want:    "https://192.168.1.50:8443",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.gateway.URL(); got != tt.want {
				t.Errorf("URL() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseServiceEntry(t *testing.T) {
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{
			Instance: "envoy",
		},
		HostName: "envoy.local.",
		Port:     443,
		Text:     []string{"protovers=1.1.0", "serialnum=122327081234"},
		AddrIPv4: []net.IP{net.ParseIP("192.168.1.50")},
	}

	gateway := parseServiceEntry(entry)
	if gateway == nil {
		t.Fatal("parseServiceEntry() returned nil for a valid entry")
	}
	if gateway.Serial != "122327081234" {
		t.Errorf("Serial = %s, want 122327081234", gateway.Serial)
	}
	if gateway.Address.String() != "192.168.1.50" {
		t.Errorf("Address = %s, want 192.168.1.50", gateway.Address)
	}
	if gateway.Port != 443 {
		t.Errorf("Port = %d, want 443", gateway.Port)
	}
	if gateway.Hostname != "envoy.local." {
		t.Errorf("Hostname = %s, want envoy.local.", gateway.Hostname)
	}
}

func TestParseServiceEntry_NoSerialFallsBackToInstance(t *testing.T) {
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{
			Instance: "envoy-garage",
		},
		Port:     443,
		Text:     []string{"protovers=1.1.0"},
		AddrIPv4: []net.IP{net.ParseIP("192.168.1.51")},
	}

	gateway := parseServiceEntry(entry)
	if gateway == nil {
		t.Fatal("parseServiceEntry() returned nil")
	}
	if gateway.Serial != "envoy-garage" {
		t.Errorf("Serial = %s, want the instance name fallback", gateway.Serial)
	}
}

func TestParseServiceEntry_NoAddresses(t *testing.T) {
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{
			Instance: "envoy",
		},
		Text: []string{"serialnum=122327081234"},
	}

	if gateway := parseServiceEntry(entry); gateway != nil {
		t.Errorf("parseServiceEntry() = %+v for an entry with no addresses, want nil", gateway)
	}
}

func TestParseServiceEntry_IPv6Fallback(t *testing.T) {
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{
			Instance: "envoy",
		},
		Port:     443,
		Text:     []string{"serialnum=122327081234"},
		AddrIPv6: []net.IP{net.ParseIP("fe80::1")},
	}

	gateway := parseServiceEntry(entry)
	if gateway == nil {
		t.Fatal("parseServiceEntry() returned nil")
	}
	if gateway.Address.String() != "fe80::1" {
		t.Errorf("Address = %s, want fe80::1", gateway.Address)
	}
}

func TestParseServiceEntry_Nil(t *testing.T) {
	if gateway := parseServiceEntry(nil); gateway != nil {
		t.Error("parseServiceEntry(nil) should return nil")
	}
}

func TestGateways_Empty(t *testing.T) {
	scanner := NewScanner("_enphase-envoy._tcp", "local.")

	if gateways := scanner.Gateways(); len(gateways) != 0 {
		t.Errorf("Gateways() = %d entries on a fresh scanner, want 0", len(gateways))
	}
}
