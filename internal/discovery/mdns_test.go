// ABOUTME: Tests for mDNS discovery
// ABOUTME: Validates Manager lifecycle and service entry parsing
package discovery

import (
	"net"
	"testing"
	"time"

	"github.com/hashicorp/mdns"
)

func TestNewManager(t *testing.T) {
	manager := NewManager(Config{
		ServiceName: "kitchen-mic",
		Port:        8928,
	})
	defer manager.Stop()

	if manager.config.Path != DefaultPath {
		t.Errorf("expected default path %s, got %s", DefaultPath, manager.config.Path)
	}
	if manager.servers == nil {
		t.Error("servers channel should not be nil")
	}
	if manager.Servers() == nil {
		t.Error("Servers() returned nil channel")
	}
}

func TestManagerStop(t *testing.T) {
	manager := NewManager(Config{ServiceName: "test", Port: 8080})
	manager.Stop()

	select {
	case <-manager.ctx.Done():
	case <-time.After(100 * time.Millisecond):
		t.Error("context should be cancelled after Stop()")
	}
}

func TestTXTRecords(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected []string
	}{
		{"path only", Config{Path: "/micstream"}, []string{"path=/micstream"}},
		{"with id", Config{Path: "/mic", ServerID: "abc"}, []string{"path=/mic", "id=abc"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := txtRecords(tt.config)
			if len(got) != len(tt.expected) {
				t.Fatalf("expected %v, got %v", tt.expected, got)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("record %d: expected %s, got %s", i, tt.expected[i], got[i])
				}
			}
		})
	}
}

func TestServerInfoFromEntry(t *testing.T) {
	entry := &mdns.ServiceEntry{
		Name:       "kitchen-mic._micstream._tcp.local.",
		AddrV4:     net.ParseIP("192.168.1.40"),
		Port:       8928,
		InfoFields: []string{"path=/capture", "id=1234", "junk"},
	}

	info := serverInfoFromEntry(entry)
	if info == nil {
		t.Fatal("expected server info")
	}
	if info.Name != "kitchen-mic" {
		t.Errorf("expected name kitchen-mic, got %s", info.Name)
	}
	if info.Path != "/capture" {
		t.Errorf("expected path /capture, got %s", info.Path)
	}
	if info.ServerID != "1234" {
		t.Errorf("expected id 1234, got %s", info.ServerID)
	}
	if info.Addr() != "192.168.1.40:8928" {
		t.Errorf("expected 192.168.1.40:8928, got %s", info.Addr())
	}

	if serverInfoFromEntry(&mdns.ServiceEntry{Name: "x"}) != nil {
		t.Error("entry without address should be skipped")
	}
}

func TestGetLocalIPs(t *testing.T) {
	ips, err := getLocalIPs()
	if err != nil {
		t.Fatalf("getLocalIPs failed: %v", err)
	}

	for _, ip := range ips {
		if ip.To4() == nil {
			t.Errorf("getLocalIPs returned non-IPv4 address: %v", ip)
		}
		if ip.IsLoopback() {
			t.Errorf("getLocalIPs returned loopback address: %v", ip)
		}
	}
}
