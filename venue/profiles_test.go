package venue

import (
	"strings"
	"testing"

	"tradedeck/models"
)

func TestLookupKnownVenues(t *testing.T) {
	for _, name := range []string{"alpaca", "coinbase", "binance", "tradovate"} {
		p, ok := Lookup(name)
		if !ok {
			t.Errorf("Lookup(%q) missing", name)
			continue
		}
		if p.Name != name {
			t.Errorf("profile name = %q, want %q", p.Name, name)
		}
		if !strings.HasPrefix(p.RESTBase, "https://") || !strings.HasPrefix(p.SandboxRESTBase, "https://") {
			t.Errorf("%s REST bases malformed: %q %q", name, p.RESTBase, p.SandboxRESTBase)
		}
		if !strings.HasPrefix(p.StreamURL, "wss://") || !strings.HasPrefix(p.SandboxStreamURL, "wss://") {
			t.Errorf("%s stream URLs malformed: %q %q", name, p.StreamURL, p.SandboxStreamURL)
		}
	}
}

func TestLookupUnknownVenue(t *testing.T) {
	if _, ok := Lookup("nasdaq"); ok {
		t.Fatal("expected unknown venue to miss")
	}
}

func TestRESTBaseURLResolution(t *testing.T) {
	p, _ := Lookup("alpaca")

	if got := p.RESTBaseURL(&models.VenueConfig{}); got != p.RESTBase {
		t.Errorf("live base = %q, want %q", got, p.RESTBase)
	}
	if got := p.RESTBaseURL(&models.VenueConfig{Sandbox: true}); got != p.SandboxRESTBase {
		t.Errorf("sandbox base = %q, want %q", got, p.SandboxRESTBase)
	}
	override := &models.VenueConfig{Sandbox: true, BaseURL: "http://127.0.0.1:9999"}
	if got := p.RESTBaseURL(override); got != "http://127.0.0.1:9999" {
		t.Errorf("override base = %q", got)
	}
}

func TestStreamEndpointResolution(t *testing.T) {
	p, _ := Lookup("coinbase")

	if got := p.StreamEndpoint(&models.VenueConfig{}); got != p.StreamURL {
		t.Errorf("live stream = %q, want %q", got, p.StreamURL)
	}
	if got := p.StreamEndpoint(&models.VenueConfig{Sandbox: true}); got != p.SandboxStreamURL {
		t.Errorf("sandbox stream = %q, want %q", got, p.SandboxStreamURL)
	}
	override := &models.VenueConfig{StreamURL: "ws://127.0.0.1:9999/ws"}
	if got := p.StreamEndpoint(override); got != "ws://127.0.0.1:9999/ws" {
		t.Errorf("override stream = %q", got)
	}
}
