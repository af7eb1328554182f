package transport

import (
	"strings"
	"testing"
)

func TestBuildURL_DefaultsToWSS(t *testing.T) {
	u, err := BuildURL("ws.example-broker.test", "1089", "EN", "tradeapi")
	if err != nil {
		t.Fatalf("BuildURL: %v", err)
	}
	want := "wss://ws.example-broker.test/websockets/v3?app_id=1089&brand=tradeapi&l=EN"
	if u != want {
		t.Fatalf("BuildURL = %q, want %q", u, want)
	}
}

func TestBuildURL_PreservesExplicitScheme(t *testing.T) {
	u, err := BuildURL("ws://localhost:8080", "1089", "EN", "tradeapi")
	if err != nil {
		t.Fatalf("BuildURL: %v", err)
	}
	if !strings.HasPrefix(u, "ws://") {
		t.Fatalf("BuildURL = %q, want ws:// preserved", u)
	}
}

func TestBuildURL_PreservesCustomPath(t *testing.T) {
	u, err := BuildURL("wss://ws.example-broker.test/custom/path", "1089", "EN", "tradeapi")
	if err != nil {
		t.Fatalf("BuildURL: %v", err)
	}
	if !strings.HasPrefix(u, "wss://ws.example-broker.test/custom/path?") {
		t.Fatalf("BuildURL = %q, want custom path preserved", u)
	}
}

func TestBuildURL_RejectsEmptyHost(t *testing.T) {
	_, err := BuildURL("wss://", "1089", "EN", "tradeapi")
	if err == nil {
		t.Fatal("BuildURL should reject an endpoint with no host")
	}
}

func TestBuildURL_RejectsMalformedEndpoint(t *testing.T) {
	_, err := BuildURL("wss://%zz.test", "1089", "EN", "tradeapi")
	if err == nil {
		t.Fatal("BuildURL should reject a malformed endpoint")
	}
}
