package relay

import (
	"regexp"
	"strings"
	"testing"
)

func TestGeneratePairingCodeFormat(t *testing.T) {
	re := regexp.MustCompile(`^\d{6}$`)
	for i := 0; i < 100; i++ {
		code := GeneratePairingCode()
		if !re.MatchString(code) {
			t.Fatalf("pairing code %q is not 6 zero-padded digits", code)
		}
	}
}

func TestGeneratePassphraseFormat(t *testing.T) {
	known := make(map[string]bool, len(passphraseWords))
	for _, w := range passphraseWords {
		known[w] = true
	}
	for i := 0; i < 20; i++ {
		phrase := GeneratePassphrase()
		words := strings.Split(phrase, "-")
		if len(words) != 6 {
			t.Fatalf("passphrase %q does not have 6 words", phrase)
		}
		for _, w := range words {
			if !known[w] {
				t.Fatalf("passphrase word %q not in the dictionary", w)
			}
		}
	}
}

func TestNewDeviceID(t *testing.T) {
	id := NewDeviceID()
	if len(id) != 32 {
		t.Fatalf("device id %q is not 32 characters", id)
	}
	if !regexp.MustCompile(`^[0-9a-f]{32}$`).MatchString(id) {
		t.Fatalf("device id %q is not lowercase hex", id)
	}
	if NewDeviceID() == id {
		t.Fatalf("device ids are not unique")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Enabled {
		t.Fatalf("default config must start disabled")
	}
	if cfg.RelayURL != DefaultRelayURL {
		t.Fatalf("relay url = %q", cfg.RelayURL)
	}
	if cfg.DeviceName == "" {
		t.Fatalf("device name empty")
	}
	if len(cfg.LinkedDevices) != 0 {
		t.Fatalf("fresh config has linked devices")
	}
}
