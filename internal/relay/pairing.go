package relay

import (
	"fmt"
	"math/rand"
	"os"
	"strings"

	"github.com/google/uuid"
)

// DefaultRelayURL is where the desktop looks for a relay when the persisted
// config has never been edited.
const DefaultRelayURL = "wss://relay.beamterm.dev"

// Config is the relay identity and pairing state, persisted as one JSON
// document. Rotating the passphrase invalidates prior trust, so regeneration
// always clears LinkedDevices.
type Config struct {
	Enabled           bool           `json:"enabled"`
	RelayURL          string         `json:"relayUrl"`
	DeviceID          string         `json:"deviceId"`
	DeviceName        string         `json:"deviceName"`
	PairingCode       string         `json:"pairingCode"`
	PairingPassphrase string         `json:"pairingPassphrase"`
	LinkedDevices     []LinkedDevice `json:"linkedDevices"`
}

// DefaultConfig generates a fresh identity: stable 32-hex device id, the
// host's name, and a new pairing code + passphrase.
func DefaultConfig() Config {
	return Config{
		RelayURL:          DefaultRelayURL,
		DeviceID:          NewDeviceID(),
		DeviceName:        defaultDeviceName(),
		PairingCode:       GeneratePairingCode(),
		PairingPassphrase: GeneratePassphrase(),
	}
}

func defaultDeviceName() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "Desktop"
	}
	return name
}

// NewDeviceID returns a 32-character hex identifier.
func NewDeviceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// GeneratePairingCode returns a zero-padded 6-digit code.
func GeneratePairingCode() string {
	return fmt.Sprintf("%06d", rand.Intn(1000000))
}

var passphraseWords = []string{
	"apple", "banana", "cherry", "dolphin", "eagle", "forest",
	"garden", "harbor", "island", "jungle", "kitten", "lemon",
	"mountain", "nectar", "ocean", "palace", "quartz", "river",
	"sunset", "temple", "umbrella", "valley", "willow", "yellow",
}

// GeneratePassphrase returns six dictionary words joined with hyphens.
func GeneratePassphrase() string {
	words := make([]string, 6)
	for i := range words {
		words[i] = passphraseWords[rand.Intn(len(passphraseWords))]
	}
	return strings.Join(words, "-")
}
