package ota

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"github.com/google/uuid"
)

// Activation protocol versions carried in the request headers. Registration
// and the challenge endpoint speak different revisions of the same header.
const (
	registerVersion = "2.0.0"
	activateVersion = "2"
)

// Identity is the device-bound identity material presented to the backend:
// the hardware address, a stable per-install client ID, the serial number
// and the secret used to answer activation challenges.
type Identity struct {
	// DeviceID is the device's hardware address (MAC form).
	DeviceID string
	// ClientID is a stable per-install identifier. Generated once if empty.
	ClientID string
	// SerialNumber identifies the unit for challenge/response activation.
	// May be empty on unprovisioned hardware.
	SerialNumber string

	hmacKey []byte
}

// NewIdentity builds an Identity around the given device address and
// challenge secret. The client ID is minted fresh when not supplied.
func NewIdentity(deviceID, clientID, serialNumber string, hmacKey []byte) *Identity {
	if clientID == "" {
		clientID = uuid.NewString()
	}
	return &Identity{
		DeviceID:     deviceID,
		ClientID:     clientID,
		SerialNumber: serialNumber,
		hmacKey:      append([]byte(nil), hmacKey...),
	}
}

// HMAC signs the activation challenge with the device secret and returns
// the hex-encoded HMAC-SHA256 signature.
func (id *Identity) HMAC(challenge string) string {
	mac := hmac.New(sha256.New, id.hmacKey)
	mac.Write([]byte(challenge))
	return hex.EncodeToString(mac.Sum(nil))
}

// setHeaders applies the identity headers expected by the backend.
func (id *Identity) setHeaders(h http.Header, version string) {
	h.Set("Device-Id", id.DeviceID)
	h.Set("Client-Id", id.ClientID)
	h.Set("Content-Type", "application/json")
	h.Set("Activation-Version", version)
	h.Set("Accept-Language", "zh-CN")
}
