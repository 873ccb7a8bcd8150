package pairing

import (
	"time"

	"github.com/mneves75/ai-health-sync-ios-sub001/model"
)

// qrCodeVersion is the version string embedded in every generated QR
// payload; clients reject any other value rather than guess at
// compatibility.
const qrCodeVersion = "1"

// BuildQRCode assembles the out-of-band pairing payload for the given
// freshly generated code, advertising where and how a client should
// connect and which certificate fingerprint to pin.
func BuildQRCode(host string, port int, code string, expiresAt time.Time, fingerprint string) model.PairingQRCode {
	return model.PairingQRCode{
		Version:     qrCodeVersion,
		Host:        host,
		Port:        port,
		Code:        code,
		ExpiresAt:   expiresAt,
		Fingerprint: fingerprint,
	}
}
