// Package mint generates payment references and tenant API credentials.
// All values are drawn from crypto/rand; uniqueness is ultimately enforced
// by unique constraints in storage, with callers retrying on collision.
package mint

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const (
	// ReferencePrefix is carried by every gateway-assigned payment reference.
	ReferencePrefix = "acoruss-"
	// APIKeyPrefix marks tenant API keys.
	APIKeyPrefix = "ak_"
	// APISecretPrefix marks tenant API secrets.
	APISecretPrefix = "sk_"
)

// Reference returns a new payment reference: "acoruss-" + 12 lowercase hex chars (20 total).
func Reference() string {
	return ReferencePrefix + randomHex(12)
}

// APIKey returns a new tenant API key: "ak_" + 48 hex chars (51 total).
func APIKey() string {
	return APIKeyPrefix + randomHex(48)
}

// APISecret returns a new tenant API secret: "sk_" + 64 hex chars (67 total).
func APISecret() string {
	return APISecretPrefix + randomHex(64)
}

// TenantID returns a new tenant identifier: "tn_" + 16 hex chars.
func TenantID() string {
	return "tn_" + randomHex(16)
}

// randomHex returns n lowercase hex characters from a cryptographically secure source.
func randomHex(n int) string {
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; treat as unrecoverable
		panic(fmt.Sprintf("mint: read random bytes: %v", err))
	}
	return hex.EncodeToString(buf)[:n]
}
