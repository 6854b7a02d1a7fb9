// SPDX-License-Identifier: MIT

// Package devicesig verifies device signatures: HMAC-SHA256 over the device
// identifier keyed by a versioned salt. Salts rotate without downtime; the
// client names the salt version it signed with.
package devicesig

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

// DefaultVersion is assumed when a request does not name a salt version.
const DefaultVersion = "v1"

// Verifier checks device signatures against the configured salt set.
type Verifier struct {
	mu    sync.RWMutex
	salts map[string]string
}

// NewVerifier creates a verifier over the given version→salt map.
func NewVerifier(salts map[string]string) *Verifier {
	copied := make(map[string]string, len(salts))
	for v, s := range salts {
		copied[v] = s
	}
	return &Verifier{salts: copied}
}

// Replace swaps the whole salt set atomically (used by hot rotation).
func (v *Verifier) Replace(salts map[string]string) {
	copied := make(map[string]string, len(salts))
	for ver, s := range salts {
		copied[ver] = s
	}
	v.mu.Lock()
	v.salts = copied
	v.mu.Unlock()
}

// Versions returns the configured salt versions.
func (v *Verifier) Versions() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, 0, len(v.salts))
	for ver := range v.salts {
		out = append(out, ver)
	}
	return out
}

// Sign computes the hex signature for deviceID under the named salt version.
// Exposed for tests and provisioning tooling.
func (v *Verifier) Sign(deviceID, version string) (string, error) {
	v.mu.RLock()
	salt, ok := v.salts[version]
	v.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown salt version %q", version)
	}
	mac := hmac.New(sha256.New, []byte(salt))
	mac.Write([]byte(deviceID))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify reports whether signature matches deviceID under the named salt
// version. Comparison is constant time. An unknown version fails closed.
func (v *Verifier) Verify(deviceID, signature, version string) bool {
	if version == "" {
		version = DefaultVersion
	}
	want, err := v.Sign(deviceID, version)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(want), []byte(signature))
}
