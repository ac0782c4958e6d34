// Package proxykey provides the 128-bit proxy identity used by the scheduler.
package proxykey

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/xxh3"

	"github.com/proxyvet/proxyvet/internal/model"
)

// Key is a 128-bit identity derived from (protocol, host, port). Two proxies
// with the same endpoint and protocol produce the same Key regardless of
// store id, so re-ingested proxies collapse onto one schedule entry.
type Key [16]byte

// Zero is the zero-value Key.
var Zero Key

// ForProxy computes the Key for a proxy.
func ForProxy(p model.Proxy) Key {
	return hashBytes([]byte(fmt.Sprintf("%s://%s:%d", p.Protocol, p.Host, p.Port)))
}

// Hex returns the lowercase hex encoding of the key.
func (k Key) Hex() string {
	return hex.EncodeToString(k[:])
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return k.Hex()
}

// IsZero reports whether k is the zero key.
func (k Key) IsZero() bool {
	return k == Zero
}

func hashBytes(data []byte) Key {
	h128 := xxh3.Hash128(data)
	var k Key
	binary.LittleEndian.PutUint64(k[:8], h128.Lo)
	binary.LittleEndian.PutUint64(k[8:], h128.Hi)
	return k
}
