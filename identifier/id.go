// Package identifier implements the 160-bit node/infohash identifiers used
// throughout the DHT, and the XOR metric used to compare them.
package identifier

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Len is the length, in bytes, of every ID in the DHT: 160 bits.
const Len = 20

// ID is a 160-bit opaque identifier: a node id or an infohash/target id.
type ID [Len]byte

// Zero is the identifier with every bit cleared.
var Zero ID

// Random returns a uniformly random ID, suitable for a node's local id.
func Random() (ID, error) {
	var id ID
	if _, err := rand.Read(id[:]); err != nil {
		return Zero, fmt.Errorf("identifier: random: %w", err)
	}
	return id, nil
}

// FromBytes copies b into an ID. It returns an error if len(b) != Len.
func FromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != Len {
		return Zero, fmt.Errorf("identifier: want %d bytes, got %d", Len, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// FromHex decodes a 40-character hex string into an ID.
func FromHex(s string) (ID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Zero, fmt.Errorf("identifier: invalid hex: %w", err)
	}
	return FromBytes(b)
}

// String returns the lowercase 40-character hex encoding.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns the identifier as a byte slice.
func (id ID) Bytes() []byte {
	return id[:]
}

// Distance returns the XOR distance between id and other, itself a 160-bit
// value, represented as an ID so it can be compared byte-by-byte.
func Distance(id, other ID) ID {
	var d ID
	for i := range d {
		d[i] = id[i] ^ other[i]
	}
	return d
}

// Less reports whether a's XOR distance to target is strictly smaller than
// b's, i.e. whether a is closer to target than b.
func Less(a, b, target ID) bool {
	for i := 0; i < Len; i++ {
		da := a[i] ^ target[i]
		db := b[i] ^ target[i]
		if da != db {
			return da < db
		}
	}
	return false
}

// CommonPrefixLen returns the number of leading bits shared by a and b, from
// 0 (differ in the first bit) to 160 (identical).
func CommonPrefixLen(a, b ID) int {
	i := 0
	for ; i < Len; i++ {
		if a[i] != b[i] {
			break
		}
	}
	if i == Len {
		return 160
	}
	xor := a[i] ^ b[i]
	j := 0
	for (xor & 0x80) == 0 {
		xor <<= 1
		j++
	}
	return 8*i + j
}

// Bit returns the i-th bit of id, counting from the most significant bit of
// id[0]. It is used to walk the routing table's bucket ranges.
func (id ID) Bit(i int) int {
	if (id[i/8]<<uint(i%8))&0x80 != 0 {
		return 1
	}
	return 0
}
