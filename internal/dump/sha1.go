package dump

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/fluffysquirrels/wikimedia-go/internal/wikipage"
)

// decodeBase36SHA1 decodes a dump's <sha1> element — a base-36 encoding of
// the revision body's 160-bit SHA-1 — into the three big-endian words
// wikipage.SHA1 uses for its at-rest representation.
func decodeBase36SHA1(s string) (wikipage.SHA1, error) {
	n, ok := new(big.Int).SetString(s, 36)
	if !ok {
		return wikipage.SHA1{}, fmt.Errorf("invalid base-36 sha1 %q", s)
	}

	var buf [20]byte
	bits := n.Bytes()
	if len(bits) > len(buf) {
		return wikipage.SHA1{}, fmt.Errorf("base-36 sha1 %q has too many bits for a 160-bit hash", s)
	}
	copy(buf[len(buf)-len(bits):], bits)

	return wikipage.SHA1{
		Word0: binary.BigEndian.Uint64(buf[0:8]),
		Word1: binary.BigEndian.Uint64(buf[8:16]),
		Word2: binary.BigEndian.Uint32(buf[16:20]),
	}, nil
}
