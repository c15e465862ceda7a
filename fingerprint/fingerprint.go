// Package fingerprint provides the state digest used to detect revisits.
package fingerprint

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Size is the number of bytes in the binary form of a Fingerprint.
const Size = 16

var ErrInvalidLength = errors.New("fingerprint: invalid length")

// A digest of a full program state.
//
// Fingerprints are comparable and can be used directly as map keys.
// Two states with equal fingerprints are treated as the same state.
type Fingerprint struct {
	Hi uint64
	Lo uint64
}

func (f Fingerprint) IsZero() bool {
	return f.Hi == 0 && f.Lo == 0
}

func (f Fingerprint) String() string {
	return fmt.Sprintf("%016x%016x", f.Hi, f.Lo)
}

// Returns the 16 byte big endian representation of the fingerprint
func (f Fingerprint) Bytes() []byte {
	b := make([]byte, Size)
	binary.BigEndian.PutUint64(b[:8], f.Hi)
	binary.BigEndian.PutUint64(b[8:], f.Lo)
	return b
}

// Parses a fingerprint previously produced by Bytes.
func FromBytes(b []byte) (Fingerprint, error) {
	if len(b) != Size {
		return Fingerprint{}, fmt.Errorf("%w: %d", ErrInvalidLength, len(b))
	}
	return Fingerprint{
		Hi: binary.BigEndian.Uint64(b[:8]),
		Lo: binary.BigEndian.Uint64(b[8:]),
	}, nil
}

// Seed used for the high half of the digest.
// The low half uses the default xxhash seed.
const hiSeed = 0x9e3779b97f4a7c15

// Accumulates the components of a state into a Fingerprint.
//
// Models write every field that contributes to the identity of a state in a fixed order and call Sum.
// The zero value is not usable, use New.
type Hasher struct {
	hi *xxhash.Digest
	lo *xxhash.Digest

	buf [8]byte
}

func New() *Hasher {
	return &Hasher{
		hi: xxhash.NewWithSeed(hiSeed),
		lo: xxhash.New(),
	}
}

func (h *Hasher) Reset() {
	h.hi.ResetWithSeed(hiSeed)
	h.lo.Reset()
}

func (h *Hasher) Write(p []byte) (int, error) {
	h.hi.Write(p)
	return h.lo.Write(p)
}

func (h *Hasher) WriteUint64(v uint64) {
	binary.LittleEndian.PutUint64(h.buf[:], v)
	h.Write(h.buf[:])
}

func (h *Hasher) WriteInt(v int) {
	h.WriteUint64(uint64(v))
}

func (h *Hasher) WriteBool(v bool) {
	if v {
		h.WriteUint64(1)
		return
	}
	h.WriteUint64(0)
}

// Strings are length prefixed so that consecutive strings can not collide by shifting characters between them
func (h *Hasher) WriteString(s string) {
	h.WriteInt(len(s))
	h.hi.WriteString(s)
	h.lo.WriteString(s)
}

func (h *Hasher) Sum() Fingerprint {
	return Fingerprint{Hi: h.hi.Sum64(), Lo: h.lo.Sum64()}
}

// Returns a deterministic value in [0, 1) derived from the seed and the values.
//
// Used where a decision must look random but be reproduced exactly when a path is replayed.
func Sample(seed uint64, values ...uint64) float64 {
	d := xxhash.NewWithSeed(seed)
	var buf [8]byte
	for _, v := range values {
		binary.LittleEndian.PutUint64(buf[:], v)
		d.Write(buf[:])
	}
	return float64(d.Sum64()>>11) / float64(uint64(1)<<53)
}
