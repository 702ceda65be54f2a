// Package rand defines math/rand generators backed by the operating
// system's CSPRNG. The generators expose the full math/rand API (Intn,
// Int63, Shuffle, ...) while never relying on a deterministic seed, so
// they are safe to use for jitter sampling and ordering decisions.
package rand

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand"
)

type source struct{}

// Seed does nothing. The underlying entropy source cannot be re-seeded.
func (_ *source) Seed(_ int64) {}

// Int63 returns a uniformly random 63-bit non-negative integer.
func (s *source) Int63() int64 {
	return int64(s.Uint64() & ^(uint64(1) << 63))
}

// Uint64 reads 8 bytes from crypto/rand.
func (_ *source) Uint64() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// The kernel entropy pool is unavailable. Nothing sensible can
		// be done here, as every caller depends on unpredictable output.
		panic(err)
	}
	return binary.BigEndian.Uint64(b[:])
}

// NewGenerator returns a new math/rand generator that draws from
// crypto/rand. The source is stateless, so the generator is safe for
// concurrent use.
func NewGenerator() *mrand.Rand {
	return mrand.New(&source{}) // #nosec G404 -- the source is crypto/rand backed
}
