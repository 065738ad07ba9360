package bloom

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

const (
	// DefaultHashes is the number of bit positions derived per value.
	DefaultHashes = 8

	// DefaultWidth is the default bit-array width, 2^32 bits.
	DefaultWidth uint64 = 1 << 32
)

// OffsetGenerator derives k bit positions in [0, width) from a value's
// serialized bytes using double hashing: offset_i = (h1 + i*h2) mod width.
// The result is a pure function of the input and the two parameters.
type OffsetGenerator struct {
	hashes int
	width  uint64
}

// NewOffsetGenerator validates the parameters and returns a generator.
func NewOffsetGenerator(hashes int, width uint64) (*OffsetGenerator, error) {
	if hashes < 1 {
		return nil, fmt.Errorf("bloom: hash count must be at least 1, got %d", hashes)
	}
	if width < 1 || width > DefaultWidth {
		return nil, fmt.Errorf("bloom: width must be in [1, 2^32], got %d", width)
	}
	return &OffsetGenerator{hashes: hashes, width: width}, nil
}

// DefaultOffsetGenerator returns a generator with k = 8 over 2^32 bits.
func DefaultOffsetGenerator() *OffsetGenerator {
	return &OffsetGenerator{hashes: DefaultHashes, width: DefaultWidth}
}

// Hashes returns k.
func (g *OffsetGenerator) Hashes() int { return g.hashes }

// Width returns the bit-array width.
func (g *OffsetGenerator) Width() uint64 { return g.width }

// Offsets returns the k bit positions for data. Arithmetic is unsigned and
// wraps, so every offset is non-negative.
func (g *OffsetGenerator) Offsets(data []byte) []int64 {
	h1 := xxhash.Sum64(data)

	d := xxhash.NewWithSeed(h1)
	_, _ = d.Write(data)
	h2 := d.Sum64()

	offsets := make([]int64, g.hashes)
	for i := range offsets {
		offsets[i] = int64((h1 + uint64(i)*h2) % g.width)
	}
	return offsets
}
