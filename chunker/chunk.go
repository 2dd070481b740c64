package chunker

import (
	"errors"
	"fmt"
)

const (
	DefaultMaxChunkSize = 1000 // Default window size in characters
	DefaultOverlapSize  = 100  // Default overlap between neighbouring chunks

	// boundaryLookback bounds how far back from the window edge the
	// natural-boundary scan goes.
	boundaryLookback = 30
)

// ErrInvalidConfig is returned by New when the sizes cannot produce a valid window.
var ErrInvalidConfig = errors.New("invalid chunking configuration")

// Chunk is a contiguous range of the source text. Offsets are rune indices
// and EndOffset is inclusive.
type Chunk struct {
	Text        string // Chunk content
	StartOffset int    // Index of the first rune
	EndOffset   int    // Index of the last rune (inclusive)
}

// Len returns the chunk length in runes.
func (c Chunk) Len() int {
	return c.EndOffset - c.StartOffset + 1
}

// Config holds the chunking sizes
type Config struct {
	MaxChunkSize int `yaml:"max_chunk_size"` // Maximum characters per chunk
	OverlapSize  int `yaml:"overlap_size"`   // Characters shared with the previous chunk
}

// DefaultConfig returns the default chunk and overlap sizes
func DefaultConfig() Config {
	return Config{
		MaxChunkSize: DefaultMaxChunkSize,
		OverlapSize:  DefaultOverlapSize,
	}
}

// Validate checks that the sizes are usable
func (c Config) Validate() error {
	if c.MaxChunkSize <= 0 {
		return fmt.Errorf("%w: max chunk size must be positive, got %d", ErrInvalidConfig, c.MaxChunkSize)
	}
	if c.OverlapSize < 0 {
		return fmt.Errorf("%w: overlap size must be non-negative, got %d", ErrInvalidConfig, c.OverlapSize)
	}
	if c.OverlapSize >= c.MaxChunkSize {
		return fmt.Errorf("%w: overlap size %d must be smaller than max chunk size %d",
			ErrInvalidConfig, c.OverlapSize, c.MaxChunkSize)
	}
	return nil
}
