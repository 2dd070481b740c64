package chunker

import (
	"log/slog"
	"unicode/utf8"
)

// Chunker splits text using a fixed Config. It holds no per-call state and is
// safe for concurrent use.
type Chunker struct {
	config Config
}

// New creates a Chunker after validating the configuration
func New(cfg Config) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{config: cfg}, nil
}

// Config returns the configuration the chunker was built with
func (c *Chunker) Config() Config {
	return c.config
}

// ChunkText splits text into ordered, possibly overlapping chunks whose union
// covers the whole text. It never fails: text that fits in one window comes
// back as a single chunk, including the empty string.
func (c *Chunker) ChunkText(text string) []Chunk {
	runes, offsets := decodeText(text)
	n := len(runes)

	slog.Debug("Chunking text",
		"length", n,
		"max_chunk_size", c.config.MaxChunkSize,
		"overlap_size", c.config.OverlapSize)

	if n <= c.config.MaxChunkSize {
		return []Chunk{{Text: text, StartOffset: 0, EndOffset: n - 1}}
	}

	var chunks []Chunk
	current := 0

	for {
		boundary := c.findBoundary(runes, current)
		chunks = append(chunks, newChunk(text, offsets, current, boundary))

		if boundary >= n-1 {
			break
		}

		next := max(boundary-c.config.OverlapSize+1, current+1)
		remaining := n - next
		if next <= current || remaining <= c.config.OverlapSize {
			if remaining > 0 {
				slog.Debug("Adding final chunk", "start", next, "length", remaining)
				chunks = append(chunks, newChunk(text, offsets, next, n-1))
			}
			break
		}

		current = next
	}

	slog.Debug("Chunking complete", "chunks", len(chunks))
	return chunks
}

// findBoundary returns the inclusive end offset of the chunk starting at start.
func (c *Chunker) findBoundary(runes []rune, start int) int {
	target := start + c.config.MaxChunkSize
	if target >= len(runes) {
		return len(runes) - 1
	}

	if i, ok := findNaturalBoundary(runes, start, target); ok {
		slog.Debug("Found natural boundary", "start", start, "boundary", i)
		return i
	}

	if i, ok := findSpaceBoundary(runes, start, target); ok {
		slog.Debug("Found space boundary", "start", start, "boundary", i)
		return i
	}

	slog.Debug("No boundary found, cutting at window edge", "start", start, "boundary", target)
	return target
}

// findNaturalBoundary scans backward from target, at most boundaryLookback
// characters and never before start, for the closest sentence or paragraph end.
func findNaturalBoundary(runes []rune, start, target int) (int, bool) {
	floor := max(target-boundaryLookback, start)
	for i := target; i >= floor; i-- {
		if isNaturalBoundary(runes, i) {
			return i, true
		}
	}
	return 0, false
}

func isNaturalBoundary(runes []rune, i int) bool {
	if i+1 >= len(runes) {
		return false
	}
	switch runes[i] {
	case '.', '?', '!':
		return runes[i+1] == ' '
	case '\n':
		return runes[i+1] == '\n'
	}
	return false
}

// findSpaceBoundary returns the offset of the last space in runes[start..target].
func findSpaceBoundary(runes []rune, start, target int) (int, bool) {
	for i := target; i >= start; i-- {
		if runes[i] == ' ' {
			return i, true
		}
	}
	return 0, false
}

// decodeText splits text into runes and records the byte offset of each one.
// offsets has one extra entry holding len(text). Invalid bytes decode to
// utf8.RuneError one byte at a time, matching []rune(text).
func decodeText(text string) ([]rune, []int) {
	runes := make([]rune, 0, len(text))
	offsets := make([]int, 0, len(text)+1)
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		runes = append(runes, r)
		offsets = append(offsets, i)
		i += size
	}
	offsets = append(offsets, len(text))
	return runes, offsets
}

// newChunk slices the original bytes so chunk text is always a substring of
// the source, even when it holds invalid UTF-8.
func newChunk(text string, offsets []int, start, end int) Chunk {
	return Chunk{
		Text:        text[offsets[start]:offsets[end+1]],
		StartOffset: start,
		EndOffset:   end,
	}
}
