// Package chunker splits long text into bounded, overlapping chunks that
// prefer natural language boundaries.
//
// Sizes are measured in characters (runes), not model tokens. A chunk ends,
// in order of preference, at a sentence terminator followed by a space or a
// paragraph break found within the last 30 characters of the window, at the
// last space in the window, or at the window edge itself.
//
// Basic usage:
//
//	c, err := chunker.New(chunker.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, ch := range c.ChunkText(text) {
//	    fmt.Println(ch.StartOffset, ch.EndOffset, ch.Text)
//	}
package chunker
