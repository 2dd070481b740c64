package chunker

import (
	"maps"

	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
)

// Metadata keys added by SplitDocuments
const (
	MetadataChunkIndex = "chunk_index"
	MetadataChunkStart = "chunk_start"
	MetadataChunkEnd   = "chunk_end"
)

var _ textsplitter.TextSplitter = (*Chunker)(nil)

// SplitText implements textsplitter.TextSplitter so the chunker can be used in
// langchaingo document pipelines. It never returns an error.
func (c *Chunker) SplitText(text string) ([]string, error) {
	chunks := c.ChunkText(text)
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	return texts, nil
}

// SplitDocuments chunks each document and returns one document per chunk.
// Source metadata is copied and the chunk position is recorded alongside it.
func (c *Chunker) SplitDocuments(docs []schema.Document) []schema.Document {
	var out []schema.Document
	for _, doc := range docs {
		for i, ch := range c.ChunkText(doc.PageContent) {
			meta := make(map[string]any, len(doc.Metadata)+3)
			maps.Copy(meta, doc.Metadata)
			meta[MetadataChunkIndex] = i
			meta[MetadataChunkStart] = ch.StartOffset
			meta[MetadataChunkEnd] = ch.EndOffset

			out = append(out, schema.Document{
				PageContent: ch.Text,
				Metadata:    meta,
			})
		}
	}
	return out
}
