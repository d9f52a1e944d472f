package knowledge

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"
)

// emptyChunkPlaceholder substitutes empty chunk content so that manifest
// positions stay aligned with seqNo.
const emptyChunkPlaceholder = "(no content)"

// citationInstruction is the fixed template prepended to augmented prompts.
// The marker shape it mandates is the contract the citation resolver parses.
const citationInstruction = `Answer the user's question using the reference chunks below when they are relevant. When a chunk informs part of your answer, append a footnote marker at the end of that part, in exactly this form: [(seqNo)](citation#id 'file'), using the seqNo, id and file of the chunk being cited. Only cite chunks listed below. If none are relevant, answer normally without citations.

Reference chunks:
`

// Augmentation is the result of augmenting a prompt with retrieved context.
type Augmentation struct {
	// Prompt is the augmented prompt text, or the original prompt when no
	// context was injected.
	Prompt string
	// UsedChunks is the chunk set handed to the citation resolver after the
	// turn completes, in retrieval order.
	UsedChunks []Chunk
}

// Augmenter builds augmented prompts from retrieved context chunks.
type Augmenter struct {
	searcher Searcher
	logger   *zap.Logger
}

// NewAugmenter creates an Augmenter backed by the given searcher.
func NewAugmenter(searcher Searcher, logger *zap.Logger) *Augmenter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Augmenter{searcher: searcher, logger: logger}
}

// manifestEntry is the wire shape of one chunk in the prompt manifest.
type manifestEntry struct {
	SeqNo   int    `json:"seqNo"`
	ID      string `json:"id"`
	File    string `json:"file"`
	Content string `json:"content"`
}

// Augment retrieves context for the prompt across the given collections and
// rewrites it with the citation-instruction template. Retrieval failures
// degrade to the unaugmented prompt and are only logged; augmentation never
// blocks a submission.
func (a *Augmenter) Augment(ctx context.Context, prompt string, collectionIDs []string) Augmentation {
	if len(collectionIDs) == 0 || a.searcher == nil {
		return Augmentation{Prompt: prompt}
	}

	chunks, err := a.searcher.Search(ctx, collectionIDs, prompt)
	if err != nil {
		a.logger.Warn("knowledge retrieval failed, using raw prompt",
			zap.Strings("collections", collectionIDs),
			zap.Error(err))
		return Augmentation{Prompt: prompt}
	}
	if len(chunks) == 0 {
		return Augmentation{Prompt: prompt}
	}

	// Manifest order is retrieval order. The resolver and the seqNo the
	// model echoes back both depend on it, so no re-sorting.
	var sb strings.Builder
	sb.WriteString(citationInstruction)
	sb.WriteString("[")
	for i, chunk := range chunks {
		content := chunk.Content
		if content == "" {
			content = emptyChunkPlaceholder
		}
		entry, err := json.Marshal(manifestEntry{
			SeqNo:   i + 1,
			ID:      chunk.ID,
			File:    chunk.FileName,
			Content: content,
		})
		if err != nil {
			// Marshal of plain strings cannot fail; keep alignment anyway.
			entry = []byte("{}")
		}
		if i > 0 {
			sb.WriteString(",")
		}
		sb.Write(entry)
	}
	sb.WriteString("]\n\nUser question:\n")
	sb.WriteString(prompt)

	return Augmentation{Prompt: sb.String(), UsedChunks: chunks}
}
