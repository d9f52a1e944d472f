// Package knowledge implements retrieval-augmented prompting: chunk storage
// and search, prompt augmentation with a citation-instruction manifest, and
// post-completion citation resolution.
package knowledge

import "context"

// ExternalFileID marks a chunk whose source is not a local file (for
// example a remote knowledge base). Such chunks stay citable by id but are
// excluded from the local cited-files view.
const ExternalFileID = "external"

// Chunk is one retrieved context passage.
type Chunk struct {
	ID           string
	CollectionID string
	FileID       string
	FileName     string
	Content      string
}

// IsExternal reports whether the chunk's source is not a local file.
func (c Chunk) IsExternal() bool {
	return c.FileID == "" || c.FileID == ExternalFileID
}

// Searcher is the knowledge collaborator. An empty result is not an error.
type Searcher interface {
	Search(ctx context.Context, collectionIDs []string, query string) ([]Chunk, error)
}
