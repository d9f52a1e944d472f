package knowledge

import (
	"regexp"
)

// citationPattern matches footnote markers of the shape
// [(seqNo)](citation#id 'file'). The seqNo segment is matched permissively:
// the digits and even the parentheses may be missing. That leniency mirrors
// the behavior clients already depend on, so it is a compatibility
// requirement, not an accident to fix. Only the id token participates in
// matching; seqNo and file are display hints.
var citationPattern = regexp.MustCompile(`\[\(?\d*\)?\]\(citation#([^\s']+) '([^']*)'\)`)

// Resolution is the cited-chunk/cited-file record derived from a completed
// turn's final output.
type Resolution struct {
	// CitedChunks is the subset of used chunks the model actually cited,
	// in first-citation order.
	CitedChunks []Chunk
	// CitedFileIDs is the distinct set of local file ids among CitedChunks.
	// External sources are excluded.
	CitedFileIDs []string
}

// ChunkIDs returns the ids of the cited chunks.
func (r Resolution) ChunkIDs() []string {
	ids := make([]string, 0, len(r.CitedChunks))
	for _, c := range r.CitedChunks {
		ids = append(ids, c.ID)
	}
	return ids
}

// Resolve scans the final output for citation markers and intersects them
// with the chunk set used for the turn. Zero markers is a valid outcome (the
// model chose not to cite); malformed markers are skipped by regex
// non-match. A marker whose id matches no used chunk is dropped here and
// only surfaces later through Lookup.
func Resolve(finalOutput string, usedChunks []Chunk) Resolution {
	if finalOutput == "" || len(usedChunks) == 0 {
		return Resolution{}
	}

	byID := make(map[string]Chunk, len(usedChunks))
	for _, c := range usedChunks {
		byID[c.ID] = c
	}

	var res Resolution
	seenChunks := make(map[string]bool)
	seenFiles := make(map[string]bool)

	for _, match := range citationPattern.FindAllStringSubmatch(finalOutput, -1) {
		id := match[1]
		if seenChunks[id] {
			continue
		}
		chunk, ok := byID[id]
		if !ok {
			continue
		}
		seenChunks[id] = true
		res.CitedChunks = append(res.CitedChunks, chunk)
		if !chunk.IsExternal() && !seenFiles[chunk.FileID] {
			seenFiles[chunk.FileID] = true
			res.CitedFileIDs = append(res.CitedFileIDs, chunk.FileID)
		}
	}

	return res
}

// Lookup finds a cited chunk by id within the chunk set of a turn. The
// second return is false when the marker references a chunk that no longer
// exists (for example after chunk deletion); callers surface that as an
// informational notice, never as a turn failure.
func Lookup(id string, chunks []Chunk) (Chunk, bool) {
	for _, c := range chunks {
		if c.ID == id {
			return c, true
		}
	}
	return Chunk{}, false
}
