package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed chunk store implementing Searcher. Retrieval is
// keyword-overlap ranked; collections are searched in parallel.
type Store struct {
	db        *sql.DB
	mu        sync.RWMutex
	maxChunks int
}

// NewStore opens (creating if needed) the knowledge database at path.
func NewStore(path string, maxChunks int) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if maxChunks <= 0 {
		maxChunks = 8
	}
	s := &Store{db: db, maxChunks: maxChunks}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS collections (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		collection_id TEXT NOT NULL,
		file_id TEXT NOT NULL,
		file_name TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_collection ON chunks(collection_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(file_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateCollection registers a knowledge collection.
func (s *Store) CreateCollection(id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT OR REPLACE INTO collections (id, name) VALUES (?, ?)`, id, name)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// AddChunk stores one chunk.
func (s *Store) AddChunk(c Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO chunks (id, collection_id, file_id, file_name, content) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.CollectionID, c.FileID, c.FileName, c.Content,
	)
	if err != nil {
		return fmt.Errorf("failed to store chunk: %w", err)
	}
	return nil
}

// DeleteChunk removes a chunk. Citations already recorded against it keep
// their marker; they just stop resolving.
func (s *Store) DeleteChunk(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM chunks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete chunk: %w", err)
	}
	return nil
}

// likeEscaper neutralizes LIKE metacharacters so query keywords match
// literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// scoredChunk pairs a chunk with its keyword-overlap score.
type scoredChunk struct {
	chunk Chunk
	score int
	seq   int64 // rowid, for a stable tiebreak
}

// Search finds chunks relevant to the query across the given collections.
// Collections are queried in parallel; results are merged by score. An empty
// result is returned, not an error, when nothing matches.
func (s *Store) Search(ctx context.Context, collectionIDs []string, query string) ([]Chunk, error) {
	keywords := strings.Fields(strings.ToLower(query))
	if len(keywords) == 0 || len(collectionIDs) == 0 {
		return nil, nil
	}

	var (
		resMu sync.Mutex
		all   []scoredChunk
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, collectionID := range collectionIDs {
		g.Go(func() error {
			scored, err := s.searchCollection(gctx, collectionID, keywords)
			if err != nil {
				return err
			}
			resMu.Lock()
			all = append(all, scored...)
			resMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].seq < all[j].seq
	})
	if len(all) > s.maxChunks {
		all = all[:s.maxChunks]
	}

	chunks := make([]Chunk, 0, len(all))
	for _, sc := range all {
		chunks = append(chunks, sc.chunk)
	}
	return chunks, nil
}

func (s *Store) searchCollection(ctx context.Context, collectionID string, keywords []string) ([]scoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conditions := make([]string, 0, len(keywords))
	args := []interface{}{collectionID}
	for _, kw := range keywords {
		conditions = append(conditions, `LOWER(content) LIKE ? ESCAPE '\'`)
		args = append(args, "%"+likeEscaper.Replace(kw)+"%")
	}

	sqlQuery := fmt.Sprintf(
		`SELECT rowid, id, collection_id, file_id, file_name, content FROM chunks WHERE collection_id = ? AND (%s)`,
		strings.Join(conditions, " OR "),
	)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("chunk search failed: %w", err)
	}
	defer rows.Close()

	var results []scoredChunk
	for rows.Next() {
		var sc scoredChunk
		if err := rows.Scan(&sc.seq, &sc.chunk.ID, &sc.chunk.CollectionID, &sc.chunk.FileID, &sc.chunk.FileName, &sc.chunk.Content); err != nil {
			continue
		}
		content := strings.ToLower(sc.chunk.Content)
		for _, kw := range keywords {
			if strings.Contains(content, kw) {
				sc.score++
			}
		}
		results = append(results, sc)
	}
	return results, rows.Err()
}
