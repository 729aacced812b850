package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store with SQLite persistence and an in-memory
// vector mirror for brute-force cosine search.
type SQLiteStore struct {
	db         *sql.DB
	dimensions int

	mu      sync.RWMutex
	ids     []string
	vectors [][]float32
	byDoc   map[string][]int // document -> positions in ids/vectors
}

// NewSQLiteStore opens or creates the database at dbPath, initializes the
// schema, and loads all persisted vectors into memory. dimensions fixes the
// accepted vector length.
func NewSQLiteStore(dbPath string, dimensions int) (*SQLiteStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	s := &SQLiteStore{
		db:         db,
		dimensions: dimensions,
		byDoc:      make(map[string][]int),
	}
	if err := s.loadVectors(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to load vectors: %w", err)
	}
	return s, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		document TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		total_chunks INTEGER NOT NULL,
		content TEXT NOT NULL,
		front_matter TEXT,
		embedding BLOB NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document);
	CREATE INDEX IF NOT EXISTS idx_chunks_document_index ON chunks(document, chunk_index);
	`
	_, err := db.Exec(schema)
	return err
}

func (s *SQLiteStore) loadVectors() error {
	rows, err := s.db.Query(`SELECT id, document, embedding FROM chunks ORDER BY document, chunk_index`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id, document string
		var blob []byte
		if err := rows.Scan(&id, &document, &blob); err != nil {
			return err
		}
		vec := bytesToFloat32Slice(blob)
		if len(vec) != s.dimensions {
			return fmt.Errorf("document %s: %w", document, &DimensionMismatchError{Got: len(vec), Want: s.dimensions})
		}
		s.byDoc[document] = append(s.byDoc[document], len(s.ids))
		s.ids = append(s.ids, id)
		s.vectors = append(s.vectors, vec)
	}
	return rows.Err()
}

// Upsert atomically replaces all records for document with the new set.
// Mixed-version state is never observable: delete and insert share one
// transaction, and the in-memory mirror is swapped only after commit.
func (s *SQLiteStore) Upsert(ctx context.Context, document string, records []ChunkRecord) error {
	for _, rec := range records {
		if len(rec.Embedding) != s.dimensions {
			return &DimensionMismatchError{Got: len(rec.Embedding), Want: s.dimensions}
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &WriteError{Op: "upsert", Err: err}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document = ?`, document); err != nil {
		_ = tx.Rollback()
		return &WriteError{Op: "upsert", Err: err}
	}
	for _, rec := range records {
		frontMatterJSON, err := json.Marshal(rec.FrontMatter)
		if err != nil {
			_ = tx.Rollback()
			return &WriteError{Op: "upsert", Err: err}
		}
		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO chunks (id, document, fingerprint, chunk_index, total_chunks, content, front_matter, embedding)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.Document, rec.Fingerprint, rec.ChunkIndex, rec.TotalChunks,
			rec.Content, string(frontMatterJSON), float32SliceToBytes(rec.Embedding),
		)
		if err != nil {
			_ = tx.Rollback()
			return &WriteError{Op: "upsert", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &WriteError{Op: "upsert", Err: err}
	}

	s.mu.Lock()
	s.removeDocumentLocked(document)
	for _, rec := range records {
		s.byDoc[document] = append(s.byDoc[document], len(s.ids))
		vec := make([]float32, s.dimensions)
		copy(vec, rec.Embedding)
		s.ids = append(s.ids, rec.ID)
		s.vectors = append(s.vectors, vec)
	}
	s.mu.Unlock()
	return nil
}

// Delete removes all records for document. Unknown documents are a no-op.
func (s *SQLiteStore) Delete(ctx context.Context, document string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE document = ?`, document); err != nil {
		return &WriteError{Op: "delete", Err: err}
	}
	s.mu.Lock()
	s.removeDocumentLocked(document)
	s.mu.Unlock()
	return nil
}

// removeDocumentLocked rebuilds the mirror without document's vectors.
func (s *SQLiteStore) removeDocumentLocked(document string) {
	positions, ok := s.byDoc[document]
	if !ok || len(positions) == 0 {
		delete(s.byDoc, document)
		return
	}
	drop := make(map[int]bool, len(positions))
	for _, p := range positions {
		drop[p] = true
	}
	newIDs := make([]string, 0, len(s.ids)-len(positions))
	newVectors := make([][]float32, 0, len(s.vectors)-len(positions))
	newByDoc := make(map[string][]int, len(s.byDoc))
	oldToNew := make(map[int]int, len(s.ids))
	for i, id := range s.ids {
		if drop[i] {
			continue
		}
		oldToNew[i] = len(newIDs)
		newIDs = append(newIDs, id)
		newVectors = append(newVectors, s.vectors[i])
	}
	for doc, ps := range s.byDoc {
		if doc == document {
			continue
		}
		mapped := make([]int, 0, len(ps))
		for _, p := range ps {
			if np, ok := oldToNew[p]; ok {
				mapped = append(mapped, np)
			}
		}
		newByDoc[doc] = mapped
	}
	s.ids = newIDs
	s.vectors = newVectors
	s.byDoc = newByDoc
}

// Query returns up to k matches ordered by ascending cosine distance.
func (s *SQLiteStore) Query(ctx context.Context, vector []float32, k int) ([]Match, error) {
	if len(vector) != s.dimensions {
		return nil, &DimensionMismatchError{Got: len(vector), Want: s.dimensions}
	}
	if k <= 0 {
		return nil, nil
	}

	type scored struct {
		id       string
		distance float64
	}
	s.mu.RLock()
	scores := make([]scored, len(s.ids))
	for i, vec := range s.vectors {
		scores[i] = scored{id: s.ids[i], distance: cosineDistance(vector, vec)}
	}
	s.mu.RUnlock()

	sort.SliceStable(scores, func(i, j int) bool { return scores[i].distance < scores[j].distance })
	if k > len(scores) {
		k = len(scores)
	}

	matches := make([]Match, 0, k)
	for _, sc := range scores[:k] {
		rec, err := s.getChunk(ctx, sc.id)
		if errors.Is(err, sql.ErrNoRows) {
			// removed by a concurrent writer between scan and hydration
			continue
		}
		if err != nil {
			return nil, err
		}
		matches = append(matches, Match{Chunk: rec, Distance: sc.distance})
	}
	return matches, nil
}

func (s *SQLiteStore) getChunk(ctx context.Context, id string) (*ChunkRecord, error) {
	var rec ChunkRecord
	var frontMatterJSON string
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, document, fingerprint, chunk_index, total_chunks, content, front_matter, embedding
		 FROM chunks WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.Document, &rec.Fingerprint, &rec.ChunkIndex, &rec.TotalChunks,
		&rec.Content, &frontMatterJSON, &blob)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", id, err)
	}
	if frontMatterJSON != "" && frontMatterJSON != "null" {
		if err := json.Unmarshal([]byte(frontMatterJSON), &rec.FrontMatter); err != nil {
			return nil, fmt.Errorf("chunk %s front matter: %w", id, err)
		}
	}
	rec.Embedding = bytesToFloat32Slice(blob)
	return &rec, nil
}

// Stats returns total chunk and unique document counts.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT document) FROM chunks`,
	).Scan(&st.TotalChunks, &st.UniqueDocuments)
	if err != nil {
		return Stats{}, err
	}
	return st, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// cosineDistance returns 1 - cosine similarity. Zero-norm vectors are treated
// as maximally distant.
func cosineDistance(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i] * b[i])
		normA += float64(a[i] * a[i])
		normB += float64(b[i] * b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim > 1 {
		sim = 1
	}
	if sim < -1 {
		sim = -1
	}
	return 1 - sim
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
