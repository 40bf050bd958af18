package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"studybot/internal/models"
)

// ErrDuplicateID is matched by errors.Is for every *DuplicateIDError.
var ErrDuplicateID = errors.New("duplicate id")

type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("id %q already exists in the collection", e.ID)
}

func (e *DuplicateIDError) Is(target error) bool {
	return target == ErrDuplicateID
}

// VectorDBManager encapsulates the chromem-go database operations
type VectorDBManager struct {
	db            *chromem.DB
	collection    *chromem.Collection
	embed         chromem.EmbeddingFunc
	dbPath        string
	compress      bool
	encryptionKey string
	filePath      string

	// serialises the duplicate check with the insert
	writeMu sync.Mutex
}

// NewVectorDBManager opens (or creates) the persistent database under dbPath.
// With inMemory set nothing is written to disk unless Export is called.
func NewVectorDBManager(dbPath, collectionName string, inMemory, compress bool, encryptionKey string) (*VectorDBManager, error) {
	var db *chromem.DB
	var err error
	if inMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(dbPath, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	return &VectorDBManager{
		db:            db,
		dbPath:        dbPath,
		compress:      compress,
		encryptionKey: encryptionKey,
		filePath:      filepath.Join(dbPath, collectionName+".chromem"),
	}, nil
}

// GetOrCreateCollection binds the manager to the named collection. The
// embedding function is not persisted by chromem, so it has to be supplied on
// every start.
func (m *VectorDBManager) GetOrCreateCollection(collectionName string, embed chromem.EmbeddingFunc) (*chromem.Collection, error) {
	if embed == nil {
		return nil, fmt.Errorf("embedding function is required")
	}
	c, err := m.db.GetOrCreateCollection(collectionName, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	m.collection = c
	m.embed = embed
	log.Debug().Str("collection", collectionName).Int("documents", c.Count()).Msg("Opened collection")
	return c, nil
}

// Add embeds and stores documents[i] under ids[i]. No record is written if any
// id is empty, repeated within the batch or already stored.
func (m *VectorDBManager) Add(ctx context.Context, ids, documents []string, metadatas []map[string]string) error {
	if m.collection == nil {
		return fmt.Errorf("collection is required")
	}
	if len(ids) != len(documents) {
		return fmt.Errorf("ids and documents length mismatch: %d != %d", len(ids), len(documents))
	}
	if metadatas != nil && len(metadatas) != len(ids) {
		return fmt.Errorf("ids and metadatas length mismatch: %d != %d", len(ids), len(metadatas))
	}
	if len(ids) == 0 {
		return nil
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	seen := make(map[string]struct{}, len(ids))
	docs := make([]chromem.Document, len(ids))
	for i, id := range ids {
		if id == "" {
			return fmt.Errorf("document %d has an empty id", i)
		}
		if _, ok := seen[id]; ok {
			return &DuplicateIDError{ID: id}
		}
		seen[id] = struct{}{}
		if m.exists(ctx, id) {
			return &DuplicateIDError{ID: id}
		}
		docs[i] = chromem.Document{
			ID:      id,
			Content: documents[i],
		}
		if metadatas != nil {
			docs[i].Metadata = metadatas[i]
		}
	}

	if err := m.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

// AddChunks stores chunks with their source filename and index as metadata.
func (m *VectorDBManager) AddChunks(ctx context.Context, chunks []models.Chunk) error {
	ids := make([]string, len(chunks))
	documents := make([]string, len(chunks))
	metadatas := make([]map[string]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
		documents[i] = c.Content
		metadatas[i] = chunkMetadata(c)
	}
	return m.Add(ctx, ids, documents, metadatas)
}

// ReplaceSource swaps every stored chunk of source for chunks and returns how
// many old chunks were removed. The new chunks are embedded before anything is
// deleted, so a failed embedding leaves the stored version untouched. An id
// held by a different source is rejected with *DuplicateIDError.
func (m *VectorDBManager) ReplaceSource(ctx context.Context, source string, chunks []models.Chunk) (int, error) {
	if m.collection == nil {
		return 0, fmt.Errorf("collection is required")
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	seen := make(map[string]struct{}, len(chunks))
	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		if c.ID == "" {
			return 0, fmt.Errorf("document %d has an empty id", i)
		}
		if _, ok := seen[c.ID]; ok {
			return 0, &DuplicateIDError{ID: c.ID}
		}
		seen[c.ID] = struct{}{}
		if stored, err := m.collection.GetByID(ctx, c.ID); err == nil && stored.Metadata[models.MetaSource] != source {
			return 0, &DuplicateIDError{ID: c.ID}
		}

		embedding, err := m.embed(ctx, c.Content)
		if err != nil {
			return 0, fmt.Errorf("failed to embed %s: %w", c.ID, err)
		}
		docs[i] = chromem.Document{
			ID:        c.ID,
			Content:   c.Content,
			Metadata:  chunkMetadata(c),
			Embedding: embedding,
		}
	}

	before := m.collection.Count()
	if before > 0 {
		if err := m.collection.Delete(ctx, map[string]string{models.MetaSource: source}, nil); err != nil {
			return 0, fmt.Errorf("failed to delete documents of %s: %w", source, err)
		}
	}
	removed := before - m.collection.Count()

	if len(docs) > 0 {
		if err := m.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return removed, fmt.Errorf("failed to add documents: %w", err)
		}
	}
	log.Debug().Str("source", source).Int("removed", removed).Int("added", len(docs)).Msg("Replaced documents")
	return removed, nil
}

func chunkMetadata(c models.Chunk) map[string]string {
	return map[string]string{
		models.MetaSource:     c.Source,
		models.MetaChunkIndex: fmt.Sprint(c.Index),
	}
}

func (m *VectorDBManager) exists(ctx context.Context, id string) bool {
	_, err := m.collection.GetByID(ctx, id)
	return err == nil
}

// Query returns the content of the k documents most similar to text, nearest
// first. Fewer than k are returned when the collection is smaller, none when
// it is empty.
func (m *VectorDBManager) Query(ctx context.Context, text string, k int) ([]string, error) {
	results, err := m.SearchWithQueryOptions(ctx, chromem.QueryOptions{
		QueryText: text,
		NResults:  k,
	})
	if err != nil {
		return nil, err
	}
	contents := make([]string, len(results))
	for i, r := range results {
		contents[i] = r.Content
	}
	return contents, nil
}

// SearchWithQueryOptions runs a similarity search, clamping NResults to the
// collection size.
func (m *VectorDBManager) SearchWithQueryOptions(ctx context.Context, opts chromem.QueryOptions) ([]chromem.Result, error) {
	if m.collection == nil {
		return nil, fmt.Errorf("collection is required")
	}
	if opts.NResults < 1 {
		return nil, fmt.Errorf("number of results must be at least 1, got %d", opts.NResults)
	}
	// chromem rejects an empty query text, which is still a valid question here
	if opts.QueryText == "" && opts.QueryEmbedding == nil {
		opts.QueryText = " "
	}

	count := m.collection.Count()
	if count == 0 {
		return []chromem.Result{}, nil
	}
	opts.NResults = min(opts.NResults, count)

	results, err := m.collection.QueryWithOptions(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}
	return results, nil
}

// DeleteBySource removes every chunk that was added for filename and returns
// how many were removed.
func (m *VectorDBManager) DeleteBySource(ctx context.Context, filename string) (int, error) {
	if m.collection == nil {
		return 0, fmt.Errorf("collection is required")
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	before := m.collection.Count()
	if before == 0 {
		return 0, nil
	}
	err := m.collection.Delete(ctx, map[string]string{models.MetaSource: filename}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to delete documents of %s: %w", filename, err)
	}
	return before - m.collection.Count(), nil
}

// Delete removes documents by id. Unknown ids are ignored.
func (m *VectorDBManager) Delete(ctx context.Context, ids ...string) error {
	if m.collection == nil {
		return fmt.Errorf("collection is required")
	}
	if len(ids) == 0 {
		return nil
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := m.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

func (m *VectorDBManager) Count() int {
	if m.collection == nil {
		return 0
	}
	return m.collection.Count()
}

// delete collection
func (m *VectorDBManager) DeleteCollection() error {
	if m.collection == nil {
		return fmt.Errorf("collection is required")
	}
	err := m.db.DeleteCollection(m.collection.Name)
	if err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	m.collection = nil
	return nil
}

// ExportFilePath is where Export writes and Import reads the backup.
func (m *VectorDBManager) ExportFilePath() string {
	return m.filePath
}

// Export writes an encrypted backup of the collection.
func (m *VectorDBManager) Export(ctx context.Context) error {
	if m.encryptionKey == "" {
		return fmt.Errorf("encryption key is required")
	}
	if m.collection == nil {
		return fmt.Errorf("collection is required")
	}

	log.Debug().
		Str("collection", m.collection.Name).
		Str("file", m.filePath).
		Bool("compress", m.compress).
		Msg("Exporting collection")
	err := m.db.ExportToFile(m.filePath, m.compress, m.encryptionKey, m.collection.Name)
	if err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// Import restores the collection from the backup written by Export.
func (m *VectorDBManager) Import(ctx context.Context) error {
	if m.encryptionKey == "" {
		return fmt.Errorf("encryption key is required")
	}
	if m.collection == nil {
		return fmt.Errorf("collection is required")
	}

	name := m.collection.Name
	err := m.db.ImportFromFile(m.filePath, m.encryptionKey, name)
	if err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	// the import swaps in a new collection object
	m.collection = m.db.GetCollection(name, m.embed)
	if m.collection == nil {
		return fmt.Errorf("collection %s missing from backup", name)
	}
	return nil
}
