package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nestor-home/nestor/pkg/embedder"
	"github.com/nestor-home/nestor/pkg/vector"
)

// DeployedFile identifies one repository file that was just written.
type DeployedFile struct {
	Filename string
	Kind     vector.Kind
	Source   string
}

// Service keeps the vector store aligned with the on-disk automation
// repository and answers semantic code searches.
//
// Repository layout: automations as *.star at the root, library modules as
// lib/*.lib.star.
type Service struct {
	repoPath string
	embedder embedder.Client
	store    vector.Store

	// mu serializes Sync with itself and with OnDeployed.
	mu sync.Mutex

	// hashes caches the content hash of every indexed row so unchanged files
	// skip re-embedding. Seeded from the store on first sync.
	hashes map[string]string
}

func NewService(repoPath string, emb embedder.Client, store vector.Store) *Service {
	return &Service{
		repoPath: repoPath,
		embedder: emb,
		store:    store,
	}
}

// Ready reports whether semantic search can produce results.
func (s *Service) Ready() bool {
	return s.embedder.Ready()
}

// Search embeds the query and returns the topK most similar indexed files.
// When the embedding model is not ready it returns no results instead of
// failing, so callers degrade gracefully.
func (s *Service) Search(ctx context.Context, query string, topK int) ([]vector.CodeSearchResult, error) {
	if !s.embedder.Ready() {
		slog.Debug("semantic search skipped, embedding model not ready")
		return nil, nil
	}

	queryVec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		if err == embedder.ErrModelNotReady {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	return s.store.SearchSimilar(ctx, queryVec, topK)
}

// Sync makes the store match the repository: new or changed files are
// re-embedded and upserted, rows without a backing file are deleted.
func (s *Service) Sync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.seedHashes(ctx); err != nil {
		return err
	}

	files, err := s.scanRepository()
	if err != nil {
		return fmt.Errorf("failed to scan repository: %w", err)
	}

	seen := make(map[string]struct{}, len(files))
	var indexed, skipped int
	for _, f := range files {
		id := vector.CodeID(f.Kind, f.name)
		seen[id] = struct{}{}

		hash := hashSource(f.source)
		if s.hashes[id] == hash {
			skipped++
			continue
		}

		if err := s.indexFile(ctx, id, f.Kind, f.name, f.source); err != nil {
			return err
		}
		s.hashes[id] = hash
		indexed++
	}

	stored, err := s.store.AllIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list stored ids: %w", err)
	}
	var removed int
	for id := range stored {
		if _, ok := seen[id]; ok {
			continue
		}
		if err := s.store.Delete(ctx, id); err != nil {
			return fmt.Errorf("failed to delete stale row %q: %w", id, err)
		}
		delete(s.hashes, id)
		removed++
	}

	slog.Info("code index synced",
		"indexed", indexed, "unchanged", skipped, "removed", removed)
	return nil
}

// OnDeployed upserts just the given files, bypassing a full repository scan.
func (s *Service) OnDeployed(ctx context.Context, files []DeployedFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.seedHashes(ctx); err != nil {
		return err
	}

	for _, f := range files {
		name := nameFromFilename(f.Filename, f.Kind)
		id := vector.CodeID(f.Kind, name)
		if err := s.indexFile(ctx, id, f.Kind, name, f.Source); err != nil {
			return err
		}
		s.hashes[id] = hashSource(f.Source)
	}
	return nil
}

func (s *Service) indexFile(ctx context.Context, id string, kind vector.Kind, name, source string) error {
	vec, err := s.embedder.EmbedDocument(ctx, source)
	if err != nil {
		return fmt.Errorf("failed to embed %q: %w", id, err)
	}
	return s.store.Save(ctx, vector.IndexedCode{
		ID:         id,
		Kind:       kind,
		Name:       name,
		SourceCode: source,
		Vector:     vec,
	})
}

// seedHashes rebuilds the hash cache from the store after a restart, so the
// first sync does not re-embed everything.
func (s *Service) seedHashes(ctx context.Context) error {
	if s.hashes != nil {
		return nil
	}
	rows, err := s.store.FindAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to seed hash cache: %w", err)
	}
	s.hashes = make(map[string]string, len(rows))
	for _, row := range rows {
		s.hashes[row.ID] = hashSource(row.SourceCode)
	}
	return nil
}

type repoFile struct {
	Kind   vector.Kind
	name   string
	source string
}

func (s *Service) scanRepository() ([]repoFile, error) {
	var files []repoFile

	automations, err := filepath.Glob(filepath.Join(s.repoPath, "*.star"))
	if err != nil {
		return nil, err
	}
	for _, path := range automations {
		if strings.HasSuffix(path, ".lib.star") {
			continue
		}
		source, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %q: %w", path, err)
		}
		files = append(files, repoFile{
			Kind:   vector.KindAutomation,
			name:   strings.TrimSuffix(filepath.Base(path), ".star"),
			source: string(source),
		})
	}

	libraries, err := filepath.Glob(filepath.Join(s.repoPath, "lib", "*.lib.star"))
	if err != nil {
		return nil, err
	}
	for _, path := range libraries {
		source, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %q: %w", path, err)
		}
		files = append(files, repoFile{
			Kind:   vector.KindLibrary,
			name:   strings.TrimSuffix(filepath.Base(path), ".lib.star"),
			source: string(source),
		})
	}

	return files, nil
}

func nameFromFilename(filename string, kind vector.Kind) string {
	base := filepath.Base(filename)
	if kind == vector.KindLibrary {
		return strings.TrimSuffix(base, ".lib.star")
	}
	return strings.TrimSuffix(base, ".star")
}

func hashSource(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}
