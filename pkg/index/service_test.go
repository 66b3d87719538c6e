package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestor-home/nestor/pkg/vector"
)

const testDim = 4

// fakeEmbedder produces a deterministic vector per input and counts calls so
// tests can assert which files were re-embedded.
type fakeEmbedder struct {
	ready      bool
	embedCalls []string
}

func (f *fakeEmbedder) EmbedDocument(_ context.Context, text string) ([]float32, error) {
	f.embedCalls = append(f.embedCalls, text)
	return f.vectorFor(text), nil
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return f.vectorFor(text), nil
}

func (f *fakeEmbedder) vectorFor(text string) []float32 {
	v := make([]float32, testDim)
	for i, r := range text {
		v[i%testDim] += float32(r)
	}
	return v
}

func (f *fakeEmbedder) Ready() bool    { return f.ready }
func (f *fakeEmbedder) Dimension() int { return testDim }
func (f *fakeEmbedder) Close() error   { return nil }

func newTestService(t *testing.T) (*Service, *fakeEmbedder, vector.Store, string) {
	t.Helper()
	repo := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(repo, "lib"), 0o755))

	store, err := vector.NewSQLiteStore(":memory:", testDim)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	emb := &fakeEmbedder{ready: true}
	return NewService(repo, emb, store), emb, store, repo
}

func writeFile(t *testing.T, repo, name, source string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(repo, name), []byte(source), 0o644))
}

func TestSyncIndexesRepository(t *testing.T) {
	svc, _, store, repo := newTestService(t)
	ctx := context.Background()

	writeFile(t, repo, "night_lights.star", "automation source")
	writeFile(t, repo, filepath.Join("lib", "lights.lib.star"), "library source")

	require.NoError(t, svc.Sync(ctx))

	automation, err := store.FindByID(ctx, "automation:night_lights")
	require.NoError(t, err)
	require.NotNil(t, automation)
	assert.Equal(t, vector.KindAutomation, automation.Kind)
	assert.Equal(t, "automation source", automation.SourceCode)

	library, err := store.FindByID(ctx, "library:lights")
	require.NoError(t, err)
	require.NotNil(t, library)
	assert.Equal(t, vector.KindLibrary, library.Kind)
}

func TestSyncSkipsUnchangedFiles(t *testing.T) {
	svc, emb, _, repo := newTestService(t)
	ctx := context.Background()

	writeFile(t, repo, "night_lights.star", "automation source")
	require.NoError(t, svc.Sync(ctx))
	require.Len(t, emb.embedCalls, 1)

	// Second sync with nothing changed must not re-embed.
	require.NoError(t, svc.Sync(ctx))
	assert.Len(t, emb.embedCalls, 1)

	// A content change triggers one re-embed.
	writeFile(t, repo, "night_lights.star", "updated source")
	require.NoError(t, svc.Sync(ctx))
	assert.Len(t, emb.embedCalls, 2)
}

func TestSyncRemovesStaleRows(t *testing.T) {
	svc, _, store, repo := newTestService(t)
	ctx := context.Background()

	path := filepath.Join(repo, "night_lights.star")
	writeFile(t, repo, "night_lights.star", "automation source")
	require.NoError(t, svc.Sync(ctx))

	require.NoError(t, os.Remove(path))
	require.NoError(t, svc.Sync(ctx))

	row, err := store.FindByID(ctx, "automation:night_lights")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestSyncIgnoresLibFilesAtRoot(t *testing.T) {
	svc, _, store, repo := newTestService(t)
	ctx := context.Background()

	// A .lib.star file outside lib/ is not an automation.
	writeFile(t, repo, "stray.lib.star", "library source")
	require.NoError(t, svc.Sync(ctx))

	empty, err := store.IsEmpty(ctx)
	require.NoError(t, err)
	assert.True(t, empty)
}

func TestOnDeployedUpserts(t *testing.T) {
	svc, _, store, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.OnDeployed(ctx, []DeployedFile{
		{Filename: "night_lights.star", Kind: vector.KindAutomation, Source: "v1"},
		{Filename: "lights.lib.star", Kind: vector.KindLibrary, Source: "lib v1"},
	}))

	automation, err := store.FindByID(ctx, "automation:night_lights")
	require.NoError(t, err)
	require.NotNil(t, automation)
	assert.Equal(t, "v1", automation.SourceCode)

	library, err := store.FindByID(ctx, "library:lights")
	require.NoError(t, err)
	require.NotNil(t, library)
}

func TestOnDeployedThenSyncSkipsReembed(t *testing.T) {
	svc, emb, _, repo := newTestService(t)
	ctx := context.Background()

	writeFile(t, repo, "night_lights.star", "same source")
	require.NoError(t, svc.OnDeployed(ctx, []DeployedFile{
		{Filename: "night_lights.star", Kind: vector.KindAutomation, Source: "same source"},
	}))
	calls := len(emb.embedCalls)

	require.NoError(t, svc.Sync(ctx))
	assert.Equal(t, calls, len(emb.embedCalls))
}

func TestSearchReturnsSimilarCode(t *testing.T) {
	svc, _, _, repo := newTestService(t)
	ctx := context.Background()

	writeFile(t, repo, "night_lights.star", "turn lights on at sunset")
	require.NoError(t, svc.Sync(ctx))

	results, err := svc.Search(ctx, "turn lights on at sunset", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "night_lights", results[0].Name)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-3)
}

func TestSearchDegradesWhenModelNotReady(t *testing.T) {
	svc, emb, _, repo := newTestService(t)
	ctx := context.Background()

	writeFile(t, repo, "night_lights.star", "source")
	require.NoError(t, svc.Sync(ctx))

	emb.ready = false
	assert.False(t, svc.Ready())

	results, err := svc.Search(ctx, "anything", 5)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestNameFromFilename(t *testing.T) {
	assert.Equal(t, "night_lights", nameFromFilename("night_lights.star", vector.KindAutomation))
	assert.Equal(t, "night_lights", nameFromFilename("repo/night_lights.star", vector.KindAutomation))
	assert.Equal(t, "lights", nameFromFilename("lib/lights.lib.star", vector.KindLibrary))
}
