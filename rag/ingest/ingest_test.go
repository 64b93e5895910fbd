package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweetpotato0/medrag/contrib/retrieval/hybrid"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "guides", "asthma.md"), "Asthma inhalers reduce airway inflammation.")
	writeFile(t, filepath.Join(dir, "diabetes.html"),
		"<html><head><title>Diabetes care</title><script>track()</script></head><body><p>Check HbA1c quarterly.</p></body></html>")
	writeFile(t, filepath.Join(dir, "notes.pdf"), "binary")
	writeFile(t, filepath.Join(dir, "empty.txt"), "   ")
	writeFile(t, filepath.Join(dir, ".hidden", "secret.txt"), "skip me")

	docs, err := LoadDir(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "diabetes.html", docs[0].ID)
	assert.Equal(t, "Diabetes care", docs[0].Title)
	assert.Contains(t, docs[0].Content, "HbA1c")
	assert.NotContains(t, docs[0].Content, "track()")
	assert.Equal(t, "diabetes.html", docs[0].Metadata["source"])

	assert.Equal(t, "guides/asthma.md", docs[1].ID)
	assert.Equal(t, "asthma", docs[1].Title)
	assert.Equal(t, "asthma.md", docs[1].Metadata["source"])
}

func TestIndexDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "asthma.txt"), "Asthma inhalers reduce airway inflammation.")

	engine := hybrid.New(nil, nil)
	docs, chunks, err := IndexDir(context.Background(), engine, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, docs)
	assert.Equal(t, 1, chunks)

	hits, err := engine.Search(context.Background(), "inhalers", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "asthma.txt", hits[0].RawSource)
}

func TestLoadDirMissing(t *testing.T) {
	_, err := LoadDir(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
