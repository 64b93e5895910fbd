// Package ingest loads a local corpus into retrieval documents.
package ingest

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	medragerr "github.com/sweetpotato0/medrag/errors"
	"github.com/sweetpotato0/medrag/pkg/logging"
	"github.com/sweetpotato0/medrag/rag/document"
	"github.com/sweetpotato0/medrag/rag/preprocess"
	"github.com/sweetpotato0/medrag/rag/retriever"
)

// SupportedExtensions lists the file types LoadDir picks up.
var SupportedExtensions = []string{".txt", ".md", ".html", ".htm"}

// LoadFile reads and cleans one file. HTML is reduced to its text content.
// The document ID is the path relative to root so re-indexing a corpus
// overwrites earlier chunks.
func LoadFile(root, path string) (document.Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return document.Document{}, medragerr.Wrapf(err, medragerr.CodeIngestReadFailure, "read %s", path)
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	name := filepath.Base(path)
	doc := document.Document{
		ID:    filepath.ToSlash(rel),
		Title: strings.TrimSuffix(name, filepath.Ext(name)),
		Metadata: map[string]any{
			"source":    name,
			"file_name": name,
			"path":      filepath.ToSlash(rel),
		},
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		text, err := preprocess.HTMLToText(string(raw))
		if err != nil {
			return document.Document{}, medragerr.Wrapf(err, medragerr.CodeIngestReadFailure, "parse html %s", path)
		}
		if title := preprocess.Title(string(raw)); title != "" {
			doc.Title = title
		}
		doc.Content = preprocess.Preprocess(text)
	default:
		doc.Content = preprocess.Preprocess(string(raw))
	}
	return doc, nil
}

// LoadDir walks dir and loads every supported, non-empty file in path order.
func LoadDir(ctx context.Context, dir string) ([]document.Document, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if supported(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, medragerr.Wrapf(err, medragerr.CodeIngestReadFailure, "walk %s", dir)
	}
	sort.Strings(paths)

	logger := logging.WithComponent("ingest")
	docs := make([]document.Document, 0, len(paths))
	for _, path := range paths {
		doc, err := LoadFile(dir, path)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(doc.Content) == "" {
			logger.Warn("skipping empty document", "path", path)
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// IndexDir loads dir and writes it through idx, returning the number of
// documents and chunks indexed.
func IndexDir(ctx context.Context, idx retriever.Indexer, dir string) (int, int, error) {
	docs, err := LoadDir(ctx, dir)
	if err != nil {
		return 0, 0, err
	}
	chunks, err := idx.IndexDocuments(ctx, docs...)
	if err != nil {
		return len(docs), chunks, err
	}
	logging.WithComponent("ingest").Info("corpus indexed", "dir", dir, "documents", len(docs), "chunks", chunks)
	return len(docs), chunks, nil
}

func supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range SupportedExtensions {
		if ext == s {
			return true
		}
	}
	return false
}
