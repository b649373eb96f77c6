// Package library manages the on-disk spec library: one named document
// per topic under the corpus repository, plus the archive for retired
// topics and the running-notes documents.
package library

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/c360studio/speccorpus/corpus"
)

// Directory constants for the .speccorpus structure.
const (
	RootDir           = ".speccorpus"
	SpecsDir          = "specs"
	ArchiveDir        = "archive"
	PlanningNotesFile = "planning-notes.md"
	OperatorNotesFile = "operator-notes.md"
)

// Manager provides file operations for the spec library.
type Manager struct {
	repoRoot string
}

// NewManager creates a library manager for the given repository root.
func NewManager(repoRoot string) *Manager {
	return &Manager{repoRoot: repoRoot}
}

// RootPath returns the full path to the .speccorpus directory.
func (m *Manager) RootPath() string {
	return filepath.Join(m.repoRoot, RootDir)
}

// SpecsPath returns the path to the specs directory.
func (m *Manager) SpecsPath() string {
	return filepath.Join(m.RootPath(), SpecsDir)
}

// ArchivePath returns the path to the archive directory.
func (m *Manager) ArchivePath() string {
	return filepath.Join(m.RootPath(), ArchiveDir)
}

// PlanningNotesPath returns the path to the planning-notes document.
func (m *Manager) PlanningNotesPath() string {
	return filepath.Join(m.RootPath(), PlanningNotesFile)
}

// OperatorNotesPath returns the path to the operator-notes document.
func (m *Manager) OperatorNotesPath() string {
	return filepath.Join(m.RootPath(), OperatorNotesFile)
}

// DocumentPath returns the absolute path of a document's file.
func (m *Manager) DocumentPath(doc *corpus.Document) string {
	return filepath.Join(m.SpecsPath(), doc.FileName+".md")
}

// DocumentRelPath returns the document path relative to the repository
// root, the form the version-control boundary stages.
func (m *Manager) DocumentRelPath(doc *corpus.Document) string {
	return filepath.Join(RootDir, SpecsDir, doc.FileName+".md")
}

// EnsureDirectories creates the .speccorpus directory structure if it
// doesn't exist.
func (m *Manager) EnsureDirectories() error {
	dirs := []string{
		m.RootPath(),
		m.SpecsPath(),
		m.ArchivePath(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// WriteDocument renders the document to markdown and writes it to its
// library path.
func (m *Manager) WriteDocument(doc *corpus.Document, topic *corpus.Topic) error {
	if err := m.EnsureDirectories(); err != nil {
		return err
	}
	content := RenderMarkdown(doc, topic)
	path := m.DocumentPath(doc)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("write document %s: %w", path, err)
	}
	return nil
}

// ArchiveDocument moves a retired topic's document into the archive.
func (m *Manager) ArchiveDocument(doc *corpus.Document) error {
	if err := m.EnsureDirectories(); err != nil {
		return err
	}
	src := m.DocumentPath(doc)
	dst := filepath.Join(m.ArchivePath(), doc.FileName+".md")
	if err := os.Rename(src, dst); err != nil {
		if os.IsNotExist(err) {
			return nil // Never written; nothing to archive.
		}
		return fmt.Errorf("archive document %s: %w", src, err)
	}
	return nil
}

// ListDocumentFiles returns the file names (without extension) present in
// the specs directory.
func (m *Manager) ListDocumentFiles() ([]string, error) {
	entries, err := os.ReadDir(m.SpecsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read specs directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) == ".md" {
			names = append(names, name[:len(name)-3])
		}
	}
	return names, nil
}
