package corpus

import (
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// SourceRef is a handle to the source corpus an investigation runs
// against. The orchestrator never interprets the corpus; it only selects
// which files the collaborator should see.
type SourceRef struct {
	// Root is the corpus root directory.
	Root string `json:"root"`
	// Revision identifies the corpus state (e.g. a commit hash).
	Revision string `json:"revision"`
	// Include are doublestar glob patterns relative to Root. Empty means
	// everything.
	Include []string `json:"include,omitempty"`
	// Exclude are doublestar glob patterns filtered out after Include.
	Exclude []string `json:"exclude,omitempty"`
}

// ResolveFiles returns the corpus files selected by the include/exclude
// patterns, sorted, relative to Root.
func (s *SourceRef) ResolveFiles() ([]string, error) {
	root := os.DirFS(s.Root)

	include := s.Include
	if len(include) == 0 {
		include = []string{"**/*"}
	}

	selected := make(map[string]bool)
	for _, pattern := range include {
		matches, err := doublestar.Glob(root, pattern)
		if err != nil {
			return nil, fmt.Errorf("include pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			info, err := fs.Stat(root, m)
			if err != nil || info.IsDir() {
				continue
			}
			selected[m] = true
		}
	}

	for _, pattern := range s.Exclude {
		for m := range selected {
			ok, err := doublestar.Match(pattern, m)
			if err != nil {
				return nil, fmt.Errorf("exclude pattern %q: %w", pattern, err)
			}
			if ok {
				delete(selected, m)
			}
		}
	}

	out := make([]string, 0, len(selected))
	for m := range selected {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}
