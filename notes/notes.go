// Package notes maintains the two running-notes documents of the
// corpus: the planning notes, sectioned per topic and consulted before
// and updated after each investigation, and the operator notes, which
// only ever grow or have individual entries edited so unrelated
// content is never lost.
package notes

import (
	"fmt"
	"os"
	"strings"
	"time"
)

const planningHeader = "# Planning Notes\n"

// Planning manages the per-topic planning notes document.
type Planning struct {
	path string
}

// NewPlanning creates a planning-notes manager backed by the given file.
func NewPlanning(path string) *Planning {
	return &Planning{path: path}
}

// Read returns the notes section for a topic, or empty string when the
// topic has no section yet.
func (p *Planning) Read(topicID string) (string, error) {
	_, sections, _, err := p.load()
	if err != nil {
		return "", err
	}
	return sections[topicID], nil
}

// Update replaces the notes section for a topic, leaving every other
// section and any content before the first section untouched. A new
// section is appended for unknown topics.
func (p *Planning) Update(topicID, content string) error {
	preamble, sections, order, err := p.load()
	if err != nil {
		return err
	}

	if _, ok := sections[topicID]; !ok {
		order = append(order, topicID)
	}
	sections[topicID] = strings.TrimSpace(content)

	var sb strings.Builder
	sb.WriteString(preamble)
	for _, id := range order {
		sb.WriteString(fmt.Sprintf("\n## %s\n\n%s\n", id, sections[id]))
	}

	if err := os.WriteFile(p.path, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("write planning notes: %w", err)
	}
	return nil
}

// load parses the notes file into the preamble (everything before the
// first section, kept verbatim across rewrites) and per-topic sections,
// preserving section order. A missing file gets the default header.
func (p *Planning) load() (string, map[string]string, []string, error) {
	sections := make(map[string]string)
	var order []string

	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return planningHeader, sections, order, nil
		}
		return "", nil, nil, fmt.Errorf("read planning notes: %w", err)
	}

	var pre []string
	var current string
	var body []string
	flush := func() {
		if current != "" {
			sections[current] = strings.TrimSpace(strings.Join(body, "\n"))
		}
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "## ") {
			flush()
			current = strings.TrimSpace(strings.TrimPrefix(line, "## "))
			order = append(order, current)
			body = body[:0]
			continue
		}
		if current == "" {
			pre = append(pre, line)
			continue
		}
		body = append(body, line)
	}
	flush()

	preamble := strings.TrimRight(strings.Join(pre, "\n"), "\n") + "\n"
	if preamble == "\n" {
		preamble = planningHeader
	}
	return preamble, sections, order, nil
}

// Operator manages the operator notes document. Entries are appended
// with a timestamp; existing entries can be rewritten in place but the
// document is never truncated.
type Operator struct {
	path string
}

// NewOperator creates an operator-notes manager backed by the given file.
func NewOperator(path string) *Operator {
	return &Operator{path: path}
}

// Append adds a timestamped entry to the end of the document.
func (o *Operator) Append(entry string) error {
	f, err := os.OpenFile(o.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open operator notes: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("- %s %s\n", time.Now().UTC().Format(time.RFC3339), strings.TrimSpace(entry))
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("append operator notes: %w", err)
	}
	return nil
}

// Rewrite replaces the first entry containing old with updated,
// preserving all other lines. It returns an error when no entry
// matches, so a typo'd edit can't silently drop content.
func (o *Operator) Rewrite(old, updated string) error {
	data, err := os.ReadFile(o.path)
	if err != nil {
		return fmt.Errorf("read operator notes: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	found := false
	for i, line := range lines {
		if !found && strings.Contains(line, old) {
			// Keep the original timestamp prefix when present.
			if idx := strings.Index(line, old); idx >= 0 {
				lines[i] = line[:idx] + updated + line[idx+len(old):]
			}
			found = true
		}
	}
	if !found {
		return fmt.Errorf("no operator note matching %q", old)
	}

	if err := os.WriteFile(o.path, []byte(strings.Join(lines, "\n")), 0644); err != nil {
		return fmt.Errorf("write operator notes: %w", err)
	}
	return nil
}

// Entries returns the entry lines of the document.
func (o *Operator) Entries() ([]string, error) {
	data, err := os.ReadFile(o.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read operator notes: %w", err)
	}
	var entries []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "- ") {
			entries = append(entries, line)
		}
	}
	return entries, nil
}
