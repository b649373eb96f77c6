package corpus

import (
	"regexp"
	"strings"
)

// DefaultStopwords are dropped when deriving a topic identifier from its
// statement. The list is a configuration point; callers may supply their
// own through NewNormalizer.
var DefaultStopwords = []string{
	"a", "an", "the", "of", "for", "to", "in", "on", "with", "and",
	"is", "are", "it", "its", "that", "this", "when", "how",
}

// maxFileNameWords caps the file name at three significant words.
const maxFileNameWords = 3

var nonAlnum = regexp.MustCompile(`[^a-z0-9-]`)
var multiHyphen = regexp.MustCompile(`-+`)

// Normalizer derives stable identifiers and file names from topic
// statements.
type Normalizer struct {
	stopwords map[string]bool
}

// NewNormalizer creates a normalizer with the given stopword list. A nil
// list uses DefaultStopwords.
func NewNormalizer(stopwords []string) *Normalizer {
	if stopwords == nil {
		stopwords = DefaultStopwords
	}
	set := make(map[string]bool, len(stopwords))
	for _, w := range stopwords {
		set[strings.ToLower(w)] = true
	}
	return &Normalizer{stopwords: set}
}

// Identifier derives the normalized topic identifier from a statement:
// lowercase, punctuation stripped, stopwords dropped, words joined with
// hyphens. Two statements that differ only in case, punctuation, or
// stopwords collide to the same identifier.
func (n *Normalizer) Identifier(statement string) string {
	words := n.significantWords(statement)
	return strings.Join(words, "-")
}

// FileName derives the document file name: the first three significant
// words of the statement, kebab-cased.
func (n *Normalizer) FileName(statement string) string {
	words := n.significantWords(statement)
	if len(words) > maxFileNameWords {
		words = words[:maxFileNameWords]
	}
	return strings.Join(words, "-")
}

func (n *Normalizer) significantWords(statement string) []string {
	slug := strings.ToLower(statement)
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.ReplaceAll(slug, "_", "-")
	slug = nonAlnum.ReplaceAllString(slug, "")
	slug = multiHyphen.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")

	var words []string
	for _, w := range strings.Split(slug, "-") {
		if w == "" || n.stopwords[w] {
			continue
		}
		words = append(words, w)
	}
	return words
}
