package library

import (
	"fmt"
	"strings"

	"github.com/c360studio/speccorpus/corpus"
)

// RenderMarkdown produces the on-disk markdown form of a spec document.
// The layout is stable so unchanged documents render byte-identically
// across revisions.
func RenderMarkdown(doc *corpus.Document, topic *corpus.Topic) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# %s\n\n", topic.Statement))
	sb.WriteString(fmt.Sprintf("Topic: %s\n", doc.TopicID))
	sb.WriteString(fmt.Sprintf("Revision: %s\n", doc.Revision))
	sb.WriteString(fmt.Sprintf("Status: %s\n\n", topic.Status))

	if len(doc.Behaviors) > 0 {
		sb.WriteString("## Behaviors\n\n")
		for _, b := range doc.Behaviors {
			renderBehavior(&sb, b, 0)
		}
		sb.WriteString("\n")
	}

	if len(doc.Boundaries) > 0 {
		sb.WriteString("## Boundaries\n\n")
		for _, bd := range doc.Boundaries {
			sb.WriteString(fmt.Sprintf("### %s\n\n", bd.Name))
			if bd.Sends != "" {
				sb.WriteString(fmt.Sprintf("- Sends: %s\n", bd.Sends))
			}
			if bd.Receives != "" {
				sb.WriteString(fmt.Sprintf("- Receives: %s\n", bd.Receives))
			}
			if bd.Assumption != "" {
				sb.WriteString(fmt.Sprintf("- Assumes: %s\n", bd.Assumption))
			}
			sb.WriteString("\n")
		}
	}

	if len(doc.References) > 0 {
		sb.WriteString("## Shared Behaviors\n\n")
		for _, ref := range doc.References {
			sb.WriteString(fmt.Sprintf("- %s -> %s (inlined %s)\n", ref.Name, ref.CanonicalID, shortHash(ref.InlinedHash)))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func renderBehavior(sb *strings.Builder, b corpus.Behavior, depth int) {
	indent := strings.Repeat("  ", depth)
	var flags []string
	if b.Shared {
		flags = append(flags, "shared")
	}
	if b.Notable {
		flags = append(flags, "notable")
	}
	if b.Unreachable {
		flags = append(flags, "unreachable")
	}
	line := fmt.Sprintf("%s- **%s**: %s", indent, b.Name, b.Effect)
	if len(flags) > 0 {
		line += fmt.Sprintf(" [%s]", strings.Join(flags, ", "))
	}
	sb.WriteString(line + "\n")
	for _, child := range b.Children {
		renderBehavior(sb, child, depth+1)
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
