package pipeline

import (
	"strings"

	"github.com/flarexio/mooli/vector"
)

const promptInstruction = "Use the following pieces of context to answer the question at the end. " +
	"If you don't know the answer, just say that you don't know, don't try to make up an answer."

const contextSeparator = "\n\n"

// BuildPrompt stuffs the retrieved chunks, best first, into the prompt. The
// context holds at most maxChars characters; the last chunk that fits only
// partially is cut.
func BuildPrompt(query string, results []vector.Result, maxChars int) string {
	var (
		sb    strings.Builder
		used  int
		first = true
	)

	for _, r := range results {
		text := []rune(r.Chunk.Text)
		if len(text) == 0 {
			continue
		}

		sep := 0
		if !first {
			sep = len(contextSeparator)
		}

		remaining := maxChars - used - sep
		if remaining <= 0 {
			break
		}

		if len(text) > remaining {
			text = text[:remaining]
		}

		if !first {
			sb.WriteString(contextSeparator)
		}

		sb.WriteString(string(text))
		used += sep + len(text)
		first = false
	}

	return promptInstruction + "\n\n" + sb.String() + "\n\nQuestion: " + query + "\nHelpful Answer:"
}
