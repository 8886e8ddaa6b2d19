package qa

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/barekit/docinsights/pkg/knowledge"
)

const instructions = `You answer questions about an uploaded document using only the extracted parts provided.
If the parts do not contain the answer, say that you don't know. Do not make up an answer.
Finish with a line of the form "SOURCES: <id>, <id>" listing the Source ids of the parts you used.
Always include the SOURCES line.`

const answerPrefix = "FINAL ANSWER:"

var (
	sourcesMarker  = regexp.MustCompile(`(?i)SOURCES?:`)
	questionMarker = regexp.MustCompile(`(?i)QUESTION:\s`)
)

// renderPrompt builds the user turn: the question, the extracted parts and the
// answer prefix the model continues from.
func renderPrompt(question string, chunks []knowledge.Chunk) string {
	var sb strings.Builder
	sb.WriteString("QUESTION: ")
	sb.WriteString(question)
	sb.WriteString("\n=========\n")
	for i, c := range chunks {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("Content: ")
		sb.WriteString(c.Text)
		sb.WriteString("\nSource: ")
		sb.WriteString(c.ID)
	}
	sb.WriteString("\n=========\n")
	sb.WriteString(answerPrefix)
	return sb.String()
}

// estimateTokens approximates a token count as one token per four characters.
func estimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + 3) / 4
}

// fitContext drops trailing chunks until the estimated token total is within
// limit. A non-positive limit disables the check.
func fitContext(chunks []knowledge.Chunk, limit int) []knowledge.Chunk {
	if limit <= 0 {
		return chunks
	}
	total := 0
	for _, c := range chunks {
		total += estimateTokens(c.Text)
	}
	n := len(chunks)
	for n > 0 && total > limit {
		n--
		total -= estimateTokens(chunks[n].Text)
	}
	return chunks[:n]
}

// parseCompletion splits a completion into the answer and the raw sources
// field. Sources is the first line after the first SOURCES: or SOURCE: marker;
// a completion without a marker has no sources.
func parseCompletion(completion string) (answer, sources string) {
	text := stripAnswerPrefix(completion)
	loc := sourcesMarker.FindStringIndex(text)
	if loc == nil {
		return strings.TrimSpace(text), ""
	}
	answer = strings.TrimSpace(text[:loc[0]])
	rest := text[loc[1]:]
	if q := questionMarker.FindStringIndex(rest); q != nil {
		rest = rest[:q[0]]
	}
	rest = strings.TrimLeft(rest, " \t")
	if i := strings.IndexByte(rest, '\n'); i >= 0 {
		rest = rest[:i]
	}
	return answer, strings.TrimSpace(rest)
}

func stripAnswerPrefix(s string) string {
	trimmed := strings.TrimLeft(s, " \t\r\n")
	if len(trimmed) >= len(answerPrefix) && strings.EqualFold(trimmed[:len(answerPrefix)], answerPrefix) {
		return strings.TrimLeft(trimmed[len(answerPrefix):], " \t\r\n")
	}
	return s
}

// answerFilter forwards streamed answer text and withholds everything from
// the sources marker on. Text that might still turn into the marker or the
// leading answer prefix is held back until the next delta decides it.
type answerFilter struct {
	full    strings.Builder
	emitted int // bytes of full already forwarded or skipped
	started bool
	done    bool
}

var markerPrefixes = []string{"SOURCES:", "SOURCE:"}

func (f *answerFilter) Push(delta string) string {
	f.full.WriteString(delta)
	if f.done {
		return ""
	}
	text := f.full.String()

	if !f.started {
		trimmed := strings.TrimLeft(text, " \t\r\n")
		lead := len(text) - len(trimmed)
		switch {
		case len(trimmed) < len(answerPrefix) && strings.EqualFold(trimmed, answerPrefix[:len(trimmed)]):
			return ""
		case len(trimmed) >= len(answerPrefix) && strings.EqualFold(trimmed[:len(answerPrefix)], answerPrefix):
			rest := trimmed[len(answerPrefix):]
			after := strings.TrimLeft(rest, " \t\r\n")
			if after == "" {
				return ""
			}
			f.emitted = len(text) - len(after)
		default:
			f.emitted = lead
		}
		f.started = true
	}

	if loc := sourcesMarker.FindStringIndex(text[f.emitted:]); loc != nil {
		out := text[f.emitted : f.emitted+loc[0]]
		f.emitted = len(text)
		f.done = true
		return out
	}

	end := len(text) - heldBack(text[f.emitted:])
	out := text[f.emitted:end]
	f.emitted = end
	return out
}

// Flush returns text held back at the end of the stream.
func (f *answerFilter) Flush() string {
	if f.done {
		return ""
	}
	f.done = true
	text := f.full.String()
	if !f.started {
		return ""
	}
	return text[f.emitted:]
}

// Text returns everything pushed so far.
func (f *answerFilter) Text() string {
	return f.full.String()
}

// heldBack returns the length of the longest suffix of s that is a
// case-insensitive prefix of a sources marker.
func heldBack(s string) int {
	best := 0
	for _, m := range markerPrefixes {
		for n := len(m) - 1; n > best; n-- {
			if n <= len(s) && strings.EqualFold(s[len(s)-n:], m[:n]) {
				best = n
				break
			}
		}
	}
	return best
}
