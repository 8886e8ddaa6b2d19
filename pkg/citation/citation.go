// Package citation resolves the free-text "sources" reported by a QA model
// back to the chunks that were ingested for the session.
package citation

import (
	"strings"

	"github.com/barekit/docinsights/pkg/knowledge"
)

const (
	sourcesPrefix  = "\nSources: "
	noSourcesFound = "\nNo sources found"
)

// Citation is a chunk the model reported as a source.
type Citation struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Resolution is the outcome of resolving one answer's sources.
type Resolution struct {
	// Citations follow the order of the raw sources field. A token listed twice
	// is cited twice.
	Citations []Citation `json:"citations"`
	// Answer is the original answer with the attribution suffix appended.
	Answer string `json:"answer"`
	// Unmatched holds normalized tokens that named no chunk.
	Unmatched []string `json:"unmatched,omitempty"`
}

// IDs returns the cited chunk ids in order.
func (r Resolution) IDs() []string {
	ids := make([]string, len(r.Citations))
	for i, c := range r.Citations {
		ids[i] = c.ID
	}
	return ids
}

// Normalize trims surrounding whitespace and removes every '.' from a
// citation token. Models tend to end a sources line with a period.
func Normalize(token string) string {
	return strings.ReplaceAll(strings.TrimSpace(token), ".", "")
}

// Resolve maps the comma-separated rawSources onto chunks by exact id match
// and appends a "Sources:" line (or "No sources found") to answer. An empty or
// blank rawSources leaves answer untouched. Unknown tokens are dropped.
func Resolve(answer, rawSources string, chunks []knowledge.Chunk) Resolution {
	res := Resolution{Answer: answer}

	raw := strings.TrimSpace(rawSources)
	if raw == "" {
		return res
	}

	byID := make(map[string]int, len(chunks))
	for i := len(chunks) - 1; i >= 0; i-- {
		byID[chunks[i].ID] = i
	}

	for _, token := range strings.Split(raw, ",") {
		id := Normalize(token)
		i, ok := byID[id]
		if !ok {
			res.Unmatched = append(res.Unmatched, id)
			continue
		}
		res.Citations = append(res.Citations, Citation{ID: id, Text: chunks[i].Text})
	}

	if len(res.Citations) > 0 {
		res.Answer += sourcesPrefix + strings.Join(res.IDs(), ", ")
	} else {
		res.Answer += noSourcesFound
	}
	return res
}
