package artifacts

import (
	"fmt"
	"sort"
	"strings"

	"lfgkeeper/internal/models"
)

// Renderer turns a request into message content. schema may be nil.
type Renderer interface {
	Render(kind models.ArtifactKind, req *models.Request, schema *models.DomainSchema) string
}

// PlainRenderer writes a short text block, fields in schema order.
type PlainRenderer struct{}

func (PlainRenderer) Render(kind models.ArtifactKind, req *models.Request, schema *models.DomainSchema) string {
	var b strings.Builder

	if kind == models.ArtifactReview {
		fmt.Fprintf(&b, "[review] %s request %s\n", req.Category, req.ID)
	} else {
		fmt.Fprintf(&b, "%s\n", req.Category)
	}
	fmt.Fprintf(&b, "domain: %s\nposted by: %s\n", req.Domain, req.ActorID)

	for _, line := range fieldLines(req.Payload, schema) {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func fieldLines(payload map[string]string, schema *models.DomainSchema) []string {
	var lines []string
	seen := make(map[string]bool, len(payload))

	if schema != nil {
		for _, f := range schema.Fields {
			v, ok := payload[f.ID]
			if !ok || v == "" {
				continue
			}
			seen[f.ID] = true
			lines = append(lines, fmt.Sprintf("%s: %s", labelOf(f), v))
		}
	}

	rest := make([]string, 0, len(payload))
	for k := range payload {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		lines = append(lines, fmt.Sprintf("%s: %s", k, payload[k]))
	}
	return lines
}

func labelOf(f models.FieldDescriptor) string {
	if f.Label != "" {
		return f.Label
	}
	return f.ID
}
