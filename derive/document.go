package derive

import (
	"fmt"
	"strings"

	"github.com/poiesic/venuedb/core"
	"github.com/poiesic/venuedb/index"
)

// Field weights used for lexical documents. A match on the name counts four
// times a match in free-form description text.
const (
	WeightName         = 4
	WeightTags         = 3
	WeightNeighborhood = 2
	WeightDescription  = 1
)

// PlaceLexicalFields returns the weighted sections of a place's lexical
// document, ordered by descending importance.
func PlaceLexicalFields(place *core.Place) []index.Field {
	fields := []index.Field{
		{Text: place.Name, Weight: WeightName},
	}
	if tags := joinList(append(append([]string{}, place.Categories...), place.Tags...)); tags != "" {
		fields = append(fields, index.Field{Text: tags, Weight: WeightTags})
	}
	if place.Neighborhood != "" {
		fields = append(fields, index.Field{Text: place.Neighborhood, Weight: WeightNeighborhood})
	}
	if desc := place.Description(); desc != "" {
		fields = append(fields, index.Field{Text: desc, Weight: WeightDescription})
	}
	return fields
}

// ComposePlaceDocument builds the deterministic embedding text for a place:
// one "label: value" line per populated field, ordered by descending
// importance, lists flattened with commas, blank fields skipped.
func ComposePlaceDocument(place *core.Place) string {
	var lines []string
	appendLine := func(label, value string) {
		value = normalizeWhitespace(value)
		if value != "" {
			lines = append(lines, fmt.Sprintf("%s: %s", label, value))
		}
	}

	appendLine("Name", place.Name)
	appendLine("Categories", joinList(place.Categories))
	appendLine("Tags", joinList(place.Tags))
	appendLine("Neighborhood", place.Neighborhood)
	appendLine("Description", place.Description())
	appendLine("Free wifi", triStateLabel(place.Amenities.FreeWifi))
	appendLine("Purchase required", triStateLabel(place.Amenities.PurchaseRequired))
	appendLine("Operational", triStateLabel(place.Amenities.Operational))
	appendLine("Has cinnamon rolls", quadStateLabel(place.Amenities.HasCinnamonRolls))

	return strings.Join(lines, "\n")
}

// ComposeChunkDocument builds a chunk's lexical document: the normalized
// review text alone.
func ComposeChunkDocument(chunk *core.Chunk) string {
	return normalizeWhitespace(chunk.Text)
}

// ComposeChunkEmbeddingText grounds a chunk's embedding text in its parent:
// the place name and neighborhood prefix the review text so the vector
// carries the context a bare fragment lacks.
func ComposeChunkEmbeddingText(place *core.Place, chunk *core.Chunk) string {
	text := normalizeWhitespace(chunk.Text)
	where := normalizeWhitespace(place.Name)
	if hood := normalizeWhitespace(place.Neighborhood); hood != "" {
		where = fmt.Sprintf("%s (%s)", where, hood)
	}
	return fmt.Sprintf("Review of %s: %s", where, text)
}

// ComposeAggregateDocument builds a place's aggregate document: the place
// document followed by every child chunk's text. The full rescan keeps the
// composition deterministic regardless of which write triggered it.
func ComposeAggregateDocument(place *core.Place, chunks []*core.Chunk) string {
	doc := ComposePlaceDocument(place)
	if len(chunks) == 0 {
		return doc
	}
	var sb strings.Builder
	sb.WriteString(doc)
	sb.WriteString("\nReviews:")
	for _, chunk := range chunks {
		if text := normalizeWhitespace(chunk.Text); text != "" {
			sb.WriteString("\n- ")
			sb.WriteString(text)
		}
	}
	return sb.String()
}

// triStateLabel returns the human label for a known value, "" for unsure so
// the line is skipped.
func triStateLabel(v core.TriState) string {
	if v == core.TriUnsure {
		return ""
	}
	return v.String()
}

func quadStateLabel(v core.QuadState) string {
	if v == core.QuadUnsure {
		return ""
	}
	return v.String()
}

func joinList(values []string) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		if v = normalizeWhitespace(v); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, ", ")
}

// normalizeWhitespace collapses whitespace runs to single spaces and trims.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
