package diff

import (
	"encoding/json"
	"strings"
)

// LegacyFields is the flat five-field projection consumed by clients that
// have not migrated to the node tree. Best effort, never authoritative.
type LegacyFields struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
	Purpose  string `json:"purpose"`
	Tiers    string `json:"tiers"`
	Enforce  string `json:"enforce"`
}

// DeriveLegacyFields projects a node tree onto the legacy fields. The first
// level-1 heading becomes the title, the first paragraph after it the
// subtitle, and each later heading/paragraph pair is matched to a field by
// keyword containment in the heading text. Missing sections keep the
// fallback value.
func DeriveLegacyFields(doc json.RawMessage, fallback LegacyFields) LegacyFields {
	if len(doc) == 0 {
		return fallback
	}
	var parsed struct {
		Type    string `json:"type"`
		Content []struct {
			Type    string          `json:"type"`
			Content json.RawMessage `json:"content"`
			Text    string          `json:"text"`
			Attrs   struct {
				Level int `json:"level"`
			} `json:"attrs"`
		} `json:"content"`
	}
	if err := json.Unmarshal(doc, &parsed); err != nil || parsed.Type != "doc" {
		return fallback
	}

	result := fallback
	seenTitle := false
	for i := 0; i < len(parsed.Content); i++ {
		node := parsed.Content[i]
		text := strings.TrimSpace(firstNonEmpty(node.Text, flattenChildren(node.Content)))
		if node.Type == "heading" && node.Attrs.Level == 1 && text != "" {
			result.Title = text
			seenTitle = true
			continue
		}
		if node.Type == "paragraph" && seenTitle && text != "" && result.Subtitle == fallback.Subtitle {
			result.Subtitle = text
			continue
		}
		if node.Type != "heading" || i+1 >= len(parsed.Content) {
			continue
		}
		next := parsed.Content[i+1]
		if next.Type != "paragraph" {
			continue
		}
		nextText := strings.TrimSpace(firstNonEmpty(next.Text, flattenChildren(next.Content)))
		if nextText == "" {
			continue
		}
		heading := strings.ToLower(text)
		switch {
		case strings.Contains(heading, "purpose"):
			result.Purpose = nextText
			i++
		case strings.Contains(heading, "tier"):
			result.Tiers = nextText
			i++
		case strings.Contains(heading, "enforce"):
			result.Enforce = nextText
			i++
		}
	}
	return result
}

// ChangedLegacyFields names the fields that differ between two projections,
// in the fixed legacy field order.
func ChangedLegacyFields(before, after LegacyFields) []string {
	var changed []string
	if before.Title != after.Title {
		changed = append(changed, "title")
	}
	if before.Subtitle != after.Subtitle {
		changed = append(changed, "subtitle")
	}
	if before.Purpose != after.Purpose {
		changed = append(changed, "purpose")
	}
	if before.Tiers != after.Tiers {
		changed = append(changed, "tiers")
	}
	if before.Enforce != after.Enforce {
		changed = append(changed, "enforce")
	}
	return changed
}

func flattenChildren(content json.RawMessage) string {
	if len(content) == 0 {
		return ""
	}
	var nodes []map[string]any
	if err := json.Unmarshal(content, &nodes); err != nil {
		return ""
	}
	parts := make([]string, 0, len(nodes))
	for _, node := range nodes {
		if text := strings.TrimSpace(ExtractText(node)); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
