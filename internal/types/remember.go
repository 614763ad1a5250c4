package types

import "strings"

// RememberInput is the parsed form of a raw remember string after shorthand
// prefixes have been applied.
type RememberInput struct {
	Content    string
	Type       MemoryType
	Importance float64
	Pinned     bool
	Tags       []string
}

// DefaultRememberImportance is the importance for explicit saves; extracted
// facts come in lower (0.3-0.5) and critical saves at 1.0.
const DefaultRememberImportance = 0.8

// typeHints maps content keywords to memory types for explicit saves.
var typeHints = []struct {
	keyword string
	memType MemoryType
}{
	{"prefer", MemoryTypePreference},
	{"decided", MemoryTypeDecision},
	{"decision", MemoryTypeDecision},
	{"learned", MemoryTypeLearning},
	{"always", MemoryTypeRule},
	{"never", MemoryTypeRule},
	{"bug", MemoryTypeIssue},
	{"issue", MemoryTypeIssue},
}

// ParseRememberContent interprets remember shorthand:
//
//	critical: <content>        pinned, importance 1.0
//	[tag1, tag2]: <content>    leading tag list
//
// and infers a type from content keywords, defaulting to general.
func ParseRememberContent(raw string) RememberInput {
	in := RememberInput{
		Importance: DefaultRememberImportance,
		Type:       MemoryTypeGeneral,
	}

	content := strings.TrimSpace(raw)

	if rest, ok := cutPrefixFold(content, "critical:"); ok {
		in.Pinned = true
		in.Importance = 1.0
		content = strings.TrimSpace(rest)
	}

	if tags, rest, ok := cutTagPrefix(content); ok {
		in.Tags = tags
		content = strings.TrimSpace(rest)
	}

	lower := strings.ToLower(content)
	for _, hint := range typeHints {
		if strings.Contains(lower, hint.keyword) {
			in.Type = hint.memType
			break
		}
	}

	in.Content = content
	return in
}

// cutPrefixFold is strings.CutPrefix with ASCII case folding on the prefix.
func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) {
		return s, false
	}
	if strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return s, false
}

// cutTagPrefix parses a leading "[a, b]:" tag list.
func cutTagPrefix(s string) ([]string, string, bool) {
	if !strings.HasPrefix(s, "[") {
		return nil, s, false
	}
	end := strings.Index(s, "]:")
	if end < 0 {
		return nil, s, false
	}
	var tags []string
	for _, t := range strings.Split(s[1:end], ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			tags = append(tags, t)
		}
	}
	if len(tags) == 0 {
		return nil, s, false
	}
	return tags, s[end+2:], true
}
