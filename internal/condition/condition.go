// Package condition parses and renders the prediction input template:
//
//	Condition: <predicate text>
//	X post: <evidence text, possibly spanning lines>
//
// Only the Condition line is mandatory.
package condition

import (
	"fmt"
	"strings"

	"github.com/yangwenmai/oracle-avs/internal/model"
)

const (
	conditionLabel = "Condition:"
	postLabel      = "X post:"
)

// Template is a parsed input string.
type Template struct {
	Condition string
	Post      string
}

// Parse extracts the condition and optional post section from input.
// The first line whose text starts with "Condition:" supplies the
// condition; a later "X post:" line starts the post section, which runs to
// the end of input. It fails with model.ErrMalformedInput when no
// non-empty condition is present.
func Parse(input string) (Template, error) {
	var (
		t        Template
		found    bool
		inPost   bool
		postBody []string
	)
	for _, line := range strings.Split(input, "\n") {
		trimmed := strings.TrimLeft(line, " \t")
		switch {
		case !found && strings.HasPrefix(trimmed, conditionLabel):
			t.Condition = strings.TrimSpace(strings.TrimPrefix(trimmed, conditionLabel))
			found = true
		case found && !inPost && strings.HasPrefix(trimmed, postLabel):
			inPost = true
			postBody = append(postBody, strings.TrimPrefix(trimmed, postLabel))
		case inPost:
			postBody = append(postBody, line)
		}
	}
	if !found {
		return Template{}, fmt.Errorf("%w: missing %q line", model.ErrMalformedInput, conditionLabel)
	}
	if t.Condition == "" {
		return Template{}, fmt.Errorf("%w: empty condition", model.ErrMalformedInput)
	}
	t.Post = strings.TrimSpace(strings.Join(postBody, "\n"))
	return t, nil
}

// Render builds an input string from a condition and evidence texts joined
// by blank lines. With no texts only the Condition line is emitted.
func Render(condition string, texts []string) string {
	var b strings.Builder
	b.WriteString(conditionLabel)
	b.WriteString(" ")
	b.WriteString(condition)
	if len(texts) > 0 {
		b.WriteString("\n")
		b.WriteString(postLabel)
		b.WriteString(" ")
		b.WriteString(strings.Join(texts, "\n\n"))
	}
	return b.String()
}
