package condition

import (
	"errors"
	"testing"

	"github.com/yangwenmai/oracle-avs/internal/model"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		condition string
		post      string
	}{
		{
			name:      "condition and post",
			input:     "Condition: Does the tweet state that the CEO of XYZ resigned?\nX post: \"XYZ's CEO announced expansion.\"",
			condition: "Does the tweet state that the CEO of XYZ resigned?",
			post:      "\"XYZ's CEO announced expansion.\"",
		},
		{
			name:      "condition only",
			input:     "Condition: Tesla ships a new car",
			condition: "Tesla ships a new car",
		},
		{
			name:      "multi-line post",
			input:     "Condition: c\nX post: first\n\nsecond",
			condition: "c",
			post:      "first\n\nsecond",
		},
		{
			name:      "leading whitespace and preamble",
			input:     "market #7\n   Condition:   spaced   \nX post: p",
			condition: "spaced",
			post:      "p",
		},
		{
			name:      "first condition line wins",
			input:     "Condition: one\nCondition: two",
			condition: "one",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if got.Condition != tt.condition {
				t.Errorf("Condition = %q, want %q", got.Condition, tt.condition)
			}
			if got.Post != tt.post {
				t.Errorf("Post = %q, want %q", got.Post, tt.post)
			}
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	for _, input := range []string{
		"",
		"X post: only a post",
		"Condition:    ",
		"condition: lowercase label",
	} {
		_, err := Parse(input)
		if !errors.Is(err, model.ErrMalformedInput) {
			t.Errorf("Parse(%q) error = %v, want ErrMalformedInput", input, err)
		}
	}
}

func TestRender_RoundTrip(t *testing.T) {
	in := Render("CEO of XYZ resigned", []string{"post one", "post two"})
	want := "Condition: CEO of XYZ resigned\nX post: post one\n\npost two"
	if in != want {
		t.Fatalf("Render = %q, want %q", in, want)
	}

	got, err := Parse(in)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.Condition != "CEO of XYZ resigned" {
		t.Errorf("Condition = %q", got.Condition)
	}
	if got.Post != "post one\n\npost two" {
		t.Errorf("Post = %q", got.Post)
	}
}

func TestRender_NoTexts(t *testing.T) {
	if got := Render("c", nil); got != "Condition: c" {
		t.Errorf("Render = %q", got)
	}
}
