package evidence

import (
	"regexp"
	"strings"
)

// MaxKeywords caps the number of search terms per condition.
const MaxKeywords = 5

var stopwords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"the", "and", "or", "a", "an", "is", "are", "was", "were",
		"will", "would", "should", "could", "be", "to", "of", "in",
		"that", "have", "for", "on", "with", "as", "at", "this", "there",
		"from", "by", "does", "do", "did", "has", "had", "tweet", "post",
		"mention", "about", "any", "some",
	} {
		stopwords[w] = struct{}{}
	}
}

var (
	nonWord  = regexp.MustCompile(`[^\w\s]`)
	mention  = regexp.MustCompile(`@\w+`)
	cashtag  = regexp.MustCompile(`\$[A-Za-z]+`)
	hashtag  = regexp.MustCompile(`#\w+`)
	tagOrder = []*regexp.Regexp{mention, cashtag, hashtag}
)

// ExtractKeywords derives up to MaxKeywords search terms from a condition.
// @mentions, $cashtags and #hashtags come first, verbatim; plain words follow
// lowercased, without stopwords or words of two letters or fewer.
func ExtractKeywords(condition string) []string {
	if strings.TrimSpace(condition) == "" {
		return nil
	}

	seen := make(map[string]struct{})
	var out []string
	add := func(term string) {
		if len(out) >= MaxKeywords {
			return
		}
		if _, ok := seen[term]; ok {
			return
		}
		seen[term] = struct{}{}
		out = append(out, term)
	}

	for _, re := range tagOrder {
		for _, tag := range re.FindAllString(condition, -1) {
			add(tag)
		}
	}

	cleaned := nonWord.ReplaceAllString(strings.ToLower(condition), " ")
	for _, word := range strings.Fields(cleaned) {
		if len(word) <= 2 {
			continue
		}
		if _, stop := stopwords[word]; stop {
			continue
		}
		add(word)
	}
	return out
}
