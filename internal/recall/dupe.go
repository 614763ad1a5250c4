package recall

import (
	"context"

	"github.com/signetai/signetd/internal/storage"
	"github.com/signetai/signetd/internal/storage/sqlite"
)

const (
	dupeInspectLimit = 10
	dupeThreshold    = 0.7
)

// IsDuplicate reports whether content substantially overlaps an existing
// active memory: some FTS hit shares at least 70% of the input's token set.
// Used by the summarize worker so re-summarized sessions do not pile up
// near-identical facts.
func IsDuplicate(ctx context.Context, store storage.Storage, content string) (bool, error) {
	tokens := Tokenize(content)
	if len(tokens) == 0 {
		return false, nil
	}

	hits, err := store.SearchFTS(ctx, sqlite.BuildMatchQuery(tokens),
		dupeInspectLimit, storage.RecallFilter{})
	if err != nil {
		return false, err
	}

	want := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		want[t] = true
	}
	for _, h := range hits {
		hitTokens := tokenSet(h.Content)
		shared := 0
		for t := range want {
			if hitTokens[t] {
				shared++
			}
		}
		if float64(shared) >= dupeThreshold*float64(len(tokens)) {
			return true, nil
		}
	}
	return false, nil
}
