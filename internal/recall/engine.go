package recall

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/signetai/signetd/internal/storage"
	"github.com/signetai/signetd/internal/storage/sqlite"
	"github.com/signetai/signetd/internal/types"
)

// Embedder is the slice of the LLM layer recall needs. A nil vector with a
// nil error means the provider is unavailable; the vector arm is skipped.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Query is one recall request.
type Query struct {
	Query    string
	Limit    int
	Type     types.MemoryType
	Project  string
	MinScore float64
	Alpha    float64
}

// Result is one scored hit.
type Result struct {
	ID         string           `json:"id"`
	Content    string           `json:"content"`
	Type       types.MemoryType `json:"type"`
	Importance float64          `json:"importance"`
	Pinned     bool             `json:"pinned"`
	CreatedAt  time.Time        `json:"created_at"`
	Score      float64          `json:"score"`
	Source     string           `json:"source"` // vector, bm25, or hybrid
}

// Engine fuses the two search arms over one store.
type Engine struct {
	store    storage.Storage
	embedder Embedder
}

func NewEngine(store storage.Storage, embedder Embedder) *Engine {
	return &Engine{store: store, embedder: embedder}
}

// normalizeBM25 folds raw bm25() output (lower is better, negative for
// matches) onto (0,1] with better matches scoring higher.
func normalizeBM25(raw float64) float64 {
	return 1.0 / (1.0 + math.Abs(raw))
}

// cosine returns the cosine similarity of two vectors, 0 on any mismatch.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

type candidate struct {
	bm25   float64
	vec    float64
	hasBM  bool
	hasVec bool
}

// Search runs one hybrid recall. Both arms are best-effort: an unavailable
// embedder degrades to BM25-only, an empty token set degrades to
// vector-only. Returned rows get their access accounting bumped.
func (e *Engine) Search(ctx context.Context, q Query) ([]Result, error) {
	if q.Limit <= 0 {
		q.Limit = 20
	}
	if q.Alpha < 0 {
		q.Alpha = 0
	}
	if q.Alpha > 1 {
		q.Alpha = 1
	}

	cands := make(map[string]*candidate)

	tokens := Tokenize(q.Query)
	if len(tokens) > 0 {
		hits, err := e.store.SearchFTS(ctx, sqlite.BuildMatchQuery(tokens),
			2*q.Limit, storage.RecallFilter{Type: q.Type, Project: q.Project})
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			cands[h.ID] = &candidate{bm25: normalizeBM25(h.Raw), hasBM: true}
		}
	}

	if e.embedder != nil {
		if vec, err := e.embedder.Embed(ctx, q.Query); err == nil && len(vec) > 0 {
			embs, err := e.store.ListEmbeddings(ctx, "memory")
			if err != nil {
				return nil, err
			}
			for _, emb := range embs {
				sim := cosine(vec, emb.Vector)
				if sim <= 0 {
					continue
				}
				c, ok := cands[emb.SourceID]
				if !ok {
					c = &candidate{}
					cands[emb.SourceID] = c
				}
				c.vec = sim
				c.hasVec = true
			}
		}
	}

	if len(cands) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(cands))
	for id := range cands {
		ids = append(ids, id)
	}
	memories, err := e.store.GetMemoriesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	var results []Result
	for _, m := range memories {
		// The vector arm scans every embedding; the filters apply here.
		if q.Type != "" && m.Type != q.Type {
			continue
		}
		if q.Project != "" && m.Project != q.Project {
			continue
		}
		c := cands[m.ID]
		// A missing arm contributes zero, so at the alpha extremes
		// single-source candidates blend to nothing and drop out.
		score := q.Alpha*c.vec + (1-q.Alpha)*c.bm25
		var source string
		switch {
		case c.hasBM && c.hasVec:
			source = "hybrid"
		case c.hasVec:
			source = "vector"
		default:
			source = "bm25"
		}
		if score <= 0 || score < q.MinScore {
			continue
		}
		results = append(results, Result{
			ID:         m.ID,
			Content:    m.Content,
			Type:       m.Type,
			Importance: m.Importance,
			Pinned:     m.Pinned,
			CreatedAt:  m.CreatedAt,
			Score:      score,
			Source:     source,
		})
	}

	sortResults(results)
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}

	accessed := make([]string, len(results))
	for i, r := range results {
		accessed[i] = r.ID
	}
	if err := e.store.MarkAccessed(ctx, accessed); err != nil {
		return nil, err
	}
	return results, nil
}

// sortResults orders by fused score descending with stable tie-breaks:
// higher importance, newer creation, then id.
func sortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Importance != b.Importance {
			return a.Importance > b.Importance
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// RankByEffective reorders results by decayed effective score for hook
// context injection. Decision-context callers keep the fused ordering.
func RankByEffective(results []Result, now time.Time) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		ea := EffectiveScore(a, now)
		eb := EffectiveScore(b, now)
		if ea != eb {
			return ea > eb
		}
		return a.ID < b.ID
	})
}

// EffectiveScore is the decayed relevance of a result: pinned rows never
// decay, everything else loses 5% per day of age.
func EffectiveScore(r Result, now time.Time) float64 {
	if r.Pinned {
		return 1.0
	}
	ageDays := now.Sub(r.CreatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return r.Importance * math.Pow(0.95, ageDays)
}
