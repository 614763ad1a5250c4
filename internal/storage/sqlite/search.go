package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/signetai/signetd/internal/storage"
	"github.com/signetai/signetd/internal/types"
)

// SearchFTS runs a BM25 MATCH query and returns raw bm25() values for the
// caller to normalize. Tombstones are filtered here because the FTS delete
// trigger only fires on hard delete.
func (s *Store) SearchFTS(ctx context.Context, match string, limit int, f storage.RecallFilter) ([]storage.FTSHit, error) {
	match = strings.TrimSpace(match)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = types.DefaultRecallCandidates
	}

	query := `
		SELECT m.id, m.content, bm25(memories_fts) AS score
		FROM memories_fts
		JOIN memories m ON m.rowid = memories_fts.rowid
		WHERE memories_fts MATCH ? AND m.is_deleted = 0`
	args := []any{match}
	if f.Type != "" {
		query += " AND m.type = ?"
		args = append(args, string(f.Type))
	}
	if f.Project != "" {
		query += " AND m.project = ?"
		args = append(args, f.Project)
	}
	query += " ORDER BY score, m.id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		// FTS5 rejects unbalanced quotes and bare operators with a syntax
		// error. Treat that as an empty result, not a server fault.
		if strings.Contains(err.Error(), "fts5: syntax error") ||
			strings.Contains(err.Error(), "unknown special query") {
			return nil, nil
		}
		return nil, fmt.Errorf("fts search failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []storage.FTSHit
	for rows.Next() {
		var h storage.FTSHit
		if err := rows.Scan(&h.ID, &h.Content, &h.Raw); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// BuildMatchQuery turns free text into an OR query over sanitized tokens so
// user input never reaches the FTS5 query parser raw. Each token is quoted.
func BuildMatchQuery(tokens []string) string {
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(tokens))
	for _, t := range tokens {
		t = strings.ReplaceAll(t, `"`, "")
		if t == "" {
			continue
		}
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " OR ")
}
