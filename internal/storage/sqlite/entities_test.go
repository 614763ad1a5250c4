package sqlite

import (
	"context"
	"math"
	"testing"

	"github.com/signetai/signetd/internal/storage"
	"github.com/signetai/signetd/internal/types"
)

func TestCanonicalEntityName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"PostgreSQL", "postgresql"},
		{"  The   API  Gateway ", "the api gateway"},
		{"redis", "redis"},
	}
	for _, tt := range tests {
		if got := CanonicalEntityName(tt.in); got != tt.want {
			t.Errorf("CanonicalEntityName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestApplyExtractionBuildsGraph(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := ingestOne(t, s, "the api uses redis for caching")

	err := s.ApplyExtraction(ctx, id, []storage.ExtractedEntity{
		{Source: "API", Relationship: "uses", Target: "Redis", EntityType: "technology", Confidence: 0.9},
	}, "completed")
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	api, err := s.GetEntity(ctx, "api")
	if err != nil {
		t.Fatalf("get entity failed: %v", err)
	}
	if api.Mentions != 1 || api.Name != "API" {
		t.Errorf("entity = %+v", api)
	}

	m, err := s.GetMemory(ctx, id)
	if err != nil {
		t.Fatalf("get memory failed: %v", err)
	}
	if m.ExtractionStatus != "completed" {
		t.Errorf("extraction status = %q", m.ExtractionStatus)
	}
}

func TestApplyExtractionReinforcesRelations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := ingestOne(t, s, "service talks to postgres")
	second := ingestOne(t, s, "again, service talks to postgres")

	triple := storage.ExtractedEntity{
		Source: "service", Relationship: "talks_to", Target: "postgres",
		EntityType: "service", Confidence: 0.8,
	}
	if err := s.ApplyExtraction(ctx, first, []storage.ExtractedEntity{triple}, "completed"); err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	triple.Confidence = 0.4
	if err := s.ApplyExtraction(ctx, second, []storage.ExtractedEntity{triple}, "completed"); err != nil {
		t.Fatalf("second apply failed: %v", err)
	}

	svc, err := s.GetEntity(ctx, "service")
	if err != nil {
		t.Fatalf("get entity failed: %v", err)
	}
	if svc.Mentions != 2 {
		t.Errorf("entity mentions = %d, want 2", svc.Mentions)
	}

	var mentions int
	var conf float64
	err = s.DB().QueryRow(`
		SELECT r.mentions, r.confidence FROM relations r
		JOIN entities se ON se.id = r.source_entity
		WHERE se.canonical_name = 'service' AND r.relation_type = 'talks_to'
	`).Scan(&mentions, &conf)
	if err != nil {
		t.Fatalf("relation lookup failed: %v", err)
	}
	if mentions != 2 {
		t.Errorf("relation mentions = %d, want 2", mentions)
	}
	// Running mean of 0.8 and 0.4.
	if math.Abs(conf-0.6) > 1e-9 {
		t.Errorf("relation confidence = %g, want 0.6", conf)
	}
}

func TestGetEntityNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetEntity(context.Background(), "nonexistent")
	if !types.IsCode(err, types.CodeNotFound) {
		t.Errorf("error = %v, want not_found", err)
	}
}

func TestUpsertEmbeddingRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := ingestOne(t, s, "vectorized memory")

	vec := []float32{0.1, -0.2, 0.3}
	err := s.UpsertEmbedding(ctx, &types.Embedding{
		SourceType: "memory", SourceID: id, Vector: vec, Model: "nomic-embed-text",
	})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	list, err := s.ListEmbeddings(ctx, "memory")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 1 || list[0].Dimensions != 3 {
		t.Fatalf("embeddings = %+v", list)
	}
	for i, f := range list[0].Vector {
		if f != vec[i] {
			t.Errorf("vector[%d] = %g, want %g", i, f, vec[i])
		}
	}

	m, err := s.GetMemory(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if m.EmbeddingModel != "nomic-embed-text" {
		t.Errorf("embedding model = %q", m.EmbeddingModel)
	}

	// Re-embedding replaces, not duplicates.
	err = s.UpsertEmbedding(ctx, &types.Embedding{
		SourceType: "memory", SourceID: id, Vector: []float32{1, 2}, Model: "other",
	})
	if err != nil {
		t.Fatalf("re-upsert failed: %v", err)
	}
	list, _ = s.ListEmbeddings(ctx, "memory")
	if len(list) != 1 || list[0].Dimensions != 2 {
		t.Errorf("after re-upsert: %+v", list)
	}
}
