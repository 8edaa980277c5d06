package search

import (
	"context"
	"log"

	"visita/api/internal/profile"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// RecordFor builds the indexable record from a profile's public values.
// The overlay never reaches the index; only merged content is public.
func RecordFor(p *profile.Profile) ChurchRecord {
	return ChurchRecord{
		ID:             p.ID,
		Name:           p.Name,
		Town:           p.Town,
		Province:       p.Province,
		Diocese:        p.Diocese,
		Patron:         p.Patron,
		Description:    p.Description,
		Classification: string(p.Classification),
	}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexChurch indexes a published church (fire-and-forget to Meilisearch).
func (s *Service) IndexChurch(rec ChurchRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexChurch(rec); err != nil {
			log.Printf("search: index church %s: %v", rec.ID, err)
		}
	}()
}

// DeleteChurch removes an unpublished church from the index (fire-and-forget).
func (s *Service) DeleteChurch(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteChurch(id); err != nil {
			log.Printf("search: delete church %s: %v", id, err)
		}
	}()
}

// ReindexFromPG pushes every approved church from Postgres into Meilisearch.
// Called at boot when Meilisearch is healthy.
func (s *Service) ReindexFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	records, err := s.pgfts.LoadPublishedRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if len(records) == 0 {
		return
	}
	if err := s.meili.IndexChurches(records); err != nil {
		log.Printf("search: reindex churches: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
