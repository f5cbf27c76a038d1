package search

import (
	"context"
	"log"
)

// Service is the facade that tries the primary backend first and falls
// back when it is unhealthy or erroring.
type Service struct {
	primary  Searcher
	fallback Searcher
	indexer  Indexer
	pgfts    *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	s := &Service{pgfts: pgfts}
	if meili != nil {
		s.primary = meili
		s.indexer = meili
	}
	if pgfts != nil {
		s.fallback = pgfts
	}
	return s
}

// Search walks the backends in order and returns the first answer.
func (s *Service) Search(q Query) Response {
	for _, backend := range []Searcher{s.primary, s.fallback} {
		if backend == nil || !backend.Healthy() {
			continue
		}
		results, total, err := backend.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: backend error, trying next: %v", err)
	}
	return Response{Results: []Result{}, Total: 0, Query: q.Text}
}

// liveIndexer returns the indexer when its backend is reachable, nil
// otherwise. The primary searcher and the indexer are the same process.
func (s *Service) liveIndexer() Indexer {
	if s.indexer == nil {
		return nil
	}
	if s.primary != nil && !s.primary.Healthy() {
		return nil
	}
	return s.indexer
}

// IndexProject indexes a project (fire-and-forget).
func (s *Service) IndexProject(p ProjectRecord) {
	idx := s.liveIndexer()
	if idx == nil {
		return
	}
	go func() {
		if err := idx.IndexProject(p); err != nil {
			log.Printf("search: index project %s: %v", p.ID, err)
		}
	}()
}

// DeleteProject removes a project from the search index (fire-and-forget).
func (s *Service) DeleteProject(id string) {
	idx := s.liveIndexer()
	if idx == nil {
		return
	}
	go func() {
		if err := idx.DeleteProject(id); err != nil {
			log.Printf("search: delete project %s: %v", id, err)
		}
	}()
}

// ReindexAllFromPG reindexes all projects from PostgreSQL into the index.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	idx := s.liveIndexer()
	if idx == nil || s.pgfts == nil {
		return
	}
	projects, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if len(projects) > 0 {
		if err := idx.IndexProjects(projects); err != nil {
			log.Printf("search: reindex projects: %v", err)
		}
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
