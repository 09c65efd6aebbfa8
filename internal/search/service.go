package search

import (
	"context"

	"github.com/rs/zerolog"
)

// Index is a full-text engine that accelerates search and receives index
// updates. *Meili is the production implementation.
type Index interface {
	Searcher
	IndexManual(r ManualRecord) error
	IndexSection(r SectionRecord) error
	IndexBlock(r BlockRecord) error
	DeleteBlock(id string) error
	DeleteManualEntries(manualID string) error
	IndexAll(manuals []ManualRecord, sections []SectionRecord, blockRecords []BlockRecord) error
	OnRecover(fn func())
}

// Service is the facade over Meilisearch and SQL. SQL stays the authority:
// Meilisearch hits come first and SQL fills in whatever the index missed,
// such as mid-word substrings the tokenizer cannot match.
type Service struct {
	meili Index
	pg    Searcher
	log   zerolog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pg Searcher, logger zerolog.Logger) *Service {
	var idx Index
	if meili != nil {
		idx = meili
	}
	return NewServiceWithIndex(idx, pg, logger)
}

// NewServiceWithIndex creates a search service over any Index. idx may be nil.
func NewServiceWithIndex(idx Index, pg Searcher, logger zerolog.Logger) *Service {
	return &Service{meili: idx, pg: pg, log: logger.With().Str("component", "search").Logger()}
}

// Search asks Meilisearch when it is healthy and merges in SQL hits whenever
// any category came back short of the limit.
func (s *Service) Search(ctx context.Context, q Query) Response {
	var fast *Response
	if s.meili != nil && s.meili.Healthy() {
		resp, err := s.meili.Search(ctx, q)
		if err != nil {
			s.log.Warn().Err(err).Msg("meilisearch error, falling back to sql")
		} else {
			limit := limitOrDefault(q.Limit)
			if len(resp.Manuals) >= limit && len(resp.Sections) >= limit && len(resp.Blocks) >= limit {
				return resp
			}
			fast = &resp
		}
	}

	resp, err := s.pg.Search(ctx, q)
	if err != nil {
		s.log.Warn().Err(err).Msg("sql search failed")
		if fast != nil {
			return *fast
		}
		return emptyResponse(q.Text)
	}
	if fast == nil {
		return resp
	}
	return mergeResponses(*fast, resp, limitOrDefault(q.Limit))
}

func mergeResponses(primary, secondary Response, limit int) Response {
	return Response{
		Query:    primary.Query,
		Manuals:  mergeHits(primary.Manuals, secondary.Manuals, func(h ManualHit) string { return h.ID }, limit),
		Sections: mergeHits(primary.Sections, secondary.Sections, func(h SectionHit) string { return h.ID }, limit),
		Blocks:   mergeHits(primary.Blocks, secondary.Blocks, func(h BlockHit) string { return h.ID }, limit),
	}
}

// mergeHits keeps primary order, appends unseen secondary hits and caps the
// result at limit.
func mergeHits[T any](primary, secondary []T, id func(T) string, limit int) []T {
	out := make([]T, 0, limit)
	seen := make(map[string]struct{}, len(primary)+len(secondary))
	for _, list := range [][]T{primary, secondary} {
		for _, h := range list {
			if len(out) >= limit {
				return out
			}
			if _, dup := seen[id(h)]; dup {
				continue
			}
			seen[id(h)] = struct{}{}
			out = append(out, h)
		}
	}
	return out
}

// Indexing reports whether mutations are pushed to Meilisearch.
func (s *Service) Indexing() bool {
	return s.meili != nil && s.meili.Healthy()
}

// IndexManual indexes a manual (fire-and-forget to Meilisearch).
func (s *Service) IndexManual(r ManualRecord) {
	if !s.Indexing() {
		return
	}
	go func() {
		if err := s.meili.IndexManual(r); err != nil {
			s.log.Warn().Err(err).Str("manual_id", r.ID).Msg("index manual")
		}
	}()
}

// IndexSection indexes a section (fire-and-forget to Meilisearch).
func (s *Service) IndexSection(r SectionRecord) {
	if !s.Indexing() {
		return
	}
	go func() {
		if err := s.meili.IndexSection(r); err != nil {
			s.log.Warn().Err(err).Str("section_id", r.ID).Msg("index section")
		}
	}()
}

// IndexBlock indexes a block (fire-and-forget to Meilisearch).
func (s *Service) IndexBlock(r BlockRecord) {
	if !s.Indexing() {
		return
	}
	go func() {
		if err := s.meili.IndexBlock(r); err != nil {
			s.log.Warn().Err(err).Str("block_id", r.ID).Msg("index block")
		}
	}()
}

// DeleteBlock removes a block from the index (fire-and-forget).
func (s *Service) DeleteBlock(id string) {
	if !s.Indexing() {
		return
	}
	go func() {
		if err := s.meili.DeleteBlock(id); err != nil {
			s.log.Warn().Err(err).Str("block_id", id).Msg("delete block from index")
		}
	}()
}

// DeleteManual removes a manual and its sections and blocks from the index.
func (s *Service) DeleteManual(manualID string) {
	if !s.Indexing() {
		return
	}
	go func() {
		if err := s.meili.DeleteManualEntries(manualID); err != nil {
			s.log.Warn().Err(err).Str("manual_id", manualID).Msg("delete manual from index")
		}
	}()
}

// ReplaceManual drops everything indexed for a manual and indexes the given
// records instead. Used after cascading deletes and restores.
func (s *Service) ReplaceManual(manual ManualRecord, sections []SectionRecord, blockRecords []BlockRecord) {
	if !s.Indexing() {
		return
	}
	go func() {
		if err := s.meili.DeleteManualEntries(manual.ID); err != nil {
			s.log.Warn().Err(err).Str("manual_id", manual.ID).Msg("clear manual from index")
			return
		}
		if err := s.meili.IndexAll([]ManualRecord{manual}, sections, blockRecords); err != nil {
			s.log.Warn().Err(err).Str("manual_id", manual.ID).Msg("reindex manual")
		}
	}()
}

// Loader reads every searchable record for a full reindex.
type Loader interface {
	LoadAllRecords(ctx context.Context) ([]ManualRecord, []SectionRecord, []BlockRecord, error)
}

// ReindexOnRecovery rebuilds the index every time Meilisearch comes back
// after an outage, since mutations made while it was down were skipped.
func (s *Service) ReindexOnRecovery(loader Loader) {
	if s.meili == nil || loader == nil {
		return
	}
	s.meili.OnRecover(func() {
		s.ReindexAll(context.Background(), loader)
	})
}

// ReindexAll reads all records and pushes them to Meilisearch. Called on
// start and after recovery when Meilisearch is healthy.
func (s *Service) ReindexAll(ctx context.Context, loader Loader) {
	if !s.Indexing() || loader == nil {
		return
	}
	manuals, sections, blockRecords, err := loader.LoadAllRecords(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("reindex load failed")
		return
	}
	if err := s.meili.IndexAll(manuals, sections, blockRecords); err != nil {
		s.log.Warn().Err(err).Msg("reindex failed")
		return
	}
	s.log.Info().Int("manuals", len(manuals)).Int("sections", len(sections)).Int("blocks", len(blockRecords)).Msg("search index rebuilt")
}
