package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog"
)

const (
	idxManuals  = "menualic_manuals"
	idxSections = "menualic_sections"
	idxBlocks   = "menualic_blocks"
)

// Meili implements Searcher via Meilisearch. Hits are post-filtered to
// literal substring matches so results agree with PgSearch.
type Meili struct {
	client  meili.ServiceManager
	log     zerolog.Logger
	healthy atomic.Bool
	done    chan struct{}

	mu        sync.Mutex
	onRecover []func()
}

// NewMeili creates a Meilisearch client and configures indexes. When the
// initial health check fails the client starts unhealthy and the
// background loop keeps checking.
func NewMeili(url, apiKey string, logger zerolog.Logger) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		log:    logger.With().Str("component", "meilisearch").Logger(),
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		m.log.Warn().Err(err).Str("url", url).Msg("meilisearch unavailable")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		searchable []string
	}{
		{uid: idxManuals, searchable: []string{"title", "description"}},
		{uid: idxSections, searchable: []string{"title"}},
		{uid: idxBlocks, searchable: []string{"text"}},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: "id",
		}); err != nil {
			m.log.Debug().Err(err).Str("index", idx.uid).Msg("create index (may already exist)")
		}

		index := m.client.Index(idx.uid)
		filterable := []interface{}{"manualId"}
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			m.log.Warn().Err(err).Str("index", idx.uid).Msg("update filterable attributes")
		}
		searchable := idx.searchable
		if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
			m.log.Warn().Err(err).Str("index", idx.uid).Msg("update searchable attributes")
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.log.Info().Msg("meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
				m.recovered()
			}
		}
	}
}

// OnRecover registers fn to run after Meilisearch becomes healthy again.
func (m *Meili) OnRecover(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRecover = append(m.onRecover, fn)
}

func (m *Meili) recovered() {
	m.mu.Lock()
	fns := append([]func(){}, m.onRecover...)
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the three indexes restricted to q.ManualIDs.
func (m *Meili) Search(_ context.Context, q Query) (Response, error) {
	resp := emptyResponse(q.Text)
	if !m.healthy.Load() {
		return resp, fmt.Errorf("meilisearch unhealthy")
	}
	term := strings.TrimSpace(q.Text)
	if term == "" || len(q.ManualIDs) == 0 {
		return resp, nil
	}
	limit := int64(limitOrDefault(q.Limit))
	filter := manualFilter(q.ManualIDs)

	queries := make([]*meili.SearchRequest, 0, 3)
	for _, uid := range []string{idxManuals, idxSections, idxBlocks} {
		queries = append(queries, &meili.SearchRequest{
			IndexUID: uid,
			Query:    term,
			Limit:    limit,
			Filter:   filter,
		})
	}

	result, err := m.client.MultiSearch(&meili.MultiSearchRequest{Queries: queries})
	if err != nil {
		m.healthy.Store(false)
		return resp, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	for _, sr := range result.Results {
		for _, hit := range sr.Hits {
			switch sr.IndexUID {
			case idxManuals:
				h := ManualHit{
					ID:          decodeString(hit, "id"),
					Title:       decodeString(hit, "title"),
					Description: decodeString(hit, "description"),
				}
				if Contains(h.Title, term) || Contains(h.Description, term) {
					resp.Manuals = append(resp.Manuals, h)
				}
			case idxSections:
				h := SectionHit{
					ID:          decodeString(hit, "id"),
					ManualID:    decodeString(hit, "manualId"),
					ManualTitle: decodeString(hit, "manualTitle"),
					Title:       decodeString(hit, "title"),
				}
				if Contains(h.Title, term) {
					resp.Sections = append(resp.Sections, h)
				}
			case idxBlocks:
				text := decodeString(hit, "text")
				if !Contains(text, term) {
					continue
				}
				resp.Blocks = append(resp.Blocks, BlockHit{
					ID:           decodeString(hit, "id"),
					ManualID:     decodeString(hit, "manualId"),
					ManualTitle:  decodeString(hit, "manualTitle"),
					SectionID:    decodeString(hit, "sectionId"),
					SectionTitle: decodeString(hit, "sectionTitle"),
					Type:         decodeString(hit, "type"),
					Preview:      Preview(text, term),
				})
			}
		}
	}
	return resp, nil
}

func manualFilter(ids []string) string {
	quoted := make([]string, 0, len(ids))
	for _, id := range ids {
		quoted = append(quoted, strconv.Quote(id))
	}
	return "manualId IN [" + strings.Join(quoted, ", ") + "]"
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

// IndexManual adds or updates a manual in the search index.
func (m *Meili) IndexManual(r ManualRecord) error {
	_, err := m.client.Index(idxManuals).AddDocuments([]ManualRecord{r}, nil)
	return err
}

// IndexSection adds or updates a section in the search index.
func (m *Meili) IndexSection(r SectionRecord) error {
	_, err := m.client.Index(idxSections).AddDocuments([]SectionRecord{r}, nil)
	return err
}

// IndexBlock adds or updates a block in the search index.
func (m *Meili) IndexBlock(r BlockRecord) error {
	_, err := m.client.Index(idxBlocks).AddDocuments([]BlockRecord{r}, nil)
	return err
}

// DeleteManualEntries removes a manual and everything indexed under it.
func (m *Meili) DeleteManualEntries(manualID string) error {
	filter := manualFilter([]string{manualID})
	for _, uid := range []string{idxManuals, idxSections, idxBlocks} {
		if _, err := m.client.Index(uid).DeleteDocumentsByFilter(filter, nil); err != nil {
			return fmt.Errorf("delete %s entries: %w", uid, err)
		}
	}
	return nil
}

// DeleteSection removes a section from the search index.
func (m *Meili) DeleteSection(id string) error {
	_, err := m.client.Index(idxSections).DeleteDocument(id, nil)
	return err
}

// DeleteBlock removes a block from the search index.
func (m *Meili) DeleteBlock(id string) error {
	_, err := m.client.Index(idxBlocks).DeleteDocument(id, nil)
	return err
}

// IndexAll bulk-indexes records.
func (m *Meili) IndexAll(manuals []ManualRecord, sections []SectionRecord, blockRecords []BlockRecord) error {
	if len(manuals) > 0 {
		if _, err := m.client.Index(idxManuals).AddDocuments(manuals, nil); err != nil {
			return fmt.Errorf("index manuals: %w", err)
		}
	}
	if len(sections) > 0 {
		if _, err := m.client.Index(idxSections).AddDocuments(sections, nil); err != nil {
			return fmt.Errorf("index sections: %w", err)
		}
	}
	if len(blockRecords) > 0 {
		if _, err := m.client.Index(idxBlocks).AddDocuments(blockRecords, nil); err != nil {
			return fmt.Errorf("index blocks: %w", err)
		}
	}
	return nil
}
