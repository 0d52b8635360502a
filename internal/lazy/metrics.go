package lazy

import "sync/atomic"

type metrics struct {
	schemaFetches       atomic.Uint64
	cacheHits           atomic.Uint64
	cacheMisses         atomic.Uint64
	fetchErrors         atomic.Uint64
	templateInvocations atomic.Uint64
	metaInvocations     atomic.Uint64
	validationFailures  atomic.Uint64
}

// LoaderMetrics is a snapshot of the loader counters.
type LoaderMetrics struct {
	SchemaFetches       uint64 `json:"schema_fetches"`
	CacheHits           uint64 `json:"cache_hits"`
	CacheMisses         uint64 `json:"cache_misses"`
	FetchErrors         uint64 `json:"fetch_errors"`
	TemplateInvocations uint64 `json:"template_invocations"`
	MetaInvocations     uint64 `json:"meta_invocations"`
	ValidationFailures  uint64 `json:"validation_failures"`
}

func (m *metrics) snapshot() LoaderMetrics {
	return LoaderMetrics{
		SchemaFetches:       m.schemaFetches.Load(),
		CacheHits:           m.cacheHits.Load(),
		CacheMisses:         m.cacheMisses.Load(),
		FetchErrors:         m.fetchErrors.Load(),
		TemplateInvocations: m.templateInvocations.Load(),
		MetaInvocations:     m.metaInvocations.Load(),
		ValidationFailures:  m.validationFailures.Load(),
	}
}
