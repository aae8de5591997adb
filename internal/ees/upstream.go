package ees

import "context"

// MetaRequest identifies a metadata lookup.
type MetaRequest struct {
	DataSetID string
	Types     []string
	Version   string
}

// RawResponse is an upstream reply passed through without interpretation.
type RawResponse struct {
	Status      int
	ContentType string
	Body        []byte
}

// Upstream abstracts the statistics API. Implementations return an
// *UpstreamError for non-success statuses.
type Upstream interface {
	Meta(ctx context.Context, req MetaRequest) ([]byte, error)
	Query(ctx context.Context, dataSetID, version string, body QueryRequest) ([]byte, error)
}

// Cache is the contract the page cache must satisfy. Get returns the fresh
// value for key or runs fetch, sharing one fetch among concurrent callers
// of the same key. Group ties related keys together for retention.
type Cache[V any] interface {
	Get(ctx context.Context, key, group string, fetch func(context.Context) (V, error)) (V, error)
}

// staleReader is implemented by caches that keep expired values readable.
type staleReader[V any] interface {
	Peek(key string) (value V, fresh bool, err error)
}
