package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/Orine99/ees-education-dashboard/internal/ees"
)

func newTestClient(t *testing.T, base string, retries int) *Client {
	t.Helper()
	c, err := New(base, HTTPClientConfig{
		Client: &http.Client{Timeout: 5 * time.Second},
		Backoff: BackoffConfig{
			MaxRetries:      retries,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
		},
	}, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New("  ", HTTPClientConfig{Client: http.DefaultClient}, zerolog.Nop())
	assert.Error(t, err)

	_, err = New("https://api.example.test", HTTPClientConfig{}, zerolog.Nop())
	assert.ErrorIs(t, err, errNoHTTPClient)

	_, err = New("https://api.example.test", HTTPClientConfig{
		Client:  http.DefaultClient,
		Backoff: BackoffConfig{MaxRetries: 2},
	}, zerolog.Nop())
	assert.ErrorIs(t, err, errInvalidConfig)
}

func TestBaseURLTrimsSlash(t *testing.T) {
	c := newTestClient(t, "https://api.example.test/v1/", 0)
	assert.Equal(t, "https://api.example.test/v1", c.BaseURL())
}

func TestMeta(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/data-sets/ds-1/meta", r.URL.Path)
		assert.Equal(t, []string{"Indicators", "TimePeriods"}, r.URL.Query()["types"])
		assert.Equal(t, "2.0", r.URL.Query().Get("dataSetVersion"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"indicators":[]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/v1/", 0)
	body, err := c.Meta(context.Background(), ees.MetaRequest{
		DataSetID: "ds-1",
		Types:     []string{"Indicators", "TimePeriods"},
		Version:   "2.0",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"indicators":[]}`, string(body))
}

func TestQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/data-sets/ds-1/query", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		b, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		doc := gjson.ParseBytes(b)
		assert.Equal(t, "ind-1", doc.Get("indicators.0").String())
		assert.Equal(t, int64(2), doc.Get("page").Int())
		assert.True(t, doc.Get("debug").Bool())

		_, _ = io.WriteString(w, `{"results":[]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0)
	body, err := c.Query(context.Background(), "ds-1", "", ees.QueryRequest{
		Indicators: []string{"ind-1"},
		Page:       2,
		PageSize:   50,
		Debug:      true,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"results":[]}`, string(body))
}

func TestQueryRejectsBlankDataSet(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1", 0)
	_, err := c.Query(context.Background(), " ", "", ees.QueryRequest{})
	assert.ErrorIs(t, err, ees.ErrMissingParameter)
}

func TestNonSuccessStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"title":"not found"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 2)

	_, err := c.Query(context.Background(), "ds-1", "", ees.QueryRequest{Indicators: []string{"x"}})
	var ue *ees.UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, http.StatusNotFound, ue.Status)
	assert.Contains(t, ue.Body, "not found")
	assert.Equal(t, int32(1), hits.Load(), "4xx is not retried")

	resp, err := c.ForwardQuery(context.Background(), "ds-1", "", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Status)
	assert.Equal(t, "application/problem+json", resp.ContentType)
	assert.JSONEq(t, `{"title":"not found"}`, string(resp.Body))
}

func TestServerErrorWithoutRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "boom")
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0)
	_, err := c.Meta(context.Background(), ees.MetaRequest{DataSetID: "ds-1"})

	var ue *ees.UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, http.StatusInternalServerError, ue.StatusCode())
	assert.Equal(t, "meta failed: 500 boom", ue.Error())
	assert.Equal(t, int32(1), hits.Load())
}

func TestRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"results":[]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 2)
	body, err := c.Query(context.Background(), "ds-1", "", ees.QueryRequest{Indicators: []string{"x"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"results":[]}`, string(body))
	assert.Equal(t, int32(2), hits.Load())
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := srv.URL
	srv.Close()

	c := newTestClient(t, base, 0)
	_, err := c.Meta(context.Background(), ees.MetaRequest{DataSetID: "ds-1"})
	require.Error(t, err)

	var ue *ees.UpstreamError
	assert.False(t, errors.As(err, &ue))
}

func TestCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestClient(t, srv.URL, 3)
	_, err := c.Meta(ctx, ees.MetaRequest{DataSetID: "ds-1"})
	assert.ErrorIs(t, err, context.Canceled)
}
