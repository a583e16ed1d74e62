package metadataclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, 5*time.Second)
}

func TestCountInstances_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]int{"count": 2})
	})

	n, aerr := c.CountInstances(context.Background(), "tok", "alice")
	require.Nil(t, aerr)
	assert.Equal(t, 2, n)
}

func TestCountInstances_4xxPropagatesVerbatim(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, aerr := c.CountInstances(context.Background(), "tok", "alice")
	require.NotNil(t, aerr)
	assert.Equal(t, http.StatusTooManyRequests, aerr.StatusCode)
	assert.Equal(t, "METADATA_429", aerr.Code)
}

func TestCountInstances_4xxNotFoundPropagatesVerbatim(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, aerr := c.CountInstances(context.Background(), "tok", "alice")
	require.NotNil(t, aerr)
	assert.Equal(t, http.StatusNotFound, aerr.StatusCode)
	assert.Equal(t, "METADATA_404", aerr.Code)
}

func TestRegisterInstance_5xxBecomesInternal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	aerr := c.RegisterInstance(context.Background(), "tok", Record{ContainerID: "c1"})
	require.NotNil(t, aerr)
	assert.Equal(t, http.StatusInternalServerError, aerr.StatusCode)
}

func TestListInstances_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]Record{{ContainerID: "c1", OwnerUsername: "alice"}})
	})

	records, aerr := c.ListInstances(context.Background(), "tok")
	require.Nil(t, aerr)
	require.Len(t, records, 1)
	assert.Equal(t, "c1", records[0].ContainerID)
}

func TestDeleteInstance_NotFoundIsSuccess(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	aerr := c.DeleteInstance(context.Background(), "tok", "c1", "alice")
	assert.Nil(t, aerr)
}

func TestRenameInstance_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		w.WriteHeader(http.StatusOK)
	})

	aerr := c.RenameInstance(context.Background(), "tok", "c1", "alice", "new-name")
	assert.Nil(t, aerr)
}
