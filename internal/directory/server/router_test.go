package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cipherkit/internal/directory/server"
	"cipherkit/internal/domain"
)

func openStore(t *testing.T) *server.Store {
	t.Helper()
	st, err := server.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	return st
}

func publish(t *testing.T, base string, b domain.PreKeyBundle) {
	t.Helper()
	body, err := json.Marshal(b)
	require.NoError(t, err)
	resp, err := http.Post(base+"/v1/bundles", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestBundleFetchIsRateLimited(t *testing.T) {
	ts := httptest.NewServer(server.NewRouter(openStore(t), server.Options{FetchLimit: 2, FetchWindow: time.Minute}))
	defer ts.Close()

	publish(t, ts.URL, domain.PreKeyBundle{Address: domain.Address{User: "bob", Device: 1}})

	for i := 0; i < 2; i++ {
		resp, err := http.Get(ts.URL + "/v1/bundles/bob/1")
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, err := http.Get(ts.URL + "/v1/bundles/bob/1")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := httptest.NewServer(server.NewRouter(openStore(t), server.DefaultOptions()))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	publish(t, ts.URL, domain.PreKeyBundle{Address: domain.Address{User: "bob", Device: 1}})
	resp, err = http.Get(ts.URL + "/v1/bundles/bob/1")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `directory_bundles_fetched_total{one_time="false"} 1`)
	require.Contains(t, string(body), "directory_http_requests_total")
}

func TestBadRequests(t *testing.T) {
	ts := httptest.NewServer(server.NewRouter(openStore(t), server.Options{}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/bundles/bob/notanumber")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/v1/mailbox", "application/json", bytes.NewReader([]byte("{")))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/v1/groups/g1/missing?member=alice.1&epoch=x")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/v1/bundles/nobody/1")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRemainingPreKeys(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	bob := domain.Address{User: "bob", Device: 1}
	require.NoError(t, st.PublishBundle(ctx, domain.PreKeyBundle{
		Address: bob,
		OneTimePreKeys: []domain.OneTimePreKeyPublic{
			{ID: 1, Pub: domain.X25519Public{1}},
			{ID: 2, Pub: domain.X25519Public{2}},
		},
	}))
	n, err := st.RemainingPreKeys(ctx, bob)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	b, err := st.FetchBundle(ctx, bob)
	require.NoError(t, err)
	require.Equal(t, domain.X25519Public{1}, b.OneTimePreKeys[0].Pub)
	n, err = st.RemainingPreKeys(ctx, bob)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}
