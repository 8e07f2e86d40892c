package cdn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPathBuilders(t *testing.T) {
	c := NewClient(nil, "tpr/wow")
	require.Equal(t, "tpr/wow/config/ab/cd/abcdef00", c.ConfigPath("abcdef00"))
	require.Equal(t, "tpr/wow/data/ab/cd/abcdef00", c.DataPath("abcdef00"))
	require.Equal(t, "tpr/wow/data/ab/cd/abcdef00.index", c.IndexPath("abcdef00"))
}

func TestFetchFallsBackToNextMirror(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload"))
	}))
	defer good.Close()

	c := NewClient([]string{"127.0.0.1:1", good.Listener.Addr().String()}, "tpr/wow")
	c.HTTPClient = good.Client()

	data, err := c.Fetch(context.Background(), "config/ab/cd/whatever")
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))
}

func TestFetchRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "bytes=0-3", r.Header.Get("Range"))
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("data"))
	}))
	defer srv.Close()

	c := NewClient([]string{srv.Listener.Addr().String()}, "tpr/wow")
	c.HTTPClient = srv.Client()

	data, err := c.FetchRange(context.Background(), "data/ab/cd/key", 0, 3)
	require.NoError(t, err)
	require.Equal(t, "data", string(data))
}
