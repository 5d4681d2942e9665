package chain

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHTTPSource_Height(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/blocks/tip/height", r.URL.Path)
		w.Write([]byte("750123\n"))
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, time.Second)
	h, err := src.Height(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(750123), h)
}

func TestHTTPSource_TrailingSlashBase(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/blocks/tip/height", r.URL.Path)
		w.Write([]byte("42"))
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL+"/", time.Second)
	h, err := src.Height(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(42), h)
}

func TestHTTPSource_UpstreamError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, time.Second)
	_, err := src.Height(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "503")
}

func TestHTTPSource_Garbage(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not a height</html>"))
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, time.Second)
	_, err := src.Height(context.Background())
	require.Error(t, err)
}

func TestStatic(t *testing.T) {
	t.Parallel()
	h, err := Static(150).Height(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(150), h)
}
