package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crawlforge/crawld/internal/crawl"
)

func TestFetchExtractsAndResolvesLinks(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><body>
			<a href="/relative">rel</a>
			<a href="https://other.example.com/abs">abs</a>
			<a href="#section">fragment only</a>
			<a href="mailto:someone@example.com">mail</a>
			<a href="/relative">duplicate</a>
		</body></html>`)
	}))
	defer srv.Close()

	client := New(Config{Timeout: 5 * time.Second}, nil)
	result, err := client.Fetch(context.Background(), crawl.FetchRequest{
		URL: srv.URL + "/page",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, result.StatusCode)
	require.Equal(t, []string{
		srv.URL + "/relative",
		"https://other.example.com/abs",
	}, result.Links)
	require.NotEmpty(t, result.Body)
	require.Greater(t, result.Duration, time.Duration(0))
}

func TestFetchReturnsStatusWithoutError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	client := New(Config{}, nil)
	result, err := client.Fetch(context.Background(), crawl.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, result.StatusCode)
	require.Empty(t, result.Links)
}

func TestFetchSkipsLinkExtractionForNonHTML(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"a":"<a href=\"/x\">not html</a>"}`)
	}))
	defer srv.Close()

	client := New(Config{}, nil)
	result, err := client.Fetch(context.Background(), crawl.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	require.Empty(t, result.Links)
}

func TestFetchRoutesThroughProxy(t *testing.T) {
	t.Parallel()

	// An HTTP proxy sees the absolute target URI on the request line.
	var sawTarget string
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawTarget = r.RequestURI
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html></html>")
	}))
	defer proxy.Close()

	client := New(Config{}, nil)
	result, err := client.Fetch(context.Background(), crawl.FetchRequest{
		URL:   "http://target.invalid/page",
		Proxy: crawl.ProxyRecord{ID: "p1", Endpoint: proxy.URL},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, result.StatusCode)
	require.Equal(t, "http://target.invalid/page", sawTarget)
}

func TestFetchBodyLimit(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		for i := 0; i < 1024; i++ {
			fmt.Fprint(w, "0123456789")
		}
	}))
	defer srv.Close()

	client := New(Config{MaxBodyBytes: 100}, nil)
	result, err := client.Fetch(context.Background(), crawl.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	require.Len(t, result.Body, 100)
}

func TestFetchInvalidProxyEndpoint(t *testing.T) {
	t.Parallel()

	client := New(Config{}, nil)
	_, err := client.Fetch(context.Background(), crawl.FetchRequest{
		URL:   "http://example.com/",
		Proxy: crawl.ProxyRecord{Endpoint: "://bad"},
	})
	require.Error(t, err)
}
