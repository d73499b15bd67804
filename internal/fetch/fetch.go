// Package fetch implements the HTTP fetcher: it retrieves pages through
// an assigned proxy and extracts outbound links from the HTML.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/crawlforge/crawld/internal/crawl"
)

// Config bounds fetch behavior.
type Config struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
}

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "crawld/1.0"
	defaultMaxBody   = 8 << 20
)

// Client fetches pages over HTTP. Transports are cached per proxy
// endpoint so connection pools survive across requests.
type Client struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	clients map[string]*http.Client
}

// New builds a Client, applying defaults for unset fields.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBody
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		logger:  logger,
		clients: map[string]*http.Client{},
	}
}

// Fetch retrieves one page through the request's proxy and returns the
// body plus the links found on it. Non-2xx responses are returned with
// their status code, not as errors; the caller classifies them.
func (c *Client) Fetch(ctx context.Context, req crawl.FetchRequest) (crawl.FetchResult, error) {
	httpClient, err := c.clientFor(req.Proxy.Endpoint)
	if err != nil {
		return crawl.FetchResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return crawl.FetchResult{}, fmt.Errorf("build request for %s: %w", req.URL, err)
	}
	httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml")

	start := time.Now()
	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return crawl.FetchResult{Duration: time.Since(start)}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes))
	duration := time.Since(start)
	if err != nil {
		return crawl.FetchResult{StatusCode: resp.StatusCode, Duration: duration}, fmt.Errorf("read body of %s: %w", req.URL, err)
	}

	result := crawl.FetchResult{
		URL:        req.URL,
		StatusCode: resp.StatusCode,
		Body:       body,
		Duration:   duration,
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 && isHTML(resp.Header.Get("Content-Type")) {
		result.Links = extractLinks(resp.Request.URL, body)
	}
	return result, nil
}

// clientFor returns the cached HTTP client for a proxy endpoint. An
// empty endpoint means a direct connection.
func (c *Client) clientFor(endpoint string) (*http.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[endpoint]; ok {
		return client, nil
	}

	transport := &http.Transport{
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	if endpoint != "" {
		proxyURL, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse proxy endpoint %q: %w", endpoint, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	client := &http.Client{
		Transport: transport,
		Timeout:   c.cfg.Timeout,
	}
	c.clients[endpoint] = client
	return client, nil
}

func isHTML(contentType string) bool {
	return strings.Contains(contentType, "text/html") ||
		strings.Contains(contentType, "application/xhtml+xml")
}

// extractLinks pulls a[href] targets out of the document, resolves them
// against the final request URL, and keeps only http(s) links.
func extractLinks(base *url.URL, body []byte) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil
	}
	var links []string
	seen := map[string]struct{}{}
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" || strings.HasPrefix(href, "#") {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		resolved.Fragment = ""
		link := resolved.String()
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links
}
