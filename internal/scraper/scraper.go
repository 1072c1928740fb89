// Package scraper crawls a website from a start URL and returns the main
// text of every page it reaches. The crawl stays on the start host and is
// bounded by depth and page count.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/orgrag/internal/config"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrorPrefix marks the content of pages that could not be scraped.
const ErrorPrefix = "Error scraping page:"

// ErrInvalidURL is returned for start URLs that are not absolute http(s).
var ErrInvalidURL = errors.New("invalid start URL")

// Page is one scraped page.
type Page struct {
	URL      string         `json:"url"`
	Title    string         `json:"title"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// Scraper fetches a website and returns its pages. The call blocks until
// the crawl completes.
type Scraper interface {
	Scrape(ctx context.Context, startURL string) ([]Page, error)
}

// Config bounds a crawl.
type Config struct {
	MaxPages          int
	MaxDepth          int
	Concurrency       int
	Timeout           time.Duration
	UserAgent         string
	RequestsPerSecond float64
	MaxBodyBytes      int64
}

// ConfigFrom maps the scraper section of the application config.
func ConfigFrom(cfg config.ScraperConfig) Config {
	return Config{
		MaxPages:          cfg.MaxPages,
		MaxDepth:          cfg.MaxDepth,
		Concurrency:       cfg.Concurrency,
		Timeout:           cfg.Timeout.Duration(),
		UserAgent:         cfg.UserAgent,
		RequestsPerSecond: cfg.RequestsPerSecond,
		MaxBodyBytes:      cfg.MaxBodyBytes,
	}
}

func (c *Config) applyDefaults() {
	if c.MaxPages <= 0 {
		c.MaxPages = 10
	}
	if c.MaxDepth < 0 {
		c.MaxDepth = 1
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (compatible; orgrag/1.0)"
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 5 << 20
	}
}

// HTTPScraper crawls breadth-first with net/http. Fetches run on an ants
// pool and share one rate limiter.
type HTTPScraper struct {
	config  Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewHTTPScraper creates a scraper. A nil client gets one with the
// configured timeout.
func NewHTTPScraper(cfg Config, client *http.Client, logger *zap.Logger) *HTTPScraper {
	cfg.applyDefaults()
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Concurrency)
	}
	return &HTTPScraper{config: cfg, client: client, limiter: limiter, logger: logger}
}

// fetched is the raw outcome of one page fetch, error items included.
type fetched struct {
	page  Page
	links []*url.URL
}

// Scrape crawls from startURL. Pages that fail or look like anti-bot
// interstitials are dropped with a warning; the remaining pages are
// returned in crawl order.
func (s *HTTPScraper) Scrape(ctx context.Context, startURL string) ([]Page, error) {
	start, err := url.Parse(strings.TrimSpace(startURL))
	if err != nil || (start.Scheme != "http" && start.Scheme != "https") || start.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, startURL)
	}

	pool, err := ants.NewPool(s.config.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("creating fetch pool: %w", err)
	}
	defer pool.Release()

	seen := map[string]bool{normalizeLink(start): true}
	level := []*url.URL{start}
	var items []fetched

	for depth := 0; depth <= s.config.MaxDepth && len(level) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if budget := s.config.MaxPages - len(items); len(level) > budget {
			level = level[:budget]
		}

		results := make([]fetched, len(level))
		var wg sync.WaitGroup
		for i, u := range level {
			wg.Add(1)
			if err := pool.Submit(func() {
				defer wg.Done()
				results[i] = s.fetch(ctx, u, depth)
			}); err != nil {
				wg.Done()
				results[i] = errorItem(u.String(), depth, 0, err)
			}
		}
		wg.Wait()
		items = append(items, results...)

		if len(items) >= s.config.MaxPages {
			break
		}
		var next []*url.URL
		for _, r := range results {
			for _, link := range r.links {
				key := normalizeLink(link)
				if link.Host != start.Host || seen[key] || (link.Scheme != "http" && link.Scheme != "https") {
					continue
				}
				seen[key] = true
				clean := *link
				clean.Fragment, clean.RawFragment = "", ""
				next = append(next, &clean)
			}
		}
		level = next
	}

	pages := make([]Page, 0, len(items))
	for _, it := range items {
		if strings.HasPrefix(it.page.Content, ErrorPrefix) {
			s.logger.Warn("skipping error item",
				zap.String("url", it.page.URL),
				zap.Any("error", it.page.Metadata["error"]),
			)
			continue
		}
		pages = append(pages, it.page)
	}

	s.logger.Info("scraped website",
		zap.String("start_url", startURL),
		zap.Int("fetched", len(items)),
		zap.Int("pages", len(pages)),
	)
	return pages, nil
}

func (s *HTTPScraper) fetch(ctx context.Context, u *url.URL, depth int) fetched {
	if err := s.limiter.Wait(ctx); err != nil {
		return errorItem(u.String(), depth, 0, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return errorItem(u.String(), depth, 0, err)
	}
	req.Header.Set("User-Agent", s.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9")

	resp, err := s.client.Do(req)
	if err != nil {
		return errorItem(u.String(), depth, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return errorItem(u.String(), depth, resp.StatusCode, fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.config.MaxBodyBytes))
	if err != nil {
		return errorItem(u.String(), depth, resp.StatusCode, err)
	}

	// Redirects may land elsewhere; links resolve against the final URL.
	final := resp.Request.URL

	var doc document
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch {
	case mediaType == "text/plain":
		doc = document{title: "No Title", content: collapseWhitespace(string(body))}
	case mediaType == "" || strings.Contains(mediaType, "html"):
		doc, err = parseHTML(body, final)
		if err != nil {
			return errorItem(u.String(), depth, resp.StatusCode, err)
		}
	default:
		return errorItem(u.String(), depth, resp.StatusCode, fmt.Errorf("unsupported content type %q", mediaType))
	}

	if isBlocked(doc.content) {
		it := errorItem(u.String(), depth, resp.StatusCode, errors.New("anti-bot protection detected"))
		it.page.Title = "Blocked"
		it.page.Content = ErrorPrefix + " Page blocked by anti-bot measures"
		return it
	}
	if doc.content == "" {
		return errorItem(u.String(), depth, resp.StatusCode, errors.New("no content"))
	}

	return fetched{
		page: Page{
			URL:     u.String(),
			Title:   doc.title,
			Content: doc.content,
			Metadata: map[string]any{
				"description":    doc.description,
				"keywords":       doc.keywords,
				"crawledAt":      time.Now().UTC().Format(time.RFC3339),
				"contentLength":  len([]rune(doc.content)),
				"hasDescription": doc.description != "",
				"hasKeywords":    doc.keywords != "",
				"depth":          depth,
				"statusCode":     resp.StatusCode,
			},
		},
		links: doc.links,
	}
}

func errorItem(rawURL string, depth, status int, err error) fetched {
	return fetched{page: Page{
		URL:     rawURL,
		Title:   "Error",
		Content: ErrorPrefix + " " + err.Error(),
		Metadata: map[string]any{
			"error":      err.Error(),
			"crawledAt":  time.Now().UTC().Format(time.RFC3339),
			"depth":      depth,
			"statusCode": status,
		},
	}}
}

var _ Scraper = (*HTTPScraper)(nil)
