// Package cms serves articles and content pages from a remote CMS, falling back to local
// markdown files with YAML front matter.
package cms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"finitefield.org/storefront/internal/platform/requestctx"
)

// ErrNotFound is returned when a CMS resource cannot be located.
var ErrNotFound = errors.New("cms: not found")

const (
	KindArticle = "article"
	KindPage    = "page"

	defaultCacheTTL = 5 * time.Minute
	defaultLang     = "en"
)

// Page is a localized article or content page with its body rendered to sanitized HTML.
type Page struct {
	Kind        string
	Slug        string
	Lang        string
	Title       string
	Summary     string
	Body        template.HTML
	Author      string
	Tags        []string
	PublishedAt time.Time
	UpdatedAt   time.Time
	SEO         SEO
}

// SEO holds optional metadata overrides.
type SEO struct {
	Title       string
	Description string
	Image       string
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for remote fetches.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithContentFS sets the markdown fallback tree, laid out as <kind>/<lang>/<slug>.md.
func WithContentFS(fsys fs.FS) Option {
	return func(c *Client) { c.local = fsys }
}

// WithCacheTTL overrides the in-memory cache duration.
func WithCacheTTL(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithClock overrides the clock used for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// Client provides read-only access to CMS content.
type Client struct {
	baseURL string
	http    *http.Client
	local   fs.FS
	ttl     time.Duration
	now     func() time.Time

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	value   any
	expires time.Time
}

// NewClient constructs a Client. An empty baseURL serves local content only.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
		ttl:     defaultCacheTTL,
		now:     time.Now,
		cache:   map[string]cacheEntry{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get fetches one page. Remote failures other than not-found fall through to local content.
func (c *Client) Get(ctx context.Context, kind, slug, lang string) (Page, error) {
	kind = normalizeKind(kind)
	slug = sanitizeSlug(slug)
	if slug == "" {
		return Page{}, ErrNotFound
	}
	lang = normalizeLang(lang)
	v, err := c.cached(ctx, "get|"+kind+"|"+lang+"|"+slug, func() (any, error) {
		if c.baseURL != "" {
			page, err := c.fetchRemote(ctx, kind, slug, lang)
			if err == nil {
				return page, nil
			}
			if !errors.Is(err, ErrNotFound) {
				requestctx.Logger(ctx).Warn("cms: remote fetch failed", zap.String("kind", kind), zap.String("slug", slug), zap.Error(err))
			}
		}
		return c.readLocal(kind, slug, lang)
	})
	if err != nil {
		return Page{}, err
	}
	return clonePage(v.(Page)), nil
}

// List returns pages of kind in lang, newest first. Languages without content fall back to the
// default language.
func (c *Client) List(ctx context.Context, kind, lang string, limit int) ([]Page, error) {
	kind = normalizeKind(kind)
	lang = normalizeLang(lang)
	v, err := c.cached(ctx, "list|"+kind+"|"+lang, func() (any, error) {
		if c.baseURL != "" {
			pages, err := c.listRemote(ctx, kind, lang)
			if err == nil {
				return pages, nil
			}
			requestctx.Logger(ctx).Warn("cms: remote list failed", zap.String("kind", kind), zap.Error(err))
		}
		return c.listLocal(kind, lang)
	})
	if err != nil {
		return nil, err
	}
	all := v.([]Page)
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]Page, len(all))
	for i, p := range all {
		out[i] = clonePage(p)
	}
	return out, nil
}

func (c *Client) cached(ctx context.Context, key string, load func() (any, error)) (any, error) {
	now := c.now()
	c.mu.RLock()
	entry, ok := c.cache[key]
	c.mu.RUnlock()
	if ok && now.Before(entry.expires) {
		return entry.value, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		v, err := load()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cache[key] = cacheEntry{value: v, expires: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return v, nil
}

type remotePage struct {
	Kind        string    `json:"kind"`
	Slug        string    `json:"slug"`
	Lang        string    `json:"lang"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Body        string    `json:"body"`
	Format      string    `json:"format"`
	Author      string    `json:"author"`
	Tags        []string  `json:"tags"`
	PublishedAt time.Time `json:"published_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	SEO         struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Image       string `json:"image"`
	} `json:"seo"`
}

func (c *Client) getJSON(ctx context.Context, endpoint string, lang string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	q := req.URL.Query()
	q.Set("lang", lang)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("cms: remote status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) fetchRemote(ctx context.Context, kind, slug, lang string) (Page, error) {
	endpoint, err := url.JoinPath(c.baseURL, "content", kind, slug)
	if err != nil {
		return Page{}, err
	}
	var payload remotePage
	if err := c.getJSON(ctx, endpoint, lang, &payload); err != nil {
		return Page{}, err
	}
	if strings.TrimSpace(payload.Body) == "" {
		return Page{}, fmt.Errorf("cms: empty body for %s/%s", kind, slug)
	}
	return fromRemote(payload, kind, slug, lang)
}

func (c *Client) listRemote(ctx context.Context, kind, lang string) ([]Page, error) {
	endpoint, err := url.JoinPath(c.baseURL, "content", kind)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Items []remotePage `json:"items"`
	}
	if err := c.getJSON(ctx, endpoint, lang, &payload); err != nil {
		return nil, err
	}
	pages := make([]Page, 0, len(payload.Items))
	for _, item := range payload.Items {
		if sanitizeSlug(item.Slug) == "" {
			continue
		}
		page, err := fromRemote(item, kind, item.Slug, lang)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}
	sortPages(pages)
	return pages, nil
}

func fromRemote(p remotePage, kind, slug, lang string) (Page, error) {
	body, err := Render(p.Body, p.Format)
	if err != nil {
		return Page{}, err
	}
	return Page{
		Kind:        firstNonEmpty(p.Kind, kind),
		Slug:        firstNonEmpty(p.Slug, slug),
		Lang:        firstNonEmpty(p.Lang, lang),
		Title:       firstNonEmpty(p.Title, prettifySlug(slug)),
		Summary:     p.Summary,
		Body:        body,
		Author:      p.Author,
		Tags:        p.Tags,
		PublishedAt: p.PublishedAt,
		UpdatedAt:   p.UpdatedAt,
		SEO:         SEO{Title: p.SEO.Title, Description: p.SEO.Description, Image: p.SEO.Image},
	}, nil
}

func (c *Client) readLocal(kind, slug, lang string) (Page, error) {
	if c.local == nil {
		return Page{}, ErrNotFound
	}
	for _, candidate := range langPriority(lang) {
		page, err := readMarkdown(c.local, path.Join(kind, candidate, slug+".md"), kind, slug, candidate)
		if err == nil {
			return page, nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		return Page{}, err
	}
	return Page{}, ErrNotFound
}

func (c *Client) listLocal(kind, lang string) ([]Page, error) {
	if c.local == nil {
		return []Page{}, nil
	}
	for _, candidate := range langPriority(lang) {
		matches, err := fs.Glob(c.local, path.Join(kind, candidate, "*.md"))
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			continue
		}
		pages := make([]Page, 0, len(matches))
		for _, m := range matches {
			slug := strings.TrimSuffix(path.Base(m), ".md")
			page, err := readMarkdown(c.local, m, kind, slug, candidate)
			if err != nil {
				return nil, err
			}
			pages = append(pages, page)
		}
		sortPages(pages)
		return pages, nil
	}
	return []Page{}, nil
}

func langPriority(lang string) []string {
	if lang == defaultLang {
		return []string{lang}
	}
	return []string{lang, defaultLang}
}

func sortPages(pages []Page) {
	sort.SliceStable(pages, func(i, j int) bool {
		if !pages[i].PublishedAt.Equal(pages[j].PublishedAt) {
			return pages[i].PublishedAt.After(pages[j].PublishedAt)
		}
		return pages[i].Slug < pages[j].Slug
	})
}

func clonePage(p Page) Page {
	p.Tags = append([]string(nil), p.Tags...)
	return p
}

func normalizeKind(kind string) string {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		return KindPage
	}
	return kind
}

func normalizeLang(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		return defaultLang
	}
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}

func sanitizeSlug(slug string) string {
	slug = strings.Trim(strings.TrimSpace(strings.ToLower(slug)), "/")
	if slug == "" || strings.Contains(slug, "..") || strings.ContainsAny(slug, `/\`) {
		return ""
	}
	return slug
}

func prettifySlug(slug string) string {
	parts := strings.Split(strings.TrimSpace(slug), "-")
	for i, part := range parts {
		if part == "" {
			continue
		}
		parts[i] = strings.ToUpper(part[:1]) + part[1:]
	}
	return strings.Join(parts, " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
