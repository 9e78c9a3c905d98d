// Package fetcher handles RSS feed downloading, parsing, and item normalization.
package fetcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"html"
	"io"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"

	"digest_bot/internal/dates"
	"digest_bot/internal/model"
)

// Fetch failure kinds. Errors returned by Fetch and FetchItems wrap one of them.
var (
	ErrNetwork = errors.New("network error")
	ErrParse   = errors.New("parse error")
)

const (
	maxBodyBytes  = 5 * 1024 * 1024
	maxTitleRunes = 120
)

var lineBreak = regexp.MustCompile(`(?i)<br\s*/?>`)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures where sources are fetched from.
type Options struct {
	BaseURL   string
	ItemLimit int
	Timeout   time.Duration
}

// Fetcher downloads RSS feeds and turns their entries into feed items.
type Fetcher struct {
	client     HTTPClient
	opts       Options
	normalizer *dates.Normalizer
	policy     *bluemonday.Policy
}

// New creates a Fetcher with the given HTTP client.
func New(client HTTPClient, opts Options, normalizer *dates.Normalizer) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &Fetcher{
		client:     client,
		opts:       opts,
		normalizer: normalizer,
		policy:     bluemonday.StrictPolicy(),
	}
}

// SourceURL returns the feed URL of a source key.
func (f *Fetcher) SourceURL(source string) string {
	u := f.opts.BaseURL + url.PathEscape(source)
	if f.opts.ItemLimit > 0 {
		u += "?limit=" + strconv.Itoa(f.opts.ItemLimit)
	}
	return u
}

// Fetch downloads and parses an RSS feed from the given URL.
// The request is bounded by the configured timeout.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", ErrNetwork, err)
	}
	req.Header.Set("User-Agent", "NewsDigestBot/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: http get: %w", ErrNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrNetwork, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrNetwork, err)
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse feed: %w", ErrParse, err)
	}
	return feed, nil
}

// FetchItems fetches a source and converts its entries into feed items.
// Entries without any usable identity are dropped.
func (f *Fetcher) FetchItems(ctx context.Context, source string) ([]model.FeedItem, error) {
	feed, err := f.Fetch(ctx, f.SourceURL(source))
	if err != nil {
		return nil, err
	}

	items := make([]model.FeedItem, 0, len(feed.Items))
	for _, entry := range feed.Items {
		item, ok := f.ToItem(source, entry)
		if !ok {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// ToItem normalizes one feed entry. It reports false when the entry has no identity.
func (f *Fetcher) ToItem(source string, entry *gofeed.Item) (model.FeedItem, bool) {
	id := SourceID(entry)
	if id == "" {
		return model.FeedItem{}, false
	}

	body := f.CleanContent(entry.Description)
	if body == "" {
		body = f.CleanContent(entry.Content)
	}
	title := strings.TrimSpace(entry.Title)
	if title == "" {
		title = firstLine(body, maxTitleRunes)
	}

	raw := entry.Published
	if strings.TrimSpace(raw) == "" {
		raw = entry.Updated
	}

	return model.FeedItem{
		SourceID:    id,
		Origin:      source,
		Title:       title,
		Body:        body,
		PublishedAt: f.normalizer.Normalize(raw),
		ViewCount:   ViewCount(entry),
	}, true
}

// CleanContent turns an HTML description into plain text, keeping line breaks.
func (f *Fetcher) CleanContent(s string) string {
	s = lineBreak.ReplaceAllString(s, "\n")
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = html.UnescapeString(f.policy.Sanitize(s))
	return strings.TrimSpace(s)
}

// SourceID returns the stable identity of an entry: its canonical link,
// then its GUID, then a SHA-256 of title and description.
func SourceID(item *gofeed.Item) string {
	if link := CanonicalLink(item.Link); link != "" {
		return link
	}
	if guid := strings.TrimSpace(item.GUID); guid != "" {
		return guid
	}
	if item.Title == "" && item.Description == "" {
		return ""
	}
	h := sha256.Sum256([]byte(item.Title + "|" + item.Description))
	return fmt.Sprintf("sha256:%x", h[:16])
}

// CanonicalLink drops utm_* query parameters and the fragment from a link.
func CanonicalLink(link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return link
	}
	q := u.Query()
	for key := range q {
		if strings.HasPrefix(strings.ToLower(key), "utm_") {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	return u.String()
}

// ViewCount extracts the media:statistics views attribute, or 0 when absent.
func ViewCount(item *gofeed.Item) int {
	media, ok := item.Extensions["media"]
	if !ok {
		return 0
	}
	if raw, ok := findViews(media); ok {
		return parseCount(raw)
	}
	return 0
}

func findViews(exts map[string][]ext.Extension) (string, bool) {
	for _, e := range exts["statistics"] {
		if v, ok := e.Attrs["views"]; ok {
			return v, true
		}
	}
	for name, list := range exts {
		if name == "statistics" {
			continue
		}
		for _, e := range list {
			if v, ok := findViews(e.Children); ok {
				return v, true
			}
		}
	}
	return "", false
}

func parseCount(raw string) int {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return 0
	}
	mult := 1.0
	switch {
	case strings.HasSuffix(s, "K"):
		mult, s = 1e3, strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		mult, s = 1e6, strings.TrimSuffix(s, "M")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0
	}
	return int(math.Round(v * mult))
}

func firstLine(s string, limit int) string {
	line, _, _ := strings.Cut(s, "\n")
	line = strings.TrimSpace(line)
	r := []rune(line)
	if len(r) > limit {
		return string(r[:limit]) + "..."
	}
	return line
}
