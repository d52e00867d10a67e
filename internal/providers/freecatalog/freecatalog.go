// Package freecatalog adapts a free community catalog API: title/author
// search, single-ISBN metadata, subject tags, and a community covers
// endpoint, per spec.md §4.C "Free metadata services: catalog and work
// graph lookups ... community covers endpoint". Availability is a reachable
// base URL rather than a quota check, optionally throttled by a per-service
// token-bucket rate limiter, grounded on the teacher's throttledTransport
// (internal/transport.go, golang.org/x/time/rate-backed) and GRGetter
// (internal/gr.go) request shape.
package freecatalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jukasdrj/alexandria/internal/logging"
	"github.com/jukasdrj/alexandria/internal/model"
	"github.com/jukasdrj/alexandria/internal/providers"
)

const defaultTimeout = 12 * time.Second

// Adapter is a free-tier catalog provider.
type Adapter struct {
	name      string
	baseURL   string
	client    *http.Client
	rateEvery time.Duration // 0 disables throttling
}

// Option configures New.
type Option func(*Adapter)

// WithRateLimit adds a ThrottledTransport admitting one request every
// interval, for services that impose a courtesy request rate (spec.md
// §4.C "optional per-service rate limiter").
func WithRateLimit(interval time.Duration) Option {
	return func(a *Adapter) { a.rateEvery = interval }
}

// New constructs the adapter against baseURL.
func New(name, baseURL string, opts ...Option) *Adapter {
	a := &Adapter{name: name, baseURL: strings.TrimRight(baseURL, "/")}
	for _, opt := range opts {
		opt(a)
	}
	var rt http.RoundTripper = http.DefaultTransport
	if a.rateEvery > 0 {
		rt = providers.ThrottledTransport{RoundTripper: rt, Limiter: rate.NewLimiter(rate.Every(a.rateEvery), 1)}
	}
	a.client = providers.NewHTTPClient(defaultTimeout, rt)
	return a
}

func (a *Adapter) Name() string     { return a.name }
func (a *Adapter) Tier() model.Tier { return model.TierFree }
func (a *Adapter) Capabilities() []model.Capability {
	return []model.Capability{
		model.CapISBNResolution,
		model.CapMetadataEnrichment,
		model.CapSubjectEnrichment,
		model.CapCoverImages,
	}
}

// IsAvailable sends a HEAD request to the base URL's root path. A 5xx status
// or a network error means unavailable; it is a demotion at the registry
// layer, not a fatal error here.
func (a *Adapter) IsAvailable(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, a.baseURL+"/", nil)
	if err != nil {
		return false, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return false, nil // unreachable host: demotion, not an adapter error.
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500, nil
}

type searchResponse struct {
	Docs []struct {
		ISBN       []string `json:"isbn"`
		Confidence int      `json:"confidence"`
	} `json:"docs"`
}

// ResolveISBN implements providers.ISBNResolver.
func (a *Adapter) ResolveISBN(ctx context.Context, title, author string) (string, int, error) {
	q := url.Values{"title": {title}, "author": {author}, "limit": {"1"}}
	body, err := a.get(ctx, "/search.json", q)
	if err != nil {
		return "", 0, err
	}
	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Docs) == 0 || len(resp.Docs[0].ISBN) == 0 {
		return "", 0, nil
	}
	conf := resp.Docs[0].Confidence
	if conf == 0 {
		conf = 60 // free-tier search has no native confidence signal; a conservative default.
	}
	return resp.Docs[0].ISBN[0], conf, nil
}

type editionResponse struct {
	Title     string   `json:"title"`
	Publisher []string `json:"publishers"`
	Date      string   `json:"publish_date"`
	Pages     int      `json:"number_of_pages"`
	Languages []struct {
		Key string `json:"key"`
	} `json:"languages"`
	Authors  []string `json:"author_names"`
	Subjects []string `json:"subjects"`
}

// FetchMetadata implements providers.MetadataFetcher.
func (a *Adapter) FetchMetadata(ctx context.Context, isbn13 string) (model.Metadata, error) {
	body, err := a.get(ctx, "/isbn/"+isbn13+".json", nil)
	if err != nil {
		return model.Metadata{}, err
	}
	var e editionResponse
	if err := json.Unmarshal(body, &e); err != nil {
		return model.Metadata{}, nil
	}
	md := model.Metadata{
		Title:     e.Title,
		PageCount: e.Pages,
		ISBN13:    isbn13,
		Authors:   e.Authors,
		Subjects:  e.Subjects,
	}
	if len(e.Publisher) > 0 {
		md.Publisher = e.Publisher[0]
	}
	md.PublishedDate = e.Date
	if len(e.Languages) > 0 {
		md.Language = strings.TrimPrefix(e.Languages[0].Key, "/languages/")
	}
	return md, nil
}

// FetchSubjects implements providers.SubjectFetcher, used when this adapter
// is consulted purely as a subject-only provider (spec.md §4.D.3).
func (a *Adapter) FetchSubjects(ctx context.Context, isbn13 string) ([]string, error) {
	md, err := a.FetchMetadata(ctx, isbn13)
	if err != nil {
		return nil, err
	}
	return md.Subjects, nil
}

// FetchCover implements providers.CoverFetcher against the community covers
// endpoint.
func (a *Adapter) FetchCover(ctx context.Context, isbn13 string) (string, string, error) {
	u := a.baseURL + "/covers/isbn/" + isbn13 + "-L.jpg"
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		return "", "", err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return "", "", &providers.Retryable{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", nil // no cover at this host: not an error, try the next provider.
	}
	return u, "large", nil
}

func (a *Adapter) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	u := a.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &providers.Retryable{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		logging.Log(ctx).Debug("freecatalog: non-retryable client error", "status", resp.StatusCode, "path", path)
		return nil, nil
	}
	if resp.StatusCode >= 500 {
		return nil, &providers.Retryable{Err: fmt.Errorf("freecatalog: upstream status %d", resp.StatusCode)}
	}
	var buf strings.Builder
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return []byte(buf.String()), nil
}
