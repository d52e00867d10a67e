// Package paid adapts a quota-protected paid metadata service, per
// spec.md §4.C: batch ISBN lookup (up to 1000 per call), single ISBN,
// paginated author bibliography, and title search. Every upstream call is
// gated by the quota.Coordinator before it is issued and records usage
// afterward, grounded on the teacher's GRGetter (internal/gr.go) composing a
// scoped+header-stamped http.Client, generalized here to add the quota gate
// the teacher's single free provider never needed.
package paid

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/jukasdrj/alexandria/internal/logging"
	"github.com/jukasdrj/alexandria/internal/model"
	"github.com/jukasdrj/alexandria/internal/providers"
	"github.com/jukasdrj/alexandria/internal/quota"
)

// maxBodyBytes bounds how much of an upstream response we ever buffer.
const maxBodyBytes = 10 << 20

const (
	defaultTimeout  = 15 * time.Second
	maxBatchISBNs   = 1000
	defaultProvName = "isbndb"
)

// Quota is the subset of quota.Coordinator the adapter needs, narrowed so
// tests can supply a stub without a store.
type Quota interface {
	Reserve(ctx context.Context, operation string, n int) bool
	Record(ctx context.Context, n int)
	Status(ctx context.Context) quota.Status
}

// Adapter is the paid-tier provider. It implements registry.Provider plus
// ISBNResolver, MetadataFetcher, BatchMetadataFetcher,
// AuthorBibliographyFetcher, and CoverFetcher (fresh-URL minting, spec.md
// §4.G.1 step 3).
type Adapter struct {
	name    string
	apiKey  string
	baseURL string
	client  *http.Client
	quota   Quota
}

// New constructs the paid adapter. baseURL is the upstream API root; apiKey
// is sent as a bearer token via a HeaderTransport-equivalent composed in
// providers.NewHTTPClient.
func New(name, apiKey, baseURL string, q Quota) *Adapter {
	if name == "" {
		name = defaultProvName
	}
	return &Adapter{
		name:    name,
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  providers.NewHTTPClient(defaultTimeout, &authTransport{apiKey: apiKey}),
		quota:   q,
	}
}

type authTransport struct {
	apiKey string
}

func (t *authTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r2 := r.Clone(r.Context())
	r2.Header.Set("Authorization", "Bearer "+t.apiKey)
	return http.DefaultTransport.RoundTrip(r2)
}

func (a *Adapter) Name() string          { return a.name }
func (a *Adapter) Tier() model.Tier      { return model.TierPaid }
func (a *Adapter) Capabilities() []model.Capability {
	return []model.Capability{
		model.CapISBNResolution,
		model.CapMetadataEnrichment,
		model.CapCoverImages,
		model.CapAuthorBibliography,
	}
}

// IsAvailable reports whether the API key is configured and the quota
// coordinator has remaining safety headroom, per spec.md §4.C "Availability
// = presence of API key AND safety_remaining > 0".
func (a *Adapter) IsAvailable(ctx context.Context) (bool, error) {
	if a.apiKey == "" {
		return false, nil
	}
	status := a.quota.Status(ctx)
	return status.SafetyRemaining > 0, nil
}

type resolveResponse struct {
	Results []struct {
		ISBN13     string `json:"isbn13"`
		Confidence int    `json:"confidence"`
	} `json:"results"`
}

// ResolveISBN implements providers.ISBNResolver.
func (a *Adapter) ResolveISBN(ctx context.Context, title, author string) (string, int, error) {
	if !a.quota.Reserve(ctx, quota.OpBatchDirect, 1) {
		return "", 0, nil // quota-exhausted: fall through, not a failure.
	}
	q := url.Values{"title": {title}, "author": {author}}
	body, err := a.get(ctx, "/books/search", q)
	if err != nil {
		return "", 0, err
	}
	var resp resolveResponse
	if err := sonic.Unmarshal(body, &resp); err != nil {
		return "", 0, nil // malformed upstream payload: drop, don't fail (spec.md §4.C "graceful parsing").
	}
	if len(resp.Results) == 0 {
		return "", 0, nil
	}
	a.quota.Record(ctx, 1)
	return resp.Results[0].ISBN13, resp.Results[0].Confidence, nil
}

type bookResponse struct {
	Title         string   `json:"title"`
	Subtitle      string   `json:"subtitle"`
	Publisher     string   `json:"publisher"`
	PublishedDate string   `json:"date_published"`
	PageCount     int      `json:"pages"`
	Language      string   `json:"language"`
	ISBN13        string   `json:"isbn13"`
	OtherISBNs    []string `json:"related_isbns"`
	Image         string   `json:"image"`
	Synopsis      string   `json:"synopsis"`
	Authors       []string `json:"authors"`
	Subjects      []string `json:"subjects"`
}

// FetchMetadata implements providers.MetadataFetcher.
func (a *Adapter) FetchMetadata(ctx context.Context, isbn13 string) (model.Metadata, error) {
	if !a.quota.Reserve(ctx, quota.OpBatchDirect, 1) {
		return model.Metadata{}, nil
	}
	body, err := a.get(ctx, "/book/"+isbn13, nil)
	if err != nil {
		return model.Metadata{}, err
	}
	var b bookResponse
	if err := sonic.Unmarshal(body, &b); err != nil {
		return model.Metadata{}, nil
	}
	a.quota.Record(ctx, 1)
	return toMetadata(b), nil
}

// FetchMetadataBatch implements providers.BatchMetadataFetcher. One upstream
// call covers up to maxBatchISBNs ISBNs, per spec.md §4.C and the testable
// property "batch enrichment of 100 ISBNs issues exactly one upstream batch
// call".
func (a *Adapter) FetchMetadataBatch(ctx context.Context, isbn13s []string) (map[string]model.Metadata, error) {
	if len(isbn13s) == 0 {
		return nil, nil
	}
	if len(isbn13s) > maxBatchISBNs {
		isbn13s = isbn13s[:maxBatchISBNs]
	}
	if !a.quota.Reserve(ctx, quota.OpBatchDirect, 1) {
		return nil, nil
	}
	payload, err := sonic.Marshal(map[string][]string{"isbns": isbn13s})
	if err != nil {
		return nil, err
	}
	body, err := a.post(ctx, "/books/bulk", payload)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Books []bookResponse `json:"books"`
	}
	if err := sonic.Unmarshal(body, &resp); err != nil {
		return nil, nil
	}
	a.quota.Record(ctx, 1)
	out := make(map[string]model.Metadata, len(resp.Books))
	for _, b := range resp.Books {
		out[b.ISBN13] = toMetadata(b)
	}
	return out, nil
}

// FetchCover implements providers.CoverFetcher: mints a fresh signed cover
// URL, used by the cover queue consumer when a previously cached paid URL's
// JWT expires (spec.md §4.E failure semantics, §4.G.1 step 3).
func (a *Adapter) FetchCover(ctx context.Context, isbn13 string) (string, string, error) {
	if !a.quota.Reserve(ctx, quota.OpBatchDirect, 1) {
		return "", "", nil
	}
	body, err := a.get(ctx, "/book/"+isbn13+"/cover", nil)
	if err != nil {
		return "", "", err
	}
	var resp struct {
		URL string `json:"url"`
	}
	if err := sonic.Unmarshal(body, &resp); err != nil || resp.URL == "" {
		return "", "", nil
	}
	a.quota.Record(ctx, 1)
	return resp.URL, "large", nil
}

// FetchAuthorBibliography implements providers.AuthorBibliographyFetcher,
// paginating until maxPages or an empty page is reached.
func (a *Adapter) FetchAuthorBibliography(ctx context.Context, authorName string, maxPages int) ([]model.Edition, error) {
	var out []model.Edition
	for page := 1; maxPages <= 0 || page <= maxPages; page++ {
		if !a.quota.Reserve(ctx, quota.OpBulkAuthor, 1) {
			break
		}
		q := url.Values{"author": {authorName}, "page": {fmt.Sprint(page)}}
		body, err := a.get(ctx, "/author/books", q)
		if err != nil {
			return out, err
		}
		var resp struct {
			Books []bookResponse `json:"books"`
		}
		if err := sonic.Unmarshal(body, &resp); err != nil || len(resp.Books) == 0 {
			break
		}
		a.quota.Record(ctx, 1)
		for _, b := range resp.Books {
			out = append(out, model.Edition{
				ISBN13:        b.ISBN13,
				Title:         b.Title,
				Publisher:     b.Publisher,
				PublishedDate: b.PublishedDate,
				PageCount:     b.PageCount,
				Language:      b.Language,
			})
		}
	}
	return out, nil
}

func toMetadata(b bookResponse) model.Metadata {
	return model.Metadata{
		Title:         b.Title,
		Subtitle:      b.Subtitle,
		Publisher:     b.Publisher,
		PageCount:     b.PageCount,
		Language:      b.Language,
		PublishedDate: b.PublishedDate,
		ISBN13:        b.ISBN13,
		AlternateISBN: b.OtherISBNs,
		CoverURL:      b.Image,
		Description:   b.Synopsis,
		Authors:       b.Authors,
		Subjects:      b.Subjects,
	}
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
	return a.do(req)
}

func (a *Adapter) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(req)
}

func (a *Adapter) do(req *http.Request) ([]byte, error) {
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &providers.Retryable{Err: err} // network/timeout: retryable.
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		logging.Log(req.Context()).Debug("paid provider: non-retryable client error", "status", resp.StatusCode, "path", req.URL.Path)
		return nil, nil // non-retryable 4xx -> empty result, not an error.
	}
	if resp.StatusCode >= 500 {
		return nil, &providers.Retryable{Err: fmt.Errorf("paid provider: upstream %d", resp.StatusCode)}
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}
