// Package archive adapts an archive-style catalog strong on pre-2000 books,
// useful for edition-variant discovery where upstream exposes only an HTML
// listing page rather than a JSON API (spec.md §4.C "Archive-style
// provider: strong for pre-2000 books; useful for edition variants"). Pages
// are parsed with antchfx/htmlquery (an unexercised teacher dependency) and
// scraped text is sanitized with bluemonday, the same library the teacher
// uses to strip HTML from author biographies in internal/gr.go.
package archive

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/antchfx/htmlquery"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"github.com/jukasdrj/alexandria/internal/model"
	"github.com/jukasdrj/alexandria/internal/providers"
)

const defaultTimeout = 15 * time.Second

var stripTags = bluemonday.StrictPolicy()

// Adapter scrapes an archive-style edition listing page per ISBN.
type Adapter struct {
	name    string
	baseURL string
	client  *http.Client
}

// New constructs the adapter against baseURL, the archive host root.
func New(name, baseURL string) *Adapter {
	return &Adapter{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  providers.NewHTTPClient(defaultTimeout, http.DefaultTransport),
	}
}

func (a *Adapter) Name() string     { return a.name }
func (a *Adapter) Tier() model.Tier { return model.TierFree }
func (a *Adapter) Capabilities() []model.Capability {
	return []model.Capability{model.CapEditionVariants, model.CapISBNResolution}
}

// IsAvailable checks the host root responds.
func (a *Adapter) IsAvailable(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, a.baseURL+"/", nil)
	if err != nil {
		return false, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return false, nil
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500, nil
}

// FetchEditionVariants implements providers.EditionVariantFetcher by
// scraping the "other editions" table on the work's detail page.
func (a *Adapter) FetchEditionVariants(ctx context.Context, isbn13 string) ([]model.EditionVariant, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/details/isbn/"+isbn13, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &providers.Retryable{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, nil // non-retryable: no listing for this ISBN.
	}
	if resp.StatusCode >= 500 {
		return nil, &providers.Retryable{Err: errUpstream(resp.StatusCode)}
	}

	doc, err := htmlquery.Parse(resp.Body)
	if err != nil {
		return nil, nil // malformed page: drop, don't fail (spec.md §4.C "graceful parsing").
	}

	rows := htmlquery.Find(doc, `//table[@class='editions']//tr`)
	out := make([]model.EditionVariant, 0, len(rows))
	for _, row := range rows {
		isbnNode := htmlquery.FindOne(row, `.//td[@class='isbn']`)
		if isbnNode == nil {
			continue
		}
		isbn := strings.TrimSpace(htmlquery.InnerText(isbnNode))
		if isbn == "" {
			continue
		}
		format := textOf(row, `.//td[@class='format']`)
		language := textOf(row, `.//td[@class='language']`)
		publisher := textOf(row, `.//td[@class='publisher']`)
		out = append(out, model.EditionVariant{
			ISBN:      isbn,
			Format:    stripTags.Sanitize(format),
			Language:  stripTags.Sanitize(language),
			Publisher: stripTags.Sanitize(publisher),
			Sources:   []string{a.name},
		})
	}
	return out, nil
}

// ResolveISBN implements providers.ISBNResolver via the archive's search page,
// used mainly as a fallback for pre-2000 titles other providers miss.
func (a *Adapter) ResolveISBN(ctx context.Context, title, author string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/search?q="+searchQuery(title, author), nil)
	if err != nil {
		return "", 0, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return "", 0, &providers.Retryable{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", 0, nil
	}
	doc, err := htmlquery.Parse(resp.Body)
	if err != nil {
		return "", 0, nil
	}
	node := htmlquery.FindOne(doc, `//a[@class='result'][1]/@data-isbn13`)
	if node == nil {
		return "", 0, nil
	}
	isbn := htmlquery.InnerText(node)
	if isbn == "" {
		return "", 0, nil
	}
	return isbn, 50, nil // scraped search results carry a conservative confidence.
}

func textOf(row *html.Node, xpath string) string {
	node := htmlquery.FindOne(row, xpath)
	if node == nil {
		return ""
	}
	return strings.TrimSpace(htmlquery.InnerText(node))
}

func searchQuery(title, author string) string {
	return strings.ReplaceAll(title+" "+author, " ", "+")
}

type errUpstream int

func (e errUpstream) Error() string { return "archive: upstream status " + strconv.Itoa(int(e)) }
