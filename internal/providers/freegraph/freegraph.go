package freegraph

import (
	"context"
	"net/http"
	"time"

	"github.com/Khan/genqlient/graphql"

	"github.com/jukasdrj/alexandria/internal/model"
	"github.com/jukasdrj/alexandria/internal/providers"
)

const (
	defaultBatchRate  = 50 * time.Millisecond
	defaultBatchSize  = 20
	defaultHTTPClient = 20 * time.Second
)

// Adapter speaks a free GraphQL-based work-graph API, implementing
// providers.MetadataFetcher, providers.EditionVariantFetcher, and
// providers.ExternalIDFetcher over the batching client in batch.go.
type Adapter struct {
	name string
	gql  graphql.Client
}

// New constructs the adapter. endpoint is the GraphQL HTTP endpoint.
func New(name, endpoint string) *Adapter {
	client := providers.NewHTTPClient(defaultHTTPClient, http.DefaultTransport)
	return &Adapter{
		name: name,
		gql:  newBatchedClient(endpoint, client, defaultBatchRate, defaultBatchSize),
	}
}

func (a *Adapter) Name() string     { return a.name }
func (a *Adapter) Tier() model.Tier { return model.TierFree }
func (a *Adapter) Capabilities() []model.Capability {
	return []model.Capability{
		model.CapMetadataEnrichment,
		model.CapEditionVariants,
		model.CapEnhancedExternalIDs,
	}
}

// IsAvailable issues a tiny introspection-free probe query. A transport
// failure, or a field error on the probe's own top-level field (which the
// batching client hands back as an error), counts as unavailable.
func (a *Adapter) IsAvailable(ctx context.Context) (bool, error) {
	resp := &graphql.Response{Data: new(map[string]any)}
	err := a.gql.MakeRequest(ctx, &graphql.Request{
		Query:  `query Ping { edition(isbn13: "0000000000000") { isbn13 } }`,
		OpName: "Ping",
	}, resp)
	if err != nil {
		return false, nil
	}
	return true, nil
}

type editionNode struct {
	ISBN13        string   `json:"isbn13"`
	Title         string   `json:"title"`
	Publisher     string   `json:"publisher"`
	PublishDate   string   `json:"publishDate"`
	Language      string   `json:"language"`
	PageCount     int      `json:"pageCount"`
	Authors       []string `json:"authorNames"`
	Subjects      []string `json:"subjects"`
	Format        string   `json:"format"`
	AlternateISBN []string `json:"alternateIsbns"`
	ExternalIDs   []struct {
		Source string `json:"source"`
		ID     string `json:"id"`
	} `json:"externalIds"`
}

// FetchMetadata implements providers.MetadataFetcher.
func (a *Adapter) FetchMetadata(ctx context.Context, isbn13 string) (model.Metadata, error) {
	var data struct {
		Edition *editionNode `json:"edition"`
	}
	resp := &graphql.Response{Data: &data}
	err := a.gql.MakeRequest(ctx, &graphql.Request{
		Query: `query Edition($isbn: String!) {
			edition(isbn13: $isbn) {
				isbn13 title publisher publishDate language pageCount
				authorNames subjects
			}
		}`,
		Variables: map[string]any{"isbn": isbn13},
		OpName:    "Edition",
	}, resp)
	if err != nil {
		return model.Metadata{}, &providers.Retryable{Err: err}
	}
	if data.Edition == nil {
		return model.Metadata{}, nil
	}
	e := data.Edition
	return model.Metadata{
		Title:         e.Title,
		Publisher:     e.Publisher,
		PageCount:     e.PageCount,
		Language:      e.Language,
		PublishedDate: e.PublishDate,
		ISBN13:        isbn13,
		Authors:       e.Authors,
		Subjects:      e.Subjects,
	}, nil
}

// FetchEditionVariants implements providers.EditionVariantFetcher.
func (a *Adapter) FetchEditionVariants(ctx context.Context, isbn13 string) ([]model.EditionVariant, error) {
	var data struct {
		Work struct {
			Editions []editionNode `json:"editions"`
		} `json:"workByIsbn"`
	}
	resp := &graphql.Response{Data: &data}
	err := a.gql.MakeRequest(ctx, &graphql.Request{
		Query: `query Variants($isbn: String!) {
			workByIsbn(isbn13: $isbn) {
				editions { isbn13 format language publisher }
			}
		}`,
		Variables: map[string]any{"isbn": isbn13},
		OpName:    "Variants",
	}, resp)
	if err != nil {
		return nil, &providers.Retryable{Err: err}
	}
	out := make([]model.EditionVariant, 0, len(data.Work.Editions))
	for _, e := range data.Work.Editions {
		out = append(out, model.EditionVariant{
			ISBN:      e.ISBN13,
			Format:    e.Format,
			Language:  e.Language,
			Publisher: e.Publisher,
			Sources:   []string{a.name},
		})
	}
	return out, nil
}

// FetchExternalIDs implements providers.ExternalIDFetcher. Confidence is
// fixed at a moderate value since this upstream does not self-report one.
func (a *Adapter) FetchExternalIDs(ctx context.Context, isbn13 string) (map[string]string, int, error) {
	var data struct {
		Edition *editionNode `json:"edition"`
	}
	resp := &graphql.Response{Data: &data}
	err := a.gql.MakeRequest(ctx, &graphql.Request{
		Query: `query ExternalIDs($isbn: String!) {
			edition(isbn13: $isbn) { externalIds { source id } }
		}`,
		Variables: map[string]any{"isbn": isbn13},
		OpName:    "ExternalIDs",
	}, resp)
	if err != nil {
		return nil, 0, &providers.Retryable{Err: err}
	}
	if data.Edition == nil {
		return nil, 0, nil
	}
	ids := make(map[string]string, len(data.Edition.ExternalIDs))
	for _, e := range data.Edition.ExternalIDs {
		ids[e.Source] = e.ID
	}
	return ids, 70, nil
}
