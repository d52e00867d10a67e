// Package model defines the plain data shapes shared by every component:
// Works, Editions, Authors, the external-ID crosswalk, enrichment jobs, and
// the provider record used by the registry.
//
// Per the cyclic-ownership design note, Edition stores a forward key to its
// Work and nothing stores a back-pointer; callers compute Work->Editions by
// query instead of following an in-memory reference.
package model

import "time"

// Work is the canonical, edition-agnostic book.
type Work struct {
	WorkKey            string    `json:"work_key"`
	Title              string    `json:"title"`
	Subtitle           string    `json:"subtitle,omitempty"`
	Description        string    `json:"description,omitempty"`
	OriginalLanguage   string    `json:"original_language,omitempty"`
	FirstPublishedYear int       `json:"first_published_year,omitempty"`
	Subjects           []string  `json:"subjects,omitempty"`
	CoverURLs          CoverURLs `json:"cover_urls"`
	ExternalIDs        map[string]string `json:"external_ids,omitempty"` // provider name -> id
	PrimaryProvider    string    `json:"primary_provider,omitempty"`
	Contributors       []string  `json:"contributors,omitempty"` // providers that contributed data, first-seen order
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// CoverURLs holds the three cached image sizes for a Work or Edition.
type CoverURLs struct {
	Large  string `json:"large,omitempty"`
	Medium string `json:"medium,omitempty"`
	Small  string `json:"small,omitempty"`
}

// Edition is one physical/digital manifestation of a Work, keyed by its
// normalized ISBN-13.
type Edition struct {
	ISBN13        string            `json:"isbn13"`
	WorkKey       string            `json:"work_key"`
	Title         string            `json:"title"`
	Publisher     string            `json:"publisher,omitempty"`
	PublishedDate string            `json:"published_date,omitempty"` // free-form, upstream-provided
	PageCount     int               `json:"page_count,omitempty"`
	Binding       string            `json:"binding,omitempty"`
	Language      string            `json:"language,omitempty"`
	CoverURLs     CoverURLs         `json:"cover_urls"`
	AlternateISBN []string          `json:"alternate_isbns,omitempty"`
	QualityScore  int               `json:"quality_score,omitempty"`
	ExternalIDs   map[string]string `json:"external_ids,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Author is a biographical entity, joined to Works in author_order.
type Author struct {
	AuthorKey    string            `json:"author_key"`
	Name         string            `json:"name"`
	Gender       string            `json:"gender,omitempty"`
	Nationality  string            `json:"nationality,omitempty"`
	BirthYear    int               `json:"birth_year,omitempty"`
	DeathYear    int               `json:"death_year,omitempty"`
	BirthPlace   string            `json:"birth_place,omitempty"`
	DeathPlace   string            `json:"death_place,omitempty"`
	Biography    string            `json:"biography,omitempty"`
	PhotoURL     string            `json:"photo_url,omitempty"`
	WikidataID   string            `json:"wikidata_id,omitempty"`
	ExternalIDs  map[string]string `json:"external_ids,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// EntityType is the discriminator for the external-ID crosswalk.
type EntityType string

const (
	EntityEdition EntityType = "edition"
	EntityWork    EntityType = "work"
	EntityAuthor  EntityType = "author"
)

// ExternalIDMapping is one row of the bidirectional provider crosswalk.
// Primary key is (EntityType, EntityKey, Provider); there is at most one
// mapping per provider per entity.
type ExternalIDMapping struct {
	EntityType EntityType `json:"entity_type"`
	EntityKey  string     `json:"entity_key"`
	Provider   string     `json:"provider"`
	ExternalID string     `json:"external_id"`
	Confidence int        `json:"confidence"` // 0-100
	CreatedAt  time.Time  `json:"created_at"`
}

// JobKind discriminates EnrichmentJob variants.
type JobKind string

const (
	JobEnrichISBN        JobKind = "enrich_isbn"
	JobEnrichCover       JobKind = "enrich_cover"
	JobEnrichBibliography JobKind = "enrich_author_bibliography"
	JobBackfillMonth     JobKind = "backfill_month"
)

// Priority is the relative urgency of a cover job.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// EnrichmentJob is the wire shape of a queue message. Only the fields
// relevant to Kind are populated; the rest are zero.
type EnrichmentJob struct {
	Kind JobKind `json:"kind"`

	// EnrichISBN
	ISBN   string `json:"isbn,omitempty"`
	Source string `json:"source,omitempty"`

	// EnrichCover
	WorkKey     string   `json:"work_key,omitempty"`
	ProviderURL string   `json:"provider_url,omitempty"`
	Priority    Priority `json:"priority,omitempty"`

	// EnrichAuthorBibliography
	AuthorName string `json:"author_name,omitempty"`
	MaxPages   int    `json:"max_pages,omitempty"`

	// BackfillMonth
	Year       int `json:"year,omitempty"`
	Month      int `json:"month,omitempty"`
	ResumePage int `json:"resume_page,omitempty"`

	// Metadata.
	AttemptCount   int       `json:"attempt_count"`
	FirstEnqueued  time.Time `json:"first_enqueued"`
}

// Tier classifies a provider's cost/reliability bracket.
type Tier string

const (
	TierPaid Tier = "paid"
	TierFree Tier = "free"
	TierAI   Tier = "ai"
)

// Capability is a named operation a provider may implement.
type Capability string

const (
	CapISBNResolution     Capability = "isbn_resolution"
	CapCoverImages        Capability = "cover_images"
	CapMetadataEnrichment Capability = "metadata_enrichment"
	CapSubjectEnrichment  Capability = "subject_enrichment"
	CapBookGeneration     Capability = "book_generation"
	CapEditionVariants    Capability = "edition_variants"
	CapEnhancedExternalIDs Capability = "enhanced_external_ids"
	CapRatings            Capability = "ratings"
	CapAuthorBibliography Capability = "author_bibliography"
)

// Metadata is the aggregated result of a metadata-enrichment orchestration.
type Metadata struct {
	Title       string
	Subtitle    string
	Publisher   string
	PageCount   int
	Language    string
	PublishedDate string
	ISBN13      string
	AlternateISBN []string
	CoverURL    string
	Description string
	Authors     []string
	Subjects    []string
	ExternalIDs map[string]string
}

// EditionVariant is a single provider-reported alternate edition of a work.
type EditionVariant struct {
	ISBN      string   `json:"isbn"`
	Format    string   `json:"format,omitempty"`
	Language  string   `json:"language,omitempty"`
	Publisher string   `json:"publisher,omitempty"`
	Sources   []string `json:"sources"` // providers that reported this ISBN, highest priority first
}

// GeneratedBook is one AI-generated book suggestion.
type GeneratedBook struct {
	Title       string  `json:"title"`
	Author      string  `json:"author"`
	PublishDate string  `json:"publish_date,omitempty"`
	Confidence  int     `json:"confidence"`
	Source      string  `json:"source"`
}

// Rating is a provider-reported rating summary.
type Rating struct {
	Average    float64 `json:"average"`
	Count      int64   `json:"count"`
	Source     string  `json:"source"`
	Confidence int     `json:"confidence"`
}
