package scheduler

import (
	"context"
	"time"

	"github.com/jukasdrj/alexandria/internal/model"
)

// AuthorSource supplies the next page of author names for a tiered
// bibliography harvest or a Wikidata diversity pass. Implementations
// typically page through the Authors table filtered by tier or by a
// missing Wikidata ID.
type AuthorSource func(ctx context.Context, offset, limit int) ([]string, error)

// monthCursor is the resume state for the monthly-ingestion trigger: the
// (year, month) currently being paged through, plus how far into that
// month's catalog page list the last tick got.
type monthCursor struct {
	Year       int `json:"year"`
	Month      int `json:"month"`
	ResumePage int `json:"resume_page"`
}

// authorCursor is the resume state for a paging author-list trigger
// (bibliography harvest or Wikidata pass): a plain offset into the source's
// ordering, since AuthorSource is assumed stable across calls within a
// single lookback window.
type authorCursor struct {
	Offset int `json:"offset"`
}

// RegisterMonthlyIngestion adds the per-month ingestion trigger (spec.md
// §4.H): walks backward from the current month across lookbackMonths
// months, paging pagesPerMonth pages each, enqueuing one BackfillMonth job
// per page and storing (year, month, resume_page) in the scheduler's cursor
// KV so a multi-month backfill carries across ticks. The cursor lasts only
// as long as that KV does; cmd/alexandriad wires a process-local cache.
func (s *Scheduler) RegisterMonthlyIngestion(interval time.Duration, lookbackMonths, pagesPerMonth int) {
	const cursorKey = "sched:backfill_month"

	s.Register(Trigger{
		Name:     "monthly_ingestion",
		Interval: interval,
		Run: func(ctx context.Context) error {
			if !s.checkHeadroom(ctx, "monthly_ingestion", 1) {
				return nil
			}

			now := time.Now().UTC()
			cur := monthCursor{Year: now.Year(), Month: int(now.Month())}
			s.loadCursor(ctx, cursorKey, &cur)

			if err := s.enqueue(ctx, model.EnrichmentJob{
				Kind:       model.JobBackfillMonth,
				Year:       cur.Year,
				Month:      cur.Month,
				ResumePage: cur.ResumePage,
			}); err != nil {
				return err
			}

			cur.ResumePage++
			if cur.ResumePage >= pagesPerMonth {
				cur.ResumePage = 0
				cur.Year, cur.Month = prevMonth(cur.Year, cur.Month)
				if monthsBack(now, cur.Year, cur.Month) >= lookbackMonths {
					cur = monthCursor{Year: now.Year(), Month: int(now.Month())}
				}
			}
			s.saveCursor(ctx, cursorKey, cur)
			return nil
		},
	})
}

func prevMonth(year, month int) (int, int) {
	month--
	if month < 1 {
		month = 12
		year--
	}
	return year, month
}

func monthsBack(from time.Time, year, month int) int {
	return (from.Year()-year)*12 + (int(from.Month()) - month)
}

// RegisterAuthorBibliographyHarvest adds the tiered author-bibliography
// harvest trigger (spec.md §4.H): pages through authors (highest-priority
// tier first, via the order authors supplies) enqueuing one
// EnrichAuthorBibliography job per author per tick.
func (s *Scheduler) RegisterAuthorBibliographyHarvest(interval time.Duration, authors AuthorSource, pageSize, maxPages int) {
	const cursorKey = "sched:bibliography_harvest"

	s.Register(Trigger{
		Name:     "author_bibliography_harvest",
		Interval: interval,
		Run: func(ctx context.Context) error {
			if !s.checkHeadroom(ctx, "author_bibliography_harvest", pageSize) {
				return nil
			}

			var cur authorCursor
			s.loadCursor(ctx, cursorKey, &cur)

			names, err := authors(ctx, cur.Offset, pageSize)
			if err != nil {
				return err
			}
			if len(names) == 0 {
				cur.Offset = 0 // exhausted the author list; wrap around next tick.
				s.saveCursor(ctx, cursorKey, cur)
				return nil
			}

			for _, name := range names {
				if err := s.enqueue(ctx, model.EnrichmentJob{
					Kind:       model.JobEnrichBibliography,
					AuthorName: name,
					MaxPages:   maxPages,
				}); err != nil {
					return err
				}
			}
			cur.Offset += len(names)
			s.saveCursor(ctx, cursorKey, cur)
			return nil
		},
	})
}

// RegisterWikidataDiversityPass adds the Wikidata diversity-enrichment
// trigger (spec.md §4.H): same paging shape as the bibliography harvest,
// but over authors lacking a Wikidata ID, and tagged via Source so the
// bibliography worker can tell the two job origins apart in analytics.
// EnrichAuthorBibliography jobs have no field reserved specifically for
// this distinction, so Source is reused here the same way the queue
// consumer reuses EnrichmentJob.ISBN for cover jobs (see DESIGN.md).
func (s *Scheduler) RegisterWikidataDiversityPass(interval time.Duration, authors AuthorSource, pageSize int) {
	const cursorKey = "sched:wikidata_diversity"
	const wikidataSource = "wikidata_diversity"

	s.Register(Trigger{
		Name:     "wikidata_diversity_pass",
		Interval: interval,
		Run: func(ctx context.Context) error {
			if !s.checkHeadroom(ctx, "wikidata_diversity_pass", pageSize) {
				return nil
			}

			var cur authorCursor
			s.loadCursor(ctx, cursorKey, &cur)

			names, err := authors(ctx, cur.Offset, pageSize)
			if err != nil {
				return err
			}
			if len(names) == 0 {
				cur.Offset = 0
				s.saveCursor(ctx, cursorKey, cur)
				return nil
			}

			for _, name := range names {
				if err := s.enqueue(ctx, model.EnrichmentJob{
					Kind:       model.JobEnrichBibliography,
					AuthorName: name,
					Source:     wikidataSource,
				}); err != nil {
					return err
				}
			}
			cur.Offset += len(names)
			s.saveCursor(ctx, cursorKey, cur)
			return nil
		},
	})
}
