package imovirtual

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"imovirtual-scraper/config"
	"imovirtual-scraper/location"
	"imovirtual-scraper/models"
	"imovirtual-scraper/utils"
)

// Fetcher retrieves one listing-index page.
type Fetcher interface {
	Fetch(ctx context.Context, task models.SearchTask, page int) (string, error)
}

// Parser extracts listings from one page of markup.
type Parser interface {
	Parse(html string, page int) (*ParseResult, error)
}

// ListingStore persists one page's listings, deduplicating by URL.
type ListingStore interface {
	UpsertBatch(ctx context.Context, listings []models.Listing) error
}

// ProgressStore durably tracks the last fully processed page.
type ProgressStore interface {
	Load() (*models.PageCursor, error)
	Save(cursor *models.PageCursor) error
}

// RawExporter optionally mirrors each page's parsed rows to a side channel
// (CSV) before the database write.
type RawExporter interface {
	WriteRaw(listings []models.Listing) error
}

// Scraper drives the page loop: fetch → parse → resolve → persist →
// checkpoint, strictly sequentially. A page's checkpoint is only advanced
// once every listing on it has been durably upserted; that ordering is what
// makes an interrupted run resumable.
type Scraper struct {
	cfg      *config.Config
	logger   *utils.Logger
	fetcher  Fetcher
	parser   Parser
	store    ListingStore
	progress ProgressStore
	exporter RawExporter // may be nil

	seen *utils.URLSet
}

// New creates a ready-to-use Scraper. exporter may be nil when no raw
// export is configured.
func New(cfg *config.Config, logger *utils.Logger, fetcher Fetcher, parser Parser,
	store ListingStore, progress ProgressStore, exporter RawExporter) *Scraper {
	return &Scraper{
		cfg:      cfg,
		logger:   logger,
		fetcher:  fetcher,
		parser:   parser,
		store:    store,
		progress: progress,
		exporter: exporter,
		seen:     utils.NewURLSet(),
	}
}

// Run processes every task in order, resuming from the stored cursor when
// one exists. It returns nil when pagination is exhausted for all tasks and
// an error when the run must abort: fetch retries exhausted, the consecutive
// page failure budget spent, or the context cancelled.
func (s *Scraper) Run(ctx context.Context, tasks []models.SearchTask) error {
	if len(tasks) == 0 {
		return errors.New("imovirtual: no search tasks to run")
	}

	cursor, done := s.resumePoint(tasks)
	if done {
		s.logger.Info("[scraper] checkpoint shows all %d tasks completed — nothing to do (run with -reset to scrape again)", len(tasks))
		return nil
	}
	startTask, startPage := cursor.TaskIndex, cursor.Page

	s.logger.Info("[scraper] session %s — %d tasks, resuming at task %d page %d",
		cursor.SessionID, len(tasks), startTask+1, startPage)

	totalListings := 0
	pagesSession := 0
	consecutiveFailures := 0

	for i := startTask; i < len(tasks); i++ {
		task := tasks[i]
		page := 1
		if i == startTask {
			page = startPage
		}

		s.logger.Info("[scraper] [%d/%d] %s > %s > %s",
			i+1, len(tasks), task.Distrito, task.Concelho, task.Freguesia)

		for {
			if err := ctx.Err(); err != nil {
				return err
			}

			if s.cfg.LongSleepEvery > 0 && pagesSession > 0 && pagesSession%s.cfg.LongSleepEvery == 0 {
				s.logger.Info("[scraper] long cooldown: %v after %d pages", s.cfg.LongSleep, pagesSession)
				if err := sleepCtx(ctx, s.cfg.LongSleep); err != nil {
					return err
				}
			}

			count, err := s.processPage(ctx, cursor, task, i, page)
			if errors.Is(err, ErrEndOfResults) {
				s.logger.Info("[scraper] task %d: page %d empty — moving on", i+1, page)
				break
			}
			if err != nil {
				var exhausted *FetchExhaustedError
				if errors.As(err, &exhausted) || errors.Is(err, context.Canceled) ||
					errors.Is(err, context.DeadlineExceeded) {
					return err
				}

				// Persistence (or strict-parse) failure: the checkpoint was
				// not advanced, so the same page is retried until the budget
				// runs out.
				consecutiveFailures++
				s.logger.Error("[scraper] page %d failed (%d/%d consecutive): %v",
					page, consecutiveFailures, s.cfg.FailureBudget, err)
				if consecutiveFailures >= s.cfg.FailureBudget {
					return fmt.Errorf("%w: last error on task %d page %d: %v",
						ErrFailureBudgetExceeded, i+1, page, err)
				}
				continue
			}

			consecutiveFailures = 0
			pagesSession++
			totalListings += count
			s.logger.Info("[scraper] task %d page %d: +%d listings (session total %d)",
				i+1, page, count, totalListings)
			page++
		}

		// Task finished: point the cursor at the next task so a restart does
		// not replay completed freguesias.
		s.advanceToNextTask(cursor, tasks, i)
	}

	s.logger.Info("[scraper] done — %d pages, %d listings this session", pagesSession, totalListings)
	return nil
}

// processPage runs one page through the pipeline and advances the
// checkpoint. It returns the number of listings persisted, ErrEndOfResults
// at the natural end of pagination, or an error when the page failed.
func (s *Scraper) processPage(ctx context.Context, cursor *models.PageCursor,
	task models.SearchTask, taskIndex, page int) (int, error) {

	html, err := s.fetcher.Fetch(ctx, task, page)
	if err != nil {
		return 0, err
	}

	result, err := s.parser.Parse(html, page)
	if err != nil {
		return 0, fmt.Errorf("parse page %d: %w", page, err)
	}

	if result.ElementsFound == 0 {
		return 0, ErrEndOfResults
	}

	if len(result.Listings) == 0 {
		// Elements were present but none survived parsing. Not the same as
		// an empty page; policy is configurable.
		if s.cfg.StrictParse {
			return 0, fmt.Errorf("page %d: all %d listing elements unparseable", page, result.ElementsFound)
		}
		s.logger.Warn("[scraper] page %d: all %d listing elements unparseable — skipping page", page, result.ElementsFound)
	}

	listings := s.resolveBatch(result.Listings, task)

	if s.exporter != nil && len(listings) > 0 {
		if exportErr := s.exporter.WriteRaw(listings); exportErr != nil {
			s.logger.Warn("[scraper] raw export failed: %v", exportErr)
		}
	}

	if len(listings) > 0 {
		if err := s.store.UpsertBatch(ctx, listings); err != nil {
			return 0, fmt.Errorf("persist page %d: %w", page, err)
		}
	}

	cursor.TaskIndex = taskIndex
	cursor.Page = page
	cursor.TaskURL = task.URL
	cursor.LineNumber = taskIndex + 1
	if err := s.progress.Save(cursor); err != nil {
		// An unsaved checkpoint would silently replay pages after a crash;
		// treat it like a persistence failure.
		return 0, fmt.Errorf("checkpoint page %d: %w", page, err)
	}

	// Only now mark the page's URLs as seen: if the upsert or checkpoint had
	// failed, the retry of this page must process them again.
	for _, l := range listings {
		s.seen.Add(l.URL)
	}

	return len(listings), nil
}

// resolveBatch stamps each listing with the geographic hierarchy and drops
// in-run duplicates (the source repeats promoted listings across pages).
func (s *Scraper) resolveBatch(listings []models.Listing, task models.SearchTask) []models.Listing {
	out := make([]models.Listing, 0, len(listings))
	batch := utils.NewURLSet()
	for _, l := range listings {
		if s.seen.Contains(l.URL) || !batch.Add(l.URL) {
			s.logger.Debug("[scraper] duplicate within run skipped: %s", l.URL)
			continue
		}

		hierarchy := taskHierarchy(task)
		if hierarchy.Distrito == nil && hierarchy.Concelho == nil {
			// Nationwide search URLs carry no geography; fall back to the
			// card's human-readable location string.
			hierarchy = location.FromRawLocation(l.RawLocation)
		}
		l.Distrito = hierarchy.Distrito
		l.Concelho = hierarchy.Concelho
		l.Freguesia = hierarchy.Freguesia

		out = append(out, l)
	}
	return out
}

// resumePoint loads the stored cursor or starts a fresh session. A cursor
// saved for a different task list (URL mismatch at the stored index) is
// discarded rather than trusted. A cursor past the end of the task list
// means a previous run finished the whole workload: done is true and the
// cursor is left untouched, so re-scraping always requires an explicit
// reset.
func (s *Scraper) resumePoint(tasks []models.SearchTask) (cursor *models.PageCursor, done bool) {
	fresh := &models.PageCursor{
		SessionID:  uuid.New().String(),
		TaskIndex:  0,
		Page:       1,
		LineNumber: 1,
	}

	cursor, err := s.progress.Load()
	if err != nil {
		s.logger.Warn("[scraper] unreadable checkpoint, starting fresh: %v", err)
		return fresh, false
	}
	if cursor == nil {
		return fresh, false
	}
	if cursor.TaskIndex >= len(tasks) {
		return cursor, true
	}
	if cursor.TaskURL != "" && cursor.TaskURL != tasks[cursor.TaskIndex].URL {
		s.logger.Warn("[scraper] checkpoint URL %s does not match task %d — starting fresh",
			cursor.TaskURL, cursor.TaskIndex+1)
		return fresh, false
	}
	if cursor.SessionID == "" {
		cursor.SessionID = fresh.SessionID
	}
	if cursor.Page < 1 {
		cursor.Page = 1
	}
	return cursor, false
}

func (s *Scraper) advanceToNextTask(cursor *models.PageCursor, tasks []models.SearchTask, finished int) {
	cursor.TaskIndex = finished + 1
	cursor.Page = 1
	cursor.TaskURL = ""
	cursor.LineNumber = finished + 2
	if cursor.TaskIndex < len(tasks) {
		cursor.TaskURL = tasks[cursor.TaskIndex].URL
	}
	if err := s.progress.Save(cursor); err != nil {
		s.logger.Warn("[scraper] could not checkpoint task boundary: %v", err)
	}
}

func taskHierarchy(task models.SearchTask) location.Hierarchy {
	var h location.Hierarchy
	if known(task.Distrito) {
		d := task.Distrito
		h.Distrito = &d
	}
	if known(task.Concelho) {
		c := task.Concelho
		h.Concelho = &c
	}
	if known(task.Freguesia) {
		f := task.Freguesia
		h.Freguesia = &f
	}
	return h
}

func known(level string) bool {
	return level != "" && level != "Unknown"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
