package imovirtual

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"imovirtual-scraper/config"
	"imovirtual-scraper/models"
)

func scraperConfig() *config.Config {
	return &config.Config{
		PageSize:      72,
		FailureBudget: 3,
		// LongSleepEvery disabled so tests run instantly.
		LongSleepEvery: 0,
		LongSleep:      time.Millisecond,
	}
}

// fakeFetcher serves canned pages and records which ones were requested.
type fakeFetcher struct {
	fn    func(task models.SearchTask, page int) (string, error)
	pages []int
}

func (f *fakeFetcher) Fetch(_ context.Context, task models.SearchTask, page int) (string, error) {
	f.pages = append(f.pages, page)
	return f.fn(task, page)
}

// fakeParser maps fetched bodies straight to canned results.
type fakeParser struct {
	fn func(html string, page int) (*ParseResult, error)
}

func (p *fakeParser) Parse(html string, page int) (*ParseResult, error) {
	return p.fn(html, page)
}

// memStore collects upserted batches; failures are scriptable per call.
type memStore struct {
	batches [][]models.Listing
	byURL   map[string]models.Listing
	failFor int // fail this many UpsertBatch calls before succeeding
}

func newMemStore() *memStore {
	return &memStore{byURL: make(map[string]models.Listing)}
}

func (m *memStore) UpsertBatch(_ context.Context, listings []models.Listing) error {
	if m.failFor > 0 {
		m.failFor--
		return errors.New("connection refused")
	}
	m.batches = append(m.batches, listings)
	for _, l := range listings {
		m.byURL[l.URL] = l
	}
	return nil
}

// memProgress is an in-memory ProgressStore.
type memProgress struct {
	cursor  *models.PageCursor
	saves   int
	loadErr error
}

func (m *memProgress) Load() (*models.PageCursor, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.cursor == nil {
		return nil, nil
	}
	c := *m.cursor
	return &c, nil
}

func (m *memProgress) Save(cursor *models.PageCursor) error {
	c := *cursor
	m.cursor = &c
	m.saves++
	return nil
}

func listingsPage(page, n int) *ParseResult {
	result := &ParseResult{ElementsFound: n}
	for i := 0; i < n; i++ {
		result.Listings = append(result.Listings, models.Listing{
			Title: fmt.Sprintf("T2 listing %d-%d", page, i),
			URL:   fmt.Sprintf("https://www.imovirtual.com/pt/anuncio/p%d-item%d", page, i),
		})
	}
	return result
}

func singleTask() []models.SearchTask {
	return []models.SearchTask{{
		URL:       "https://www.imovirtual.com/pt/resultados/comprar/apartamento/lisboa/sintra/queluz",
		Distrito:  "Lisboa",
		Concelho:  "Sintra",
		Freguesia: "Queluz",
	}}
}

func TestRunEndsOnEmptyPage(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(_ models.SearchTask, _ int) (string, error) { return "body", nil }}
	parser := &fakeParser{fn: func(_ string, page int) (*ParseResult, error) {
		if page > 2 {
			return &ParseResult{}, nil // natural end of pagination
		}
		return listingsPage(page, 3), nil
	}}
	store := newMemStore()
	progress := &memProgress{}

	s := New(scraperConfig(), newTestLogger(), fetcher, parser, store, progress, nil)
	if err := s.Run(context.Background(), singleTask()); err != nil {
		t.Fatalf("Run: %v (empty page must end the run as success)", err)
	}

	if len(store.byURL) != 6 {
		t.Errorf("stored %d listings; want 6", len(store.byURL))
	}
	// Two page checkpoints plus the task-boundary checkpoint.
	if progress.saves != 3 {
		t.Errorf("progress.saves = %d; want 3", progress.saves)
	}
	if progress.cursor.TaskIndex != 1 {
		t.Errorf("final cursor task index = %d; want 1 (past the only task)", progress.cursor.TaskIndex)
	}
}

func TestRunStampsHierarchyFromTask(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(_ models.SearchTask, _ int) (string, error) { return "body", nil }}
	parser := &fakeParser{fn: func(_ string, page int) (*ParseResult, error) {
		if page > 1 {
			return &ParseResult{}, nil
		}
		return listingsPage(page, 1), nil
	}}
	store := newMemStore()

	s := New(scraperConfig(), newTestLogger(), fetcher, parser, store, &memProgress{}, nil)
	if err := s.Run(context.Background(), singleTask()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var stored models.Listing
	for _, l := range store.byURL {
		stored = l
	}
	if stored.Distrito == nil || *stored.Distrito != "Lisboa" {
		t.Errorf("distrito = %v; want Lisboa", stored.Distrito)
	}
	if stored.Freguesia == nil || *stored.Freguesia != "Queluz" {
		t.Errorf("freguesia = %v; want Queluz", stored.Freguesia)
	}
}

func TestRunResumesFromCursor(t *testing.T) {
	tasks := singleTask()
	fetcher := &fakeFetcher{fn: func(_ models.SearchTask, _ int) (string, error) { return "body", nil }}
	parser := &fakeParser{fn: func(_ string, page int) (*ParseResult, error) {
		if page > 4 {
			return &ParseResult{}, nil
		}
		return listingsPage(page, 2), nil
	}}
	progress := &memProgress{cursor: &models.PageCursor{
		SessionID: "prior-session",
		TaskIndex: 0,
		Page:      3,
		TaskURL:   tasks[0].URL,
	}}

	s := New(scraperConfig(), newTestLogger(), fetcher, parser, newMemStore(), progress, nil)
	if err := s.Run(context.Background(), tasks); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(fetcher.pages) == 0 || fetcher.pages[0] != 3 {
		t.Fatalf("first fetched page = %v; want resume at 3", fetcher.pages)
	}
}

func TestRunCompletedCursorIsNoop(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(_ models.SearchTask, _ int) (string, error) {
		t.Error("a completed workload must not fetch anything")
		return "body", nil
	}}
	parser := &fakeParser{fn: func(_ string, _ int) (*ParseResult, error) {
		return &ParseResult{}, nil
	}}
	// Final state left by a run that finished the whole task list.
	progress := &memProgress{cursor: &models.PageCursor{
		SessionID:  "finished-session",
		TaskIndex:  1,
		Page:       1,
		LineNumber: 2,
	}}

	s := New(scraperConfig(), newTestLogger(), fetcher, parser, newMemStore(), progress, nil)
	if err := s.Run(context.Background(), singleTask()); err != nil {
		t.Fatalf("Run: %v (completed workload must end as success)", err)
	}

	if len(fetcher.pages) != 0 {
		t.Errorf("fetched pages %v; want none without an explicit reset", fetcher.pages)
	}
	// The cursor is only ever rolled back by an explicit reset.
	if progress.saves != 0 {
		t.Errorf("progress.saves = %d; want 0 (cursor must stay at its final state)", progress.saves)
	}
	if progress.cursor.TaskIndex != 1 {
		t.Errorf("cursor task index = %d; want 1 (unchanged)", progress.cursor.TaskIndex)
	}
}

func TestRunDiscardsMismatchedCursor(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(_ models.SearchTask, _ int) (string, error) { return "body", nil }}
	parser := &fakeParser{fn: func(_ string, _ int) (*ParseResult, error) {
		return &ParseResult{}, nil
	}}
	progress := &memProgress{cursor: &models.PageCursor{
		TaskIndex: 0,
		Page:      9,
		TaskURL:   "https://www.imovirtual.com/pt/resultados/comprar/apartamento/porto/gaia",
	}}

	s := New(scraperConfig(), newTestLogger(), fetcher, parser, newMemStore(), progress, nil)
	if err := s.Run(context.Background(), singleTask()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The checkpoint belongs to a different task list: start over at page 1.
	if fetcher.pages[0] != 1 {
		t.Errorf("first fetched page = %d; want 1", fetcher.pages[0])
	}
}

func TestRunFetchExhaustedAbortsWithoutCheckpoint(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(task models.SearchTask, page int) (string, error) {
		return "", &FetchExhaustedError{Page: page, URL: task.URL, Err: errors.New("status 500")}
	}}
	parser := &fakeParser{fn: func(_ string, _ int) (*ParseResult, error) {
		t.Fatal("parser must not run when the fetch failed")
		return nil, nil
	}}
	progress := &memProgress{}

	s := New(scraperConfig(), newTestLogger(), fetcher, parser, newMemStore(), progress, nil)
	err := s.Run(context.Background(), singleTask())

	var exhausted *FetchExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v; want *FetchExhaustedError", err)
	}
	if progress.saves != 0 {
		t.Errorf("progress.saves = %d; want 0 (no checkpoint for a failed page)", progress.saves)
	}
}

func TestRunPersistenceFailureRetriesThenBudgetAborts(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(_ models.SearchTask, _ int) (string, error) { return "body", nil }}
	parser := &fakeParser{fn: func(_ string, page int) (*ParseResult, error) {
		return listingsPage(page, 1), nil
	}}
	store := newMemStore()
	store.failFor = 99 // the database never comes back
	progress := &memProgress{}

	s := New(scraperConfig(), newTestLogger(), fetcher, parser, store, progress, nil)
	err := s.Run(context.Background(), singleTask())

	if !errors.Is(err, ErrFailureBudgetExceeded) {
		t.Fatalf("err = %v; want ErrFailureBudgetExceeded", err)
	}
	// The same page is retried until the budget runs out, never advancing.
	if len(fetcher.pages) != 3 {
		t.Fatalf("fetched pages %v; want page 1 fetched 3 times", fetcher.pages)
	}
	for _, p := range fetcher.pages {
		if p != 1 {
			t.Errorf("fetched page %d; the checkpoint must not advance past a failed page", p)
		}
	}
	if progress.saves != 0 {
		t.Errorf("progress.saves = %d; want 0", progress.saves)
	}
}

func TestRunRecoversFromSinglePersistenceFailure(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(_ models.SearchTask, _ int) (string, error) { return "body", nil }}

	// Return distinct URLs per parse call so the in-run duplicate filter
	// does not hide the retried page.
	calls := 0
	parser := &fakeParser{fn: func(_ string, page int) (*ParseResult, error) {
		if page > 1 {
			return &ParseResult{}, nil
		}
		calls++
		result := &ParseResult{ElementsFound: 1}
		result.Listings = append(result.Listings, models.Listing{
			Title: "T1 retried",
			URL:   fmt.Sprintf("https://www.imovirtual.com/pt/anuncio/retry-%d", calls),
		})
		return result, nil
	}}
	store := newMemStore()
	store.failFor = 1
	progress := &memProgress{}

	s := New(scraperConfig(), newTestLogger(), fetcher, parser, store, progress, nil)
	if err := s.Run(context.Background(), singleTask()); err != nil {
		t.Fatalf("Run: %v (one persistence failure is under budget)", err)
	}
	if len(store.batches) != 1 {
		t.Errorf("stored %d batches; want 1 after the retry succeeded", len(store.batches))
	}
	if progress.cursor == nil || progress.saves < 2 {
		t.Errorf("expected page and task-boundary checkpoints, got %d saves", progress.saves)
	}
}

func TestRunSkipsDuplicateURLsWithinRun(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(_ models.SearchTask, _ int) (string, error) { return "body", nil }}
	parser := &fakeParser{fn: func(_ string, page int) (*ParseResult, error) {
		if page > 2 {
			return &ParseResult{}, nil
		}
		// The same promoted listing shows up on both pages.
		return &ParseResult{
			ElementsFound: 1,
			Listings: []models.Listing{{
				Title: "Promoted repeat",
				URL:   "https://www.imovirtual.com/pt/anuncio/promoted-1",
			}},
		}, nil
	}}
	store := newMemStore()

	s := New(scraperConfig(), newTestLogger(), fetcher, parser, store, &memProgress{}, nil)
	if err := s.Run(context.Background(), singleTask()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.byURL) != 1 {
		t.Errorf("stored %d unique listings; want 1", len(store.byURL))
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	fetcher := &fakeFetcher{fn: func(_ models.SearchTask, page int) (string, error) {
		if page == 2 {
			cancel()
		}
		return "body", nil
	}}
	parser := &fakeParser{fn: func(_ string, page int) (*ParseResult, error) {
		return listingsPage(page, 1), nil
	}}

	s := New(scraperConfig(), newTestLogger(), fetcher, parser, newMemStore(), &memProgress{}, nil)
	err := s.Run(ctx, singleTask())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v; want context.Canceled", err)
	}
}
