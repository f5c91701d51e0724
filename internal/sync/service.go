// Package sync drives the one-way reconciliation of a WeRead library into
// Notion: fetch, normalize, then create or update one page per book.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jomei/notionapi"

	"github.com/luwenchao/weread2notion/internal/logger"
	"github.com/luwenchao/weread2notion/internal/models"
	"github.com/luwenchao/weread2notion/internal/weread"
)

// fallbackChapter labels notes whose chapter UID resolves to nothing.
const fallbackChapter = "Unknown Chapter"

// SourceClient is the slice of the WeRead client the engine consumes.
type SourceClient interface {
	ListNotebooks(ctx context.Context) ([]weread.BookStub, error)
	ListShelf(ctx context.Context) ([]weread.BookStub, error)
	GetBookDetail(ctx context.Context, bookID string) (*weread.BookDetail, error)
	GetReadProgress(ctx context.Context, bookID string) (*weread.ReadProgress, error)
	GetBookmarks(ctx context.Context, bookID string) ([]weread.Bookmark, error)
	GetReviews(ctx context.Context, bookID string) ([]weread.Review, error)
	GetChapters(ctx context.Context, bookID string) (map[int]weread.Chapter, error)
}

// TargetClient is the slice of the Notion client the engine consumes.
type TargetClient interface {
	FindBookPage(ctx context.Context, bookID string) (*notionapi.Page, error)
	CreateBookPage(ctx context.Context, book *models.Book, notes []models.Note, reviews []models.Review) (*notionapi.Page, error)
	UpdateBookPage(ctx context.Context, pageID string, book *models.Book, notes []models.Note, reviews []models.Review) error
	ListBooks(ctx context.Context) ([]notionapi.Page, error)
}

// Service is the reconciliation engine. Books are processed strictly one at
// a time: the find-then-create check against Notion is not atomic, so
// concurrent workers could both miss the lookup and create duplicate pages.
type Service struct {
	source SourceClient
	target TargetClient

	interBookDelay time.Duration

	// Injection points for tests.
	sleep func(context.Context, time.Duration) error
	now   func() time.Time
}

// New creates a sync service over the two clients.
func New(source SourceClient, target TargetClient) *Service {
	return &Service{
		source:         source,
		target:         target,
		interBookDelay: time.Second,
		sleep:          sleepContext,
		now:            time.Now,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type bookEntry struct {
	stub     weread.BookStub
	hasNotes bool
}

// mergeBookSets unions the notebook and shelf listings by book ID. Notebook
// entries win and keep hasNotes set; notebook-only books (already removed
// from the shelf) are retained.
func mergeBookSets(notebooks, shelf []weread.BookStub) []bookEntry {
	entries := make([]bookEntry, 0, len(notebooks)+len(shelf))
	seen := make(map[string]bool, len(notebooks))
	for _, stub := range notebooks {
		if stub.BookID == "" || seen[stub.BookID] {
			continue
		}
		seen[stub.BookID] = true
		entries = append(entries, bookEntry{stub: stub, hasNotes: true})
	}
	for _, stub := range shelf {
		if stub.BookID == "" || seen[stub.BookID] {
			continue
		}
		seen[stub.BookID] = true
		entries = append(entries, bookEntry{stub: stub})
	}
	return entries
}

// SyncAll reconciles the whole library. One book's failure never aborts the
// batch; the run always returns a result per processed book. The one
// exception is an expired session, which dooms every remaining request, so
// the loop stops instead of grinding through the rest.
func (s *Service) SyncAll(ctx context.Context) ([]models.SyncResult, error) {
	logger.Info("Starting library sync", nil)

	notebooks, err := s.source.ListNotebooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list notebooks: %w", err)
	}
	shelf, err := s.source.ListShelf(ctx)
	if err != nil {
		return nil, fmt.Errorf("list shelf: %w", err)
	}

	entries := mergeBookSets(notebooks, shelf)
	logger.Info("Prepared book set", map[string]interface{}{
		"with_notes": len(notebooks),
		"on_shelf":   len(shelf),
		"to_sync":    len(entries),
	})

	results := make([]models.SyncResult, 0, len(entries))
	for i, entry := range entries {
		logger.Info(fmt.Sprintf("Syncing book %d/%d", i+1, len(entries)), map[string]interface{}{
			"book_id": entry.stub.BookID,
			"title":   entry.stub.Title,
		})

		result, err := s.SyncBook(ctx, entry.stub.BookID, entry.hasNotes)
		if result.BookTitle == "" {
			result.BookTitle = entry.stub.Title
		}
		results = append(results, result)

		if result.Success {
			logger.Info("Book synced", map[string]interface{}{
				"title":   result.BookTitle,
				"notes":   result.NotesSynced,
				"reviews": result.ReviewsSynced,
			})
		} else {
			logger.Error("Book sync failed", err, map[string]interface{}{
				"book_id": result.BookID,
				"title":   result.BookTitle,
			})
		}

		var sessionErr *weread.SessionExpiredError
		if errors.As(err, &sessionErr) {
			logger.Error("Session expired, aborting remaining books", err, map[string]interface{}{
				"remaining": len(entries) - i - 1,
			})
			break
		}

		if i < len(entries)-1 {
			if err := s.sleep(ctx, s.interBookDelay); err != nil {
				return results, err
			}
		}
	}

	logTotals(results)
	return results, nil
}

// SyncBook reconciles one book. The returned error is the cause behind a
// failed result, for callers that need to inspect it; the result itself
// already carries the message.
func (s *Service) SyncBook(ctx context.Context, bookID string, hasNotes bool) (models.SyncResult, error) {
	detail, err := s.source.GetBookDetail(ctx, bookID)
	if err != nil {
		return failedResult(bookID, "", err), err
	}
	progress, err := s.source.GetReadProgress(ctx, bookID)
	if err != nil {
		return failedResult(bookID, detail.Title, err), err
	}
	book := buildBook(detail, progress)

	var notes []models.Note
	var reviews []models.Review
	if hasNotes {
		bookmarks, err := s.source.GetBookmarks(ctx, bookID)
		if err != nil {
			return failedResult(bookID, book.Title, err), err
		}
		rawReviews, err := s.source.GetReviews(ctx, bookID)
		if err != nil {
			return failedResult(bookID, book.Title, err), err
		}
		chapters, err := s.source.GetChapters(ctx, bookID)
		if err != nil {
			return failedResult(bookID, book.Title, err), err
		}
		notes = buildNotes(bookID, bookmarks, rawReviews, chapters)
		reviews = buildReviews(bookID, rawReviews)
	}

	page, err := s.target.FindBookPage(ctx, bookID)
	if err != nil {
		return failedResult(bookID, book.Title, err), err
	}

	var pageID string
	if page != nil {
		pageID = string(page.ID)
		if err := s.target.UpdateBookPage(ctx, pageID, book, notes, reviews); err != nil {
			return failedResult(bookID, book.Title, err), err
		}
	} else {
		created, err := s.target.CreateBookPage(ctx, book, notes, reviews)
		if err != nil {
			return failedResult(bookID, book.Title, err), err
		}
		pageID = string(created.ID)
	}

	return models.SyncResult{
		Success:       true,
		BookID:        bookID,
		BookTitle:     book.Title,
		NotesSynced:   len(notes),
		ReviewsSynced: len(reviews),
		NotionPageID:  pageID,
	}, nil
}

// SyncBookByID reconciles one book, first checking the notebook list to see
// whether it carries notes.
func (s *Service) SyncBookByID(ctx context.Context, bookID string) (models.SyncResult, error) {
	notebooks, err := s.source.ListNotebooks(ctx)
	if err != nil {
		return failedResult(bookID, "", err), err
	}
	hasNotes := false
	for _, stub := range notebooks {
		if stub.BookID == bookID {
			hasNotes = true
			break
		}
	}
	return s.SyncBook(ctx, bookID, hasNotes)
}

// Status reports how much there is to sync and how much already made it.
func (s *Service) Status(ctx context.Context) (*models.Status, error) {
	notebooks, err := s.source.ListNotebooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list notebooks: %w", err)
	}
	shelf, err := s.source.ListShelf(ctx)
	if err != nil {
		return nil, fmt.Errorf("list shelf: %w", err)
	}
	pages, err := s.target.ListBooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list synced books: %w", err)
	}
	return &models.Status{
		BooksWithNotes: len(notebooks),
		TotalBooks:     len(shelf),
		SyncedBooks:    len(pages),
		LastCheck:      s.now(),
	}, nil
}

func failedResult(bookID, title string, err error) models.SyncResult {
	return models.SyncResult{
		BookID:       bookID,
		BookTitle:    title,
		ErrorMessage: err.Error(),
	}
}

func logTotals(results []models.SyncResult) {
	succeeded, notes, reviews := 0, 0, 0
	for _, result := range results {
		if result.Success {
			succeeded++
		}
		notes += result.NotesSynced
		reviews += result.ReviewsSynced
	}
	logger.Info("Sync completed", map[string]interface{}{
		"succeeded": succeeded,
		"failed":    len(results) - succeeded,
		"notes":     notes,
		"reviews":   reviews,
	})
}

// buildBook normalizes raw detail and progress into the domain model.
// Ratings arrive on a 0-1000 scale and progress on a 0-100 scale; both are
// mapped to 0-1.
func buildBook(detail *weread.BookDetail, progress *weread.ReadProgress) *models.Book {
	book := &models.Book{
		ID:          detail.BookID,
		Title:       detail.Title,
		Author:      detail.Author,
		Cover:       detail.Cover,
		Category:    detail.Category,
		ISBN:        detail.ISBN,
		Publisher:   detail.Publisher,
		PublishDate: detail.PublishTime,
		Synopsis:    detail.Intro,
		TotalWords:  detail.TotalWords,
		Finished:    detail.FinishReading == 1,
	}
	if detail.NewRating > 0 {
		book.Rating = float64(detail.NewRating) / 1000
	}
	if progress.Progress > 0 {
		book.ReadProgress = float64(progress.Progress) / 100
	}
	if progress.ReadUpdateTime > 0 {
		book.LastReadTime = time.Unix(progress.ReadUpdateTime, 0)
	}
	return book
}

func chapterTitle(chapters map[int]weread.Chapter, uid int) string {
	if chapter, ok := chapters[uid]; ok && chapter.Title != "" {
		return chapter.Title
	}
	return fallbackChapter
}

// buildNotes turns bookmarks and inline thoughts into Notes. The ID prefix
// records which raw source an entry came from, so a bookmark and a thought
// sharing a numeric ID still get distinct identities.
func buildNotes(bookID string, bookmarks []weread.Bookmark, reviews []weread.Review, chapters map[int]weread.Chapter) []models.Note {
	notes := make([]models.Note, 0, len(bookmarks)+len(reviews))
	for _, mark := range bookmarks {
		notes = append(notes, models.Note{
			ID:           "bookmark_" + mark.BookmarkID,
			BookID:       bookID,
			ChapterTitle: chapterTitle(chapters, mark.ChapterUID),
			ChapterUID:   mark.ChapterUID,
			Content:      mark.MarkText,
			Kind:         models.KindBookmark,
			CreateTime:   time.Unix(mark.CreateTime, 0),
			ColorStyle:   mark.ColorStyle,
			Private:      mark.IsPrivate != 0,
		})
	}
	for _, review := range reviews {
		if review.Type == weread.ReviewTypeBook {
			continue
		}
		notes = append(notes, models.Note{
			ID:           "review_" + review.ReviewID,
			BookID:       bookID,
			ChapterTitle: chapterTitle(chapters, review.ChapterUID),
			ChapterUID:   review.ChapterUID,
			Content:      review.Content,
			Kind:         models.KindThought,
			CreateTime:   time.Unix(review.CreateTime, 0),
			Private:      review.IsPrivate != 0,
		})
	}
	return notes
}

// buildReviews extracts the whole-book reviews from the raw review list.
func buildReviews(bookID string, reviews []weread.Review) []models.Review {
	var out []models.Review
	for _, review := range reviews {
		if review.Type != weread.ReviewTypeBook {
			continue
		}
		out = append(out, models.Review{
			ID:         "review_" + review.ReviewID,
			BookID:     bookID,
			Content:    review.Content,
			CreateTime: time.Unix(review.CreateTime, 0),
			Private:    review.IsPrivate != 0,
			Stars:      review.StarCount,
		})
	}
	return out
}
