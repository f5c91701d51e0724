package models

import "time"

// NoteKind distinguishes the two raw sources a note can come from.
type NoteKind string

const (
	// KindBookmark is a highlighted passage, with or without an annotation.
	KindBookmark NoteKind = "bookmark"
	// KindThought is an inline note attached to a specific passage.
	KindThought NoteKind = "thought"
)

// Book is the normalized view of one WeRead book, rebuilt on every sync run.
type Book struct {
	ID          string
	Title       string
	Author      string
	Cover       string
	Category    string
	ISBN        string
	Publisher   string
	PublishDate string
	Synopsis    string
	// Rating is normalized from WeRead's 0-1000 scale to 0-1.
	Rating     float64
	TotalWords int
	// ReadProgress is normalized from WeRead's 0-100 scale to 0-1.
	ReadProgress float64
	Finished     bool
	LastReadTime time.Time
}

// Note is a single reading note. ID is prefixed with the raw source kind
// ("bookmark_" or "review_") so IDs from the two endpoints never collide.
type Note struct {
	ID           string
	BookID       string
	ChapterTitle string
	ChapterUID   int
	Content      string
	Kind         NoteKind
	CreateTime   time.Time
	ColorStyle   int
	Private      bool
}

// Review is a whole-book review, as opposed to an inline thought.
type Review struct {
	ID         string
	BookID     string
	Content    string
	CreateTime time.Time
	Private    bool
	Stars      int
}

// SyncResult is the outcome of processing one book. It is never mutated
// after construction.
type SyncResult struct {
	Success       bool
	BookID        string
	BookTitle     string
	NotesSynced   int
	ReviewsSynced int
	ErrorMessage  string
	NotionPageID  string
}

// Status summarizes both sides of the sync for the caller to render.
type Status struct {
	BooksWithNotes int
	TotalBooks     int
	SyncedBooks    int
	LastCheck      time.Time
}
