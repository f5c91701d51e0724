// Package notion writes the normalized WeRead library into a Notion
// database: one page per book, found by its Book ID property, created on
// first sight and patched plus appended to afterwards.
package notion

import (
	"context"
	"fmt"
	"time"

	"github.com/jomei/notionapi"
	"github.com/luwenchao/weread2notion/internal/logger"
	"github.com/luwenchao/weread2notion/internal/models"
	"github.com/luwenchao/weread2notion/internal/ratelimit"
)

// Property names of the bookshelf database schema.
const (
	propTitle      = "Title"
	propAuthor     = "Author"
	propBookID     = "Book ID"
	propCategory   = "Category"
	propProgress   = "Progress"
	propRating     = "Rating"
	propFinished   = "Finished"
	propLastRead   = "Last Read"
	propCover      = "Cover"
	propAuthorLink = "Author Link"

	// Title property of the author database.
	propAuthorName = "Name"
)

const databaseTitle = "📚 WeRead Library"

// unknownAuthor is WeRead's placeholder for books without author metadata.
// It never gets an author page.
const unknownAuthor = "未知作者"

// Config carries the already-validated parameters for a client.
// AuthorDatabaseID is optional; without it books carry the author as plain
// text instead of a relation.
type Config struct {
	Token            string
	DatabaseID       string
	AuthorDatabaseID string
}

// Client wraps the Notion API client. Every call goes through a 3 req/s
// rate limiter, which is what the Notion API tolerates per integration.
type Client struct {
	client           NotionClient
	databaseID       notionapi.DatabaseID
	authorDatabaseID notionapi.DatabaseID
	limiter          ratelimit.Limiter
	now              func() time.Time
}

// New creates a client talking to the real Notion API.
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("notion: api token is empty")
	}
	return NewWithClient(newNotionClientAdapter(notionapi.NewClient(notionapi.Token(cfg.Token))), cfg), nil
}

// NewWithClient creates a client over an injected NotionClient.
func NewWithClient(nc NotionClient, cfg Config) *Client {
	return &Client{
		client:           nc,
		databaseID:       notionapi.DatabaseID(cfg.DatabaseID),
		authorDatabaseID: notionapi.DatabaseID(cfg.AuthorDatabaseID),
		limiter:          ratelimit.NewWindow(3, time.Second),
		now:              time.Now,
	}
}

// DatabaseID returns the bookshelf database the client writes to.
func (c *Client) DatabaseID() string {
	return string(c.databaseID)
}

// FindBookPage looks up the page for a book by its Book ID property.
// Returns nil without error when no page matches.
func (c *Client) FindBookPage(ctx context.Context, bookID string) (*notionapi.Page, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.client.Database().Query(ctx, c.databaseID, &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: propBookID,
			RichText: &notionapi.TextFilterCondition{
				Equals: bookID,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("notion: query book page: %w", err)
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}
	return &resp.Results[0], nil
}

// CreateBookPage creates the page for a book with its full property set and
// initial content: cover, synopsis, notes grouped by chapter, reviews.
func (c *Client) CreateBookPage(ctx context.Context, book *models.Book, notes []models.Note, reviews []models.Review) (*notionapi.Page, error) {
	logger.Debug("Creating book page", map[string]interface{}{
		"book_id": book.ID,
		"title":   book.Title,
	})

	authorID := c.resolveAuthor(ctx, book.Author)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	page, err := c.client.Page().Create(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       "database_id",
			DatabaseID: c.databaseID,
		},
		Properties: c.createProperties(book, authorID),
		Children:   buildBookContent(book, notes, reviews),
	})
	if err != nil {
		return nil, &RemoteWriteError{Op: "create book page", Err: err}
	}

	logger.Info("Created book page", map[string]interface{}{
		"book_id": book.ID,
		"title":   book.Title,
		"page_id": string(page.ID),
	})
	return page, nil
}

// UpdateBookPage patches the mutable properties of an existing page and
// appends any new notes and reviews as additional content blocks. Appending
// is additive: running it twice adds the blocks twice.
func (c *Client) UpdateBookPage(ctx context.Context, pageID string, book *models.Book, notes []models.Note, reviews []models.Review) error {
	logger.Debug("Updating book page", map[string]interface{}{
		"book_id": book.ID,
		"page_id": pageID,
	})

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := c.client.Page().Update(ctx, notionapi.PageID(pageID), &notionapi.PageUpdateRequest{
		Properties: c.updateProperties(book),
	})
	if err != nil {
		return &RemoteWriteError{Op: "update book page", Err: err}
	}

	if len(notes) == 0 && len(reviews) == 0 {
		return nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err = c.client.Block().AppendChildren(ctx, notionapi.BlockID(pageID), &notionapi.AppendBlockChildrenRequest{
		Children: buildUpdateContent(c.now(), notes, reviews),
	})
	if err != nil {
		return &RemoteWriteError{Op: "append book content", Err: err}
	}
	return nil
}

// ListBooks returns every page of the bookshelf database.
func (c *Client) ListBooks(ctx context.Context) ([]notionapi.Page, error) {
	var pages []notionapi.Page
	var cursor notionapi.Cursor
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		resp, err := c.client.Database().Query(ctx, c.databaseID, &notionapi.DatabaseQueryRequest{
			StartCursor: cursor,
		})
		if err != nil {
			return nil, fmt.Errorf("notion: list books: %w", err)
		}
		pages = append(pages, resp.Results...)
		if !resp.HasMore {
			return pages, nil
		}
		cursor = resp.NextCursor
	}
}

// FindOrCreateAuthor looks up an author page by exact name and creates it if
// absent. Blank and placeholder names resolve to no page, as does a client
// without an author database configured.
func (c *Client) FindOrCreateAuthor(ctx context.Context, name string) (notionapi.PageID, error) {
	if c.authorDatabaseID == "" || name == "" || name == unknownAuthor {
		return "", nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	resp, err := c.client.Database().Query(ctx, c.authorDatabaseID, &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: propAuthorName,
			RichText: &notionapi.TextFilterCondition{
				Equals: name,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("notion: query author: %w", err)
	}
	if len(resp.Results) > 0 {
		return notionapi.PageID(resp.Results[0].ID), nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	page, err := c.client.Page().Create(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       "database_id",
			DatabaseID: c.authorDatabaseID,
		},
		Properties: notionapi.Properties{
			propAuthorName: notionapi.TitleProperty{
				Title: richText(name),
			},
		},
	})
	if err != nil {
		return "", &RemoteWriteError{Op: "create author page", Err: err}
	}
	return notionapi.PageID(page.ID), nil
}

// resolveAuthor is FindOrCreateAuthor with failures downgraded to a log
// line: the author relation is enrichment, not worth failing a book over.
func (c *Client) resolveAuthor(ctx context.Context, name string) notionapi.PageID {
	authorID, err := c.FindOrCreateAuthor(ctx, name)
	if err != nil {
		logger.Warn("Failed to resolve author, continuing without relation", map[string]interface{}{
			"author": name,
			"error":  err.Error(),
		})
		return ""
	}
	return authorID
}

// CreateDatabaseIfAbsent provisions the bookshelf database under the given
// parent page, reusing an existing database with the same title if one is
// found. The client is rebound to the resulting database either way.
func (c *Client) CreateDatabaseIfAbsent(ctx context.Context, parentPageID string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	results, err := c.client.Search().Do(ctx, &notionapi.SearchRequest{
		Query: databaseTitle,
		Filter: notionapi.SearchFilter{
			Property: "object",
			Value:    "database",
		},
	})
	if err != nil {
		return "", fmt.Errorf("notion: search for existing database: %w", err)
	}
	for _, result := range results.Results {
		if db, ok := result.(*notionapi.Database); ok {
			if len(db.Title) > 0 && db.Title[0].Text != nil && db.Title[0].Text.Content == databaseTitle {
				c.databaseID = notionapi.DatabaseID(db.ID)
				return string(c.databaseID), nil
			}
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	db, err := c.client.Database().Create(ctx, &notionapi.DatabaseCreateRequest{
		Parent: notionapi.Parent{
			Type:   "page_id",
			PageID: notionapi.PageID(parentPageID),
		},
		Title:      richText(databaseTitle),
		Properties: c.databaseSchema(),
	})
	if err != nil {
		return "", &RemoteWriteError{Op: "create database", Err: err}
	}

	c.databaseID = notionapi.DatabaseID(db.ID)
	logger.Info("Created bookshelf database", map[string]interface{}{
		"database_id": string(c.databaseID),
	})
	return string(c.databaseID), nil
}

func (c *Client) databaseSchema() notionapi.PropertyConfigs {
	schema := notionapi.PropertyConfigs{
		propTitle: notionapi.TitlePropertyConfig{
			Type:  "title",
			Title: struct{}{},
		},
		propAuthor: notionapi.RichTextPropertyConfig{
			Type:     "rich_text",
			RichText: struct{}{},
		},
		propBookID: notionapi.RichTextPropertyConfig{
			Type:     "rich_text",
			RichText: struct{}{},
		},
		propCategory: notionapi.SelectPropertyConfig{
			Type: "select",
			Select: notionapi.Select{
				Options: []notionapi.Option{
					{Name: "小说", Color: "blue"},
					{Name: "非虚构", Color: "green"},
					{Name: "技术", Color: "orange"},
					{Name: "历史", Color: "purple"},
					{Name: "哲学", Color: "red"},
					{Name: "科学", Color: "yellow"},
					{Name: "传记", Color: "pink"},
					{Name: "其他", Color: "gray"},
				},
			},
		},
		propProgress: notionapi.NumberPropertyConfig{
			Type:   "number",
			Number: notionapi.NumberFormat{Format: notionapi.FormatPercent},
		},
		propRating: notionapi.NumberPropertyConfig{
			Type:   "number",
			Number: notionapi.NumberFormat{Format: notionapi.FormatNumber},
		},
		propFinished: notionapi.CheckboxPropertyConfig{
			Type:     "checkbox",
			Checkbox: struct{}{},
		},
		propLastRead: notionapi.DatePropertyConfig{
			Type: "date",
			Date: struct{}{},
		},
		propCover: notionapi.FilesPropertyConfig{
			Type:  "files",
			Files: struct{}{},
		},
	}
	if c.authorDatabaseID != "" {
		schema[propAuthorLink] = notionapi.RelationPropertyConfig{
			Type: "relation",
			Relation: notionapi.RelationConfig{
				DatabaseID: c.authorDatabaseID,
			},
		}
	}
	return schema
}

// createProperties is the full property set used when a page is first made.
func (c *Client) createProperties(book *models.Book, authorID notionapi.PageID) notionapi.Properties {
	props := notionapi.Properties{
		propTitle: notionapi.TitleProperty{
			Title: richText(book.Title),
		},
		propAuthor: notionapi.RichTextProperty{
			RichText: richText(book.Author),
		},
		propBookID: notionapi.RichTextProperty{
			RichText: richText(book.ID),
		},
		propProgress: notionapi.NumberProperty{
			Number: book.ReadProgress,
		},
		propRating: notionapi.NumberProperty{
			Number: book.Rating,
		},
		propFinished: notionapi.CheckboxProperty{
			Checkbox: book.Finished,
		},
	}
	if book.Category != "" {
		props[propCategory] = notionapi.SelectProperty{
			Select: notionapi.Option{Name: book.Category},
		}
	}
	if !book.LastReadTime.IsZero() {
		lastRead := notionapi.Date(book.LastReadTime)
		props[propLastRead] = notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &lastRead},
		}
	}
	if book.Cover != "" {
		props[propCover] = notionapi.FilesProperty{
			Files: []notionapi.File{
				{
					Name:     "cover",
					Type:     "external",
					External: &notionapi.FileObject{URL: book.Cover},
				},
			},
		}
	}
	if authorID != "" {
		props[propAuthorLink] = notionapi.RelationProperty{
			Relation: []notionapi.Relation{{ID: authorID}},
		}
	}
	return props
}

// updateProperties is the subset patched on every later run: everything
// that moves as the user keeps reading.
func (c *Client) updateProperties(book *models.Book) notionapi.Properties {
	props := notionapi.Properties{
		propProgress: notionapi.NumberProperty{
			Number: book.ReadProgress,
		},
		propFinished: notionapi.CheckboxProperty{
			Checkbox: book.Finished,
		},
	}
	if !book.LastReadTime.IsZero() {
		lastRead := notionapi.Date(book.LastReadTime)
		props[propLastRead] = notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &lastRead},
		}
	}
	return props
}
