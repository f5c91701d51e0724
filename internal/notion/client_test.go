package notion_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luwenchao/weread2notion/internal/models"
	"github.com/luwenchao/weread2notion/internal/notion"
	"github.com/luwenchao/weread2notion/internal/notion/mock_notion"
)

type mocks struct {
	client   *mock_notion.MockNotionClient
	page     *mock_notion.MockPageService
	search   *mock_notion.MockSearchService
	block    *mock_notion.MockBlockService
	database *mock_notion.MockDatabaseService
}

func newMocks(ctrl *gomock.Controller) *mocks {
	m := &mocks{
		client:   mock_notion.NewMockNotionClient(ctrl),
		page:     mock_notion.NewMockPageService(ctrl),
		search:   mock_notion.NewMockSearchService(ctrl),
		block:    mock_notion.NewMockBlockService(ctrl),
		database: mock_notion.NewMockDatabaseService(ctrl),
	}
	m.client.EXPECT().Page().Return(m.page).AnyTimes()
	m.client.EXPECT().Search().Return(m.search).AnyTimes()
	m.client.EXPECT().Block().Return(m.block).AnyTimes()
	m.client.EXPECT().Database().Return(m.database).AnyTimes()
	return m
}

func sampleBook() *models.Book {
	return &models.Book{
		ID:           "b1",
		Title:        "Deep Work",
		Author:       "Cal Newport",
		Cover:        "https://example.com/cover.jpg",
		Category:     "非虚构",
		Synopsis:     "Rules for focused success.",
		Rating:       0.85,
		ReadProgress: 0.55,
		Finished:     false,
		LastReadTime: time.Unix(1700000000, 0),
	}
}

func TestNewRequiresToken(t *testing.T) {
	_, err := notion.New(notion.Config{DatabaseID: "db1"})
	assert.Error(t, err)
}

func TestFindBookPage(t *testing.T) {
	ctx := context.Background()

	tests := map[string]struct {
		response *notionapi.DatabaseQueryResponse
		wantID   notionapi.ObjectID
		wantNil  bool
	}{
		"Found": {
			response: &notionapi.DatabaseQueryResponse{
				Results: []notionapi.Page{{Object: "page", ID: "page_1"}},
			},
			wantID: "page_1",
		},
		"Not found": {
			response: &notionapi.DatabaseQueryResponse{},
			wantNil:  true,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			m := newMocks(ctrl)
			client := notion.NewWithClient(m.client, notion.Config{DatabaseID: "db1"})

			m.database.EXPECT().
				Query(ctx, notionapi.DatabaseID("db1"), gomock.Any()).
				DoAndReturn(func(_ context.Context, _ notionapi.DatabaseID, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
					filter, ok := req.Filter.(notionapi.PropertyFilter)
					require.True(t, ok)
					assert.Equal(t, "Book ID", filter.Property)
					require.NotNil(t, filter.RichText)
					assert.Equal(t, "b1", filter.RichText.Equals)
					return tt.response, nil
				})

			page, err := client.FindBookPage(ctx, "b1")
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, page)
			} else {
				require.NotNil(t, page)
				assert.Equal(t, tt.wantID, page.ID)
			}
		})
	}
}

func TestCreateBookPage(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	m := newMocks(ctrl)
	client := notion.NewWithClient(m.client, notion.Config{DatabaseID: "db1"})

	book := sampleBook()
	notes := []models.Note{
		{ID: "bookmark_m1", BookID: "b1", ChapterTitle: "Chapter One", Kind: models.KindBookmark, Content: "first highlight"},
		{ID: "bookmark_m2", BookID: "b1", ChapterTitle: "Chapter One", Kind: models.KindBookmark, Content: "second highlight"},
	}
	reviews := []models.Review{
		{ID: "review_r1", BookID: "b1", Content: "a fine book", Stars: 5},
	}

	var captured *notionapi.PageCreateRequest
	m.page.EXPECT().
		Create(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
			captured = req
			return &notionapi.Page{Object: "page", ID: "page_1"}, nil
		})

	page, err := client.CreateBookPage(ctx, book, notes, reviews)
	require.NoError(t, err)
	assert.Equal(t, notionapi.ObjectID("page_1"), page.ID)

	require.NotNil(t, captured)
	assert.Equal(t, notionapi.DatabaseID("db1"), captured.Parent.DatabaseID)

	title := captured.Properties["Title"].(notionapi.TitleProperty)
	assert.Equal(t, "Deep Work", title.Title[0].Text.Content)
	bookID := captured.Properties["Book ID"].(notionapi.RichTextProperty)
	assert.Equal(t, "b1", bookID.RichText[0].Text.Content)
	progress := captured.Properties["Progress"].(notionapi.NumberProperty)
	assert.Equal(t, 0.55, progress.Number)
	rating := captured.Properties["Rating"].(notionapi.NumberProperty)
	assert.Equal(t, 0.85, rating.Number)
	finished := captured.Properties["Finished"].(notionapi.CheckboxProperty)
	assert.False(t, finished.Checkbox)
	assert.NotContains(t, captured.Properties, "Author Link",
		"no relation without an author database")

	// cover image, synopsis heading + paragraph, notes heading, one chapter
	// heading, two callouts, reviews heading, one quote
	assert.Len(t, captured.Children, 9)
}

func TestUpdateBookPage(t *testing.T) {
	ctx := context.Background()

	t.Run("With new content", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		m := newMocks(ctrl)
		client := notion.NewWithClient(m.client, notion.Config{DatabaseID: "db1"})

		m.page.EXPECT().
			Update(ctx, notionapi.PageID("page_1"), gomock.Any()).
			DoAndReturn(func(_ context.Context, _ notionapi.PageID, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
				assert.Contains(t, req.Properties, "Progress")
				assert.Contains(t, req.Properties, "Finished")
				assert.NotContains(t, req.Properties, "Title",
					"immutable properties are not patched")
				return &notionapi.Page{Object: "page", ID: "page_1"}, nil
			})

		var appended *notionapi.AppendBlockChildrenRequest
		m.block.EXPECT().
			AppendChildren(ctx, notionapi.BlockID("page_1"), gomock.Any()).
			DoAndReturn(func(_ context.Context, _ notionapi.BlockID, req *notionapi.AppendBlockChildrenRequest) (*notionapi.AppendBlockChildrenResponse, error) {
				appended = req
				return &notionapi.AppendBlockChildrenResponse{}, nil
			})

		notes := []models.Note{
			{ID: "review_r2", ChapterTitle: "Chapter Two", Kind: models.KindThought, Content: "a thought"},
		}
		err := client.UpdateBookPage(ctx, "page_1", sampleBook(), notes, nil)
		require.NoError(t, err)

		// divider, timestamp, notes heading, one callout
		require.NotNil(t, appended)
		assert.Len(t, appended.Children, 4)
	})

	t.Run("Properties only", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		m := newMocks(ctrl)
		client := notion.NewWithClient(m.client, notion.Config{DatabaseID: "db1"})

		m.page.EXPECT().
			Update(ctx, notionapi.PageID("page_1"), gomock.Any()).
			Return(&notionapi.Page{Object: "page", ID: "page_1"}, nil)

		err := client.UpdateBookPage(ctx, "page_1", sampleBook(), nil, nil)
		require.NoError(t, err)
	})

	t.Run("Rejected write", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		m := newMocks(ctrl)
		client := notion.NewWithClient(m.client, notion.Config{DatabaseID: "db1"})

		m.page.EXPECT().
			Update(ctx, notionapi.PageID("page_1"), gomock.Any()).
			Return(nil, errors.New("validation failed"))

		err := client.UpdateBookPage(ctx, "page_1", sampleBook(), nil, nil)
		var writeErr *notion.RemoteWriteError
		require.ErrorAs(t, err, &writeErr)
	})
}

func TestFindOrCreateAuthor(t *testing.T) {
	ctx := context.Background()

	t.Run("Existing author is reused", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		m := newMocks(ctrl)
		client := notion.NewWithClient(m.client, notion.Config{DatabaseID: "db1", AuthorDatabaseID: "authors"})

		m.database.EXPECT().
			Query(ctx, notionapi.DatabaseID("authors"), gomock.Any()).
			Return(&notionapi.DatabaseQueryResponse{
				Results: []notionapi.Page{{Object: "page", ID: "author_1"}},
			}, nil)

		id, err := client.FindOrCreateAuthor(ctx, "Cal Newport")
		require.NoError(t, err)
		assert.Equal(t, notionapi.PageID("author_1"), id)
	})

	t.Run("Missing author is created", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		m := newMocks(ctrl)
		client := notion.NewWithClient(m.client, notion.Config{DatabaseID: "db1", AuthorDatabaseID: "authors"})

		m.database.EXPECT().
			Query(ctx, notionapi.DatabaseID("authors"), gomock.Any()).
			Return(&notionapi.DatabaseQueryResponse{}, nil)
		m.page.EXPECT().
			Create(ctx, gomock.Any()).
			DoAndReturn(func(_ context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
				assert.Equal(t, notionapi.DatabaseID("authors"), req.Parent.DatabaseID)
				name := req.Properties["Name"].(notionapi.TitleProperty)
				assert.Equal(t, "Cal Newport", name.Title[0].Text.Content)
				return &notionapi.Page{Object: "page", ID: "author_2"}, nil
			})

		id, err := client.FindOrCreateAuthor(ctx, "Cal Newport")
		require.NoError(t, err)
		assert.Equal(t, notionapi.PageID("author_2"), id)
	})

	t.Run("Blank and placeholder names resolve to nothing", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		m := newMocks(ctrl)
		client := notion.NewWithClient(m.client, notion.Config{DatabaseID: "db1", AuthorDatabaseID: "authors"})

		for _, name := range []string{"", "未知作者"} {
			id, err := client.FindOrCreateAuthor(ctx, name)
			require.NoError(t, err)
			assert.Empty(t, id)
		}
	})

	t.Run("No author database configured", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		m := newMocks(ctrl)
		client := notion.NewWithClient(m.client, notion.Config{DatabaseID: "db1"})

		id, err := client.FindOrCreateAuthor(ctx, "Cal Newport")
		require.NoError(t, err)
		assert.Empty(t, id)
	})
}

func TestCreateDatabaseIfAbsent(t *testing.T) {
	ctx := context.Background()

	t.Run("Existing database is reused", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		m := newMocks(ctrl)
		client := notion.NewWithClient(m.client, notion.Config{})

		m.search.EXPECT().
			Do(ctx, gomock.Any()).
			Return(&notionapi.SearchResponse{
				Results: []notionapi.Object{
					&notionapi.Database{
						Object: "database",
						ID:     "db_existing",
						Title: []notionapi.RichText{
							{Text: &notionapi.Text{Content: "📚 WeRead Library"}},
						},
					},
				},
			}, nil)

		id, err := client.CreateDatabaseIfAbsent(ctx, "parent_1")
		require.NoError(t, err)
		assert.Equal(t, "db_existing", id)
		assert.Equal(t, "db_existing", client.DatabaseID())
	})

	t.Run("Database is created when absent", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		m := newMocks(ctrl)
		client := notion.NewWithClient(m.client, notion.Config{})

		m.search.EXPECT().
			Do(ctx, gomock.Any()).
			Return(&notionapi.SearchResponse{}, nil)
		m.database.EXPECT().
			Create(ctx, gomock.Any()).
			DoAndReturn(func(_ context.Context, req *notionapi.DatabaseCreateRequest) (*notionapi.Database, error) {
				assert.Equal(t, notionapi.PageID("parent_1"), req.Parent.PageID)
				assert.Contains(t, req.Properties, "Title")
				assert.Contains(t, req.Properties, "Book ID")
				assert.Contains(t, req.Properties, "Progress")
				assert.Contains(t, req.Properties, "Cover")
				return &notionapi.Database{Object: "database", ID: "db_new"}, nil
			})

		id, err := client.CreateDatabaseIfAbsent(ctx, "parent_1")
		require.NoError(t, err)
		assert.Equal(t, "db_new", id)
		assert.Equal(t, "db_new", client.DatabaseID())
	})
}
