package weread

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLimiter struct{}

func (nopLimiter) Wait(context.Context) error { return nil }

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := New("wr_skey=test")
	require.NoError(t, err)
	c.baseURL = srv.URL
	c.httpClient = srv.Client()
	c.limiter = nopLimiter{}
	c.sleep = func(context.Context, time.Duration) error { return nil }
	c.randFloat = func() float64 { return 0 }
	return c
}

func TestNewRequiresCookie(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestRequestRetriesThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"books":[{"bookId":"b1","title":"T1"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	c.maxRetries = 5

	var sleeps []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	books, err := c.ListShelf(context.Background())
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "b1", books[0].BookID)
	assert.EqualValues(t, 4, hits.Load())

	// With randFloat pinned to 0 the per-attempt jitter is 0.5s, so
	// anything longer is a backoff wait. Three failures means exactly
	// three backoffs, each longer than the one before.
	var backoffs []time.Duration
	for _, d := range sleeps {
		if d > time.Second {
			backoffs = append(backoffs, d)
		}
	}
	require.Len(t, backoffs, 3)
	assert.Equal(t, 2*time.Second, backoffs[0])
	assert.Equal(t, 3*time.Second, backoffs[1])
	assert.Equal(t, 5*time.Second, backoffs[2])
}

func TestRequestExhaustsRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.ListShelf(context.Background())

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, 3, transportErr.Attempts)
	assert.EqualValues(t, 3, hits.Load())
}

func TestRequestSurfacesSessionExpiredWithoutRetry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"errcode":-2012,"errmsg":"session expired"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.ListNotebooks(context.Background())

	var sessionErr *SessionExpiredError
	require.ErrorAs(t, err, &sessionErr)
	assert.Equal(t, -2012, sessionErr.Code)
	assert.EqualValues(t, 1, hits.Load(), "a dead session must not be retried")
}

func TestRequestMapsApplicationErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errcode":-1001,"errmsg":"bad request"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.ListNotebooks(context.Background())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, -1001, apiErr.Code)
	assert.Equal(t, "bad request", apiErr.Msg)
}

func TestRequestAddsCacheBusterToGets(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"books":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.ListShelf(context.Background())
	require.NoError(t, err)
	assert.Contains(t, gotQuery, "_=")
}

func TestListNotebooksFlattensNestedBook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"books":[{"bookId":"b1","noteCount":3,"book":{"bookId":"b1","title":"Deep Work","author":"Cal Newport"}}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	books, err := c.ListNotebooks(context.Background())
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "Deep Work", books[0].Title)
	assert.Equal(t, "Cal Newport", books[0].Author)
}

func TestGetBookmarksFiltersMalformedEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"updated":[
			{"bookmarkId":"m1","chapterUid":3,"markText":"a passage"},
			{"bookmarkId":"m2","chapterUid":3,"markText":""},
			{"bookmarkId":"m3","markText":"orphaned"}
		]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	bookmarks, err := c.GetBookmarks(context.Background(), "b1")
	require.NoError(t, err)
	require.Len(t, bookmarks, 1)
	assert.Equal(t, "m1", bookmarks[0].BookmarkID)
}

func TestGetReviewsTagsWholeBookReviews(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"reviews":[
			{"review":{"reviewId":"r1","type":1,"chapterUid":7,"content":"a thought"}},
			{"review":{"reviewId":"r2","type":4,"content":"a whole-book review","starCount":5}},
			{}
		]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	reviews, err := c.GetReviews(context.Background(), "b1")
	require.NoError(t, err)
	require.Len(t, reviews, 2)
	assert.Equal(t, 7, reviews[0].ChapterUID)
	assert.Equal(t, ReviewChapterUID, reviews[1].ChapterUID)
}

func TestGetBestReviewsPassesWindowParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "10", q.Get("count"))
		assert.Equal(t, "20", q.Get("maxIdx"))
		assert.Equal(t, "3", q.Get("synckey"))
		w.Write([]byte(`{"reviews":[{"review":{"reviewId":"r1","content":"popular","starCount":4}}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	reviews, err := c.GetBestReviews(context.Background(), "b1", 10, 20, 3)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, 4, reviews[0].StarCount)
}

func TestGetChaptersNormalizesAllKnownShapes(t *testing.T) {
	shapes := map[string]string{
		"data envelope":      `{"data":[{"updated":[{"chapterUid":1,"title":"One"},{"chapterUid":2,"title":"Two"}]}]}`,
		"updated envelope":   `{"updated":[{"chapterUid":1,"title":"One"},{"chapterUid":2,"title":"Two"}]}`,
		"array of envelopes": `[{"updated":[{"chapterUid":1,"title":"One"},{"chapterUid":2,"title":"Two"}]}]`,
		"bare chapter array": `[{"chapterUid":1,"title":"One"},{"chapterUid":2,"title":"Two"}]`,
	}

	for name, body := range shapes {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				switch r.URL.Path {
				case "/":
					w.Write([]byte("ok"))
				case pathNotebooks:
					w.Write([]byte(`{"books":[]}`))
				case pathChapterInfos:
					w.Write([]byte(body))
				default:
					t.Errorf("unexpected path %s", r.URL.Path)
				}
			}))
			defer srv.Close()

			c := newTestClient(t, srv)
			chapters, err := c.GetChapters(context.Background(), "b1")
			require.NoError(t, err)
			require.Len(t, chapters, 3)
			assert.Equal(t, "One", chapters[1].Title)
			assert.Equal(t, "Two", chapters[2].Title)
			assert.Equal(t, "Reviews", chapters[ReviewChapterUID].Title)
		})
	}
}

func TestGetChaptersWarmUpOrder(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case pathNotebooks:
			w.Write([]byte(`{"books":[]}`))
		case pathChapterInfos:
			w.Write([]byte(`{"updated":[{"chapterUid":1,"title":"One"}]}`))
		default:
			w.Write([]byte("ok"))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.GetChapters(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, []string{"/", pathNotebooks, pathChapterInfos}, paths)
}

func TestGetChaptersRejectsUnknownShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case pathNotebooks:
			w.Write([]byte(`{"books":[]}`))
		case pathChapterInfos:
			w.Write([]byte(`{"synckey":42}`))
		default:
			w.Write([]byte("ok"))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.GetChapters(context.Background(), "b1")

	var shapeErr *UnexpectedShapeError
	require.ErrorAs(t, err, &shapeErr)
}
