// Package weread is a typed client for the WeRead web API. All requests go
// through a shared rate limiter and an exponential-backoff retry loop, with
// randomized delays so the traffic does not look scripted.
package weread

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/luwenchao/weread2notion/internal/logger"
	"github.com/luwenchao/weread2notion/internal/ratelimit"
)

const (
	defaultBaseURL = "https://weread.qq.com"

	pathNotebooks    = "/api/user/notebook"
	pathBookInfo     = "/api/book/info"
	pathBookmarks    = "/web/book/bookmarklist"
	pathChapterInfos = "/web/book/chapterInfos"
	pathReviewList   = "/web/review/list"
	pathReadProgress = "/web/book/getProgress"
	pathShelfSync    = "/web/shelf/sync"
	pathBestReviews  = "/web/review/list/best"
)

const (
	// ReviewTypeBook marks a whole-book review in the review list, as
	// opposed to an inline thought attached to a passage.
	ReviewTypeBook = 4
	// ReviewChapterUID is a synthetic chapter UID, out of range of any real
	// chapter, that groups whole-book reviews under a review pseudo-chapter.
	ReviewChapterUID = 1000000
)

// BookStub is one entry of the shelf or notebook listing. Notebook entries
// nest the book metadata under "book"; shelf entries carry it at the top
// level. ListNotebooks flattens the nested form.
type BookStub struct {
	BookID    string    `json:"bookId"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	Cover     string    `json:"cover"`
	NoteCount int       `json:"noteCount,omitempty"`
	Book      *BookMeta `json:"book,omitempty"`
}

// BookMeta is the nested book object of a notebook entry.
type BookMeta struct {
	BookID string `json:"bookId"`
	Title  string `json:"title"`
	Author string `json:"author"`
	Cover  string `json:"cover"`
}

// BookDetail is the raw book/info response.
type BookDetail struct {
	BookID        string `json:"bookId"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	Cover         string `json:"cover"`
	Category      string `json:"category"`
	ISBN          string `json:"isbn"`
	Publisher     string `json:"publisher"`
	PublishTime   string `json:"publishTime"`
	Intro         string `json:"intro"`
	NewRating     int    `json:"newRating"`
	TotalWords    int    `json:"totalWords"`
	FinishReading int    `json:"finishReading"`
}

// ReadProgress is the raw getProgress response. Progress is on a 0-100 scale.
type ReadProgress struct {
	Progress       int   `json:"progress"`
	ReadingTime    int   `json:"readingTime"`
	ReadUpdateTime int64 `json:"readUpdateTime"`
}

// Bookmark is one highlighted passage.
type Bookmark struct {
	BookmarkID string `json:"bookmarkId"`
	ChapterUID int    `json:"chapterUid"`
	MarkText   string `json:"markText"`
	CreateTime int64  `json:"createTime"`
	ColorStyle int    `json:"colorStyle"`
	IsPrivate  int    `json:"isPrivate"`
}

// Review is one entry of the review list. Type is ReviewTypeBook for
// whole-book reviews; anything else is an inline thought.
type Review struct {
	ReviewID   string `json:"reviewId"`
	Type       int    `json:"type"`
	ChapterUID int    `json:"chapterUid"`
	Content    string `json:"content"`
	CreateTime int64  `json:"createTime"`
	IsPrivate  int    `json:"isPrivate"`
	StarCount  int    `json:"starCount"`
}

// Chapter is one chapter of a book.
type Chapter struct {
	ChapterUID int    `json:"chapterUid"`
	ChapterIdx int    `json:"chapterIdx"`
	Title      string `json:"title"`
	Level      int    `json:"level"`
	UpdateTime int64  `json:"updateTime"`
	ReadAhead  int    `json:"readAhead"`
}

// Client is a WeRead API client bound to one session cookie.
type Client struct {
	httpClient *http.Client
	baseURL    string
	cookie     string
	limiter    ratelimit.Limiter
	maxRetries int

	// Injection points for tests.
	sleep     func(context.Context, time.Duration) error
	randFloat func() float64
}

// New creates a client for the given session cookie. The default rate limit
// of 5 requests per minute matches what WeRead tolerates from web clients.
func New(cookie string) (*Client, error) {
	if cookie == "" {
		return nil, fmt.Errorf("weread: session cookie is empty")
	}
	return &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    defaultBaseURL,
		cookie:     cookie,
		limiter:    ratelimit.NewWindow(5, time.Minute),
		maxRetries: 3,
		sleep:      sleepContext,
		randFloat:  rand.Float64,
	}, nil
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

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Cookie", c.cookie)
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/135.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Sec-Fetch-Dest", "empty")
	req.Header.Set("Sec-Fetch-Mode", "cors")
	req.Header.Set("Sec-Fetch-Site", "same-origin")
}

// request performs one API call with rate limiting, jitter and retries.
// A SessionExpiredError is surfaced immediately: retrying a dead session
// would only burn the retry budget.
func (c *Client) request(ctx context.Context, method, path string, query url.Values, body interface{}) ([]byte, error) {
	fullURL := c.baseURL + path

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			// Full exponential backoff with jitter: 2^n + uniform(1,3)s.
			secs := math.Pow(2, float64(attempt-1)) + 1 + 2*c.randFloat()
			wait := time.Duration(secs * float64(time.Second))
			logger.Debug("Retrying request", map[string]interface{}{
				"url":     fullURL,
				"attempt": attempt + 1,
				"wait":    wait.String(),
			})
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
		}

		data, err := c.attempt(ctx, method, fullURL, query, body)
		if err == nil {
			return data, nil
		}
		var sessionErr *SessionExpiredError
		if errors.As(err, &sessionErr) {
			return nil, err
		}
		lastErr = err
	}

	return nil, &TransportError{URL: fullURL, Attempts: c.maxRetries, Err: lastErr}
}

func (c *Client) attempt(ctx context.Context, method, fullURL string, query url.Values, body interface{}) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	// Uniform 0.5-1.5s pause so the request timing does not look scripted.
	jitter := time.Duration((0.5 + c.randFloat()) * float64(time.Second))
	if err := c.sleep(ctx, jitter); err != nil {
		return nil, err
	}

	q := url.Values{}
	for k, vs := range query {
		q[k] = vs
	}
	if method == http.MethodGet {
		// Cache buster.
		q.Set("_", strconv.FormatInt(time.Now().UnixMilli(), 10))
	}

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("weread: encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, err
	}
	if len(q) > 0 {
		req.URL.RawQuery = q.Encode()
	}
	c.setHeaders(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("weread: unexpected status %s", resp.Status)
	}

	// Some endpoints return bare arrays; the envelope check only applies
	// when the body is an object.
	var env struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if json.Unmarshal(data, &env) == nil && env.ErrCode != 0 {
		switch env.ErrCode {
		case errCodeSessionExpired, errCodeSessionKicked:
			return nil, &SessionExpiredError{Code: env.ErrCode}
		default:
			return nil, &APIError{Code: env.ErrCode, Msg: env.ErrMsg}
		}
	}

	return data, nil
}

// VisitHomepage primes the session by loading the WeRead landing page.
// It bypasses the rate limiter and retry loop; failures are logged only,
// matching how little the result matters.
func (c *Client) VisitHomepage(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return
	}
	c.setHeaders(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Debug("Homepage visit failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// ListNotebooks returns the books that have at least one note.
func (c *Client) ListNotebooks(ctx context.Context) ([]BookStub, error) {
	data, err := c.request(ctx, http.MethodGet, pathNotebooks, nil, nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Books []BookStub `json:"books"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("weread: decode notebook list: %w", err)
	}
	for i := range payload.Books {
		flattenStub(&payload.Books[i])
	}
	return payload.Books, nil
}

// flattenStub promotes nested notebook metadata to the top-level fields.
func flattenStub(stub *BookStub) {
	if stub.Book == nil {
		return
	}
	if stub.BookID == "" {
		stub.BookID = stub.Book.BookID
	}
	if stub.Title == "" {
		stub.Title = stub.Book.Title
	}
	if stub.Author == "" {
		stub.Author = stub.Book.Author
	}
	if stub.Cover == "" {
		stub.Cover = stub.Book.Cover
	}
}

// ListShelf returns every book on the shelf, with or without notes.
func (c *Client) ListShelf(ctx context.Context) ([]BookStub, error) {
	data, err := c.request(ctx, http.MethodGet, pathShelfSync, nil, nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Books []BookStub `json:"books"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("weread: decode shelf: %w", err)
	}
	return payload.Books, nil
}

// GetBookDetail fetches the metadata of one book.
func (c *Client) GetBookDetail(ctx context.Context, bookID string) (*BookDetail, error) {
	query := url.Values{"bookId": {bookID}}
	data, err := c.request(ctx, http.MethodGet, pathBookInfo, query, nil)
	if err != nil {
		return nil, err
	}
	detail := &BookDetail{}
	if err := json.Unmarshal(data, detail); err != nil {
		return nil, fmt.Errorf("weread: decode book detail: %w", err)
	}
	return detail, nil
}

// GetReadProgress fetches the reading progress of one book.
func (c *Client) GetReadProgress(ctx context.Context, bookID string) (*ReadProgress, error) {
	query := url.Values{"bookId": {bookID}}
	data, err := c.request(ctx, http.MethodGet, pathReadProgress, query, nil)
	if err != nil {
		return nil, err
	}
	progress := &ReadProgress{}
	if err := json.Unmarshal(data, progress); err != nil {
		return nil, fmt.Errorf("weread: decode read progress: %w", err)
	}
	return progress, nil
}

// GetBookmarks fetches the highlights of one book. Entries missing their
// text or chapter reference are dropped.
func (c *Client) GetBookmarks(ctx context.Context, bookID string) ([]Bookmark, error) {
	query := url.Values{"bookId": {bookID}}
	data, err := c.request(ctx, http.MethodGet, pathBookmarks, query, nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Updated []Bookmark `json:"updated"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("weread: decode bookmark list: %w", err)
	}
	bookmarks := payload.Updated[:0]
	for _, mark := range payload.Updated {
		if mark.MarkText == "" || mark.ChapterUID == 0 {
			continue
		}
		bookmarks = append(bookmarks, mark)
	}
	return bookmarks, nil
}

type reviewWrapper struct {
	Review *Review `json:"review"`
}

// GetReviews fetches the review list of one book. The endpoint serves both
// inline thoughts and whole-book reviews; whole-book entries get the
// synthetic review chapter UID so they group under the review pseudo-chapter.
func (c *Client) GetReviews(ctx context.Context, bookID string) ([]Review, error) {
	query := url.Values{
		"bookId":   {bookID},
		"listType": {"4"},
		"maxIdx":   {"0"},
		"count":    {"0"},
		"listMode": {"2"},
		"syncKey":  {"0"},
	}
	data, err := c.request(ctx, http.MethodGet, pathReviewList, query, nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Reviews []reviewWrapper `json:"reviews"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("weread: decode review list: %w", err)
	}

	reviews := make([]Review, 0, len(payload.Reviews))
	for _, wrapper := range payload.Reviews {
		if wrapper.Review == nil {
			continue
		}
		review := *wrapper.Review
		if review.Type == ReviewTypeBook {
			review.ChapterUID = ReviewChapterUID
		}
		reviews = append(reviews, review)
	}
	return reviews, nil
}

// GetBestReviews fetches the public popular reviews of a book.
func (c *Client) GetBestReviews(ctx context.Context, bookID string, count, maxIdx, syncKey int) ([]Review, error) {
	query := url.Values{
		"bookId":  {bookID},
		"synckey": {strconv.Itoa(syncKey)},
		"maxIdx":  {strconv.Itoa(maxIdx)},
		"count":   {strconv.Itoa(count)},
	}
	data, err := c.request(ctx, http.MethodGet, pathBestReviews, query, nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Reviews []reviewWrapper `json:"reviews"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("weread: decode best reviews: %w", err)
	}
	reviews := make([]Review, 0, len(payload.Reviews))
	for _, wrapper := range payload.Reviews {
		if wrapper.Review != nil {
			reviews = append(reviews, *wrapper.Review)
		}
	}
	return reviews, nil
}
