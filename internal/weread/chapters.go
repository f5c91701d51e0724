package weread

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// chapterMatcher tries to read a chapter list out of one known response
// envelope. The chapterInfos endpoint has been observed to answer in at
// least four different shapes depending on session state.
type chapterMatcher func(data []byte) ([]Chapter, bool)

var chapterMatchers = []chapterMatcher{
	matchDataEnvelope,
	matchUpdatedEnvelope,
	matchEnvelopeArray,
	matchBareChapterArray,
}

// {"data": [{"updated": [...]}]}
func matchDataEnvelope(data []byte) ([]Chapter, bool) {
	var payload struct {
		Data []struct {
			Updated []Chapter `json:"updated"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, false
	}
	if len(payload.Data) != 1 || len(payload.Data[0].Updated) == 0 {
		return nil, false
	}
	return payload.Data[0].Updated, true
}

// {"updated": [...]}
func matchUpdatedEnvelope(data []byte) ([]Chapter, bool) {
	var payload struct {
		Updated []Chapter `json:"updated"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, false
	}
	if len(payload.Updated) == 0 {
		return nil, false
	}
	return payload.Updated, true
}

// [{"updated": [...]}]
func matchEnvelopeArray(data []byte) ([]Chapter, bool) {
	var payload []struct {
		Updated []Chapter `json:"updated"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, false
	}
	if len(payload) == 0 || len(payload[0].Updated) == 0 {
		return nil, false
	}
	return payload[0].Updated, true
}

// [{"chapterUid": ...}, ...]
func matchBareChapterArray(data []byte) ([]Chapter, bool) {
	var chapters []Chapter
	if err := json.Unmarshal(data, &chapters); err != nil {
		return nil, false
	}
	if len(chapters) == 0 || chapters[0].ChapterUID == 0 {
		return nil, false
	}
	return chapters, true
}

// reviewChapter is the synthetic pseudo-chapter whole-book reviews resolve
// to, so reviews always have a valid chapter title downstream.
func reviewChapter() Chapter {
	return Chapter{
		ChapterUID: ReviewChapterUID,
		ChapterIdx: ReviewChapterUID,
		Title:      "Reviews",
		Level:      1,
		UpdateTime: 1683825006,
	}
}

// GetChapters fetches the chapter metadata of one book, keyed by chapter UID.
//
// The endpoint only answers reliably after a warm-up sequence: load the
// homepage, list the notebooks, then pause for a randomized moment. This is
// a hard constraint of the remote API, not pacing. Skipping any step makes
// the response shape unpredictable.
func (c *Client) GetChapters(ctx context.Context, bookID string) (map[int]Chapter, error) {
	c.VisitHomepage(ctx)
	if _, err := c.ListNotebooks(ctx); err != nil {
		return nil, err
	}
	delay := time.Duration((1 + 2*c.randFloat()) * float64(time.Second))
	if err := c.sleep(ctx, delay); err != nil {
		return nil, err
	}

	body := map[string][]string{"bookIds": {bookID}}
	data, err := c.request(ctx, http.MethodPost, pathChapterInfos, nil, body)
	if err != nil {
		return nil, err
	}

	var chapters []Chapter
	matched := false
	for _, match := range chapterMatchers {
		if chapters, matched = match(data); matched {
			break
		}
	}
	if !matched {
		return nil, &UnexpectedShapeError{Endpoint: "chapterInfos"}
	}

	chapters = append(chapters, reviewChapter())
	byUID := make(map[int]Chapter, len(chapters))
	for _, chapter := range chapters {
		byUID[chapter.ChapterUID] = chapter
	}
	return byUID, nil
}
