package notion

import (
	"fmt"
	"time"

	"github.com/jomei/notionapi"
	"github.com/luwenchao/weread2notion/internal/models"
)

func richText(content string) []notionapi.RichText {
	return []notionapi.RichText{
		{
			Text: &notionapi.Text{
				Content: content,
			},
		},
	}
}

func headingTwoBlock(text string) notionapi.Block {
	return &notionapi.Heading2Block{
		BasicBlock: notionapi.BasicBlock{
			Object: "block",
			Type:   notionapi.BlockTypeHeading2,
		},
		Heading2: notionapi.Heading{
			RichText: richText(text),
		},
	}
}

func headingThreeBlock(text string) notionapi.Block {
	return &notionapi.Heading3Block{
		BasicBlock: notionapi.BasicBlock{
			Object: "block",
			Type:   notionapi.BlockTypeHeading3,
		},
		Heading3: notionapi.Heading{
			RichText: richText(text),
		},
	}
}

func paragraphBlock(text string) notionapi.Block {
	return &notionapi.ParagraphBlock{
		BasicBlock: notionapi.BasicBlock{
			Object: "block",
			Type:   notionapi.BlockTypeParagraph,
		},
		Paragraph: notionapi.Paragraph{
			RichText: richText(text),
		},
	}
}

func calloutBlock(text, emoji string) notionapi.Block {
	icon := notionapi.Emoji(emoji)
	return &notionapi.CalloutBlock{
		BasicBlock: notionapi.BasicBlock{
			Object: "block",
			Type:   notionapi.BlockTypeCallout,
		},
		Callout: notionapi.Callout{
			Icon: &notionapi.Icon{
				Type:  "emoji",
				Emoji: &icon,
			},
			RichText: richText(text),
		},
	}
}

func quoteBlock(text string) notionapi.Block {
	return &notionapi.QuoteBlock{
		BasicBlock: notionapi.BasicBlock{
			Object: "block",
			Type:   notionapi.BlockTypeQuote,
		},
		Quote: notionapi.Quote{
			RichText: richText(text),
		},
	}
}

func dividerBlock() notionapi.Block {
	return &notionapi.DividerBlock{
		BasicBlock: notionapi.BasicBlock{
			Object: "block",
			Type:   notionapi.BlockTypeDivider,
		},
		Divider: notionapi.Divider{},
	}
}

func imageBlock(url string) notionapi.Block {
	return &notionapi.ImageBlock{
		BasicBlock: notionapi.BasicBlock{
			Object: "block",
			Type:   notionapi.BlockTypeImage,
		},
		Image: notionapi.Image{
			Type: "external",
			External: &notionapi.FileObject{
				URL: url,
			},
		},
	}
}

func noteEmoji(kind models.NoteKind) string {
	if kind == models.KindThought {
		return "📝"
	}
	return "📖"
}

type noteGroup struct {
	chapter string
	notes   []models.Note
}

// groupNotesByChapter buckets notes per chapter title, keeping chapters in
// the order they were first encountered. The source already delivers notes
// in reading order, so no re-sorting happens here.
func groupNotesByChapter(notes []models.Note) []noteGroup {
	index := make(map[string]int)
	var groups []noteGroup
	for _, note := range notes {
		chapter := note.ChapterTitle
		if chapter == "" {
			chapter = "Other"
		}
		i, ok := index[chapter]
		if !ok {
			i = len(groups)
			index[chapter] = i
			groups = append(groups, noteGroup{chapter: chapter})
		}
		groups[i].notes = append(groups[i].notes, note)
	}
	return groups
}

// buildBookContent renders the initial page body for a freshly created book.
func buildBookContent(book *models.Book, notes []models.Note, reviews []models.Review) []notionapi.Block {
	var blocks []notionapi.Block

	if book.Cover != "" {
		blocks = append(blocks, imageBlock(book.Cover))
	}
	if book.Synopsis != "" {
		blocks = append(blocks, headingTwoBlock("📖 Synopsis"))
		blocks = append(blocks, paragraphBlock(book.Synopsis))
	}

	if len(notes) > 0 {
		blocks = append(blocks, headingTwoBlock(fmt.Sprintf("📝 Notes (%d)", len(notes))))
		for _, group := range groupNotesByChapter(notes) {
			blocks = append(blocks, headingThreeBlock(group.chapter))
			for _, note := range group.notes {
				blocks = append(blocks, calloutBlock(note.Content, noteEmoji(note.Kind)))
			}
		}
	}

	if len(reviews) > 0 {
		blocks = append(blocks, headingTwoBlock(fmt.Sprintf("💭 Reviews (%d)", len(reviews))))
		for _, review := range reviews {
			blocks = append(blocks, quoteBlock(review.Content))
		}
	}

	return blocks
}

// buildUpdateContent renders the blocks appended to an existing page on a
// later run: a divider, a timestamp, then the new notes and reviews.
func buildUpdateContent(now time.Time, notes []models.Note, reviews []models.Review) []notionapi.Block {
	blocks := []notionapi.Block{
		dividerBlock(),
		&notionapi.ParagraphBlock{
			BasicBlock: notionapi.BasicBlock{
				Object: "block",
				Type:   notionapi.BlockTypeParagraph,
			},
			Paragraph: notionapi.Paragraph{
				RichText: []notionapi.RichText{
					{
						Text: &notionapi.Text{
							Content: fmt.Sprintf("🔄 Updated: %s", now.Format("2006-01-02 15:04:05")),
						},
						Annotations: &notionapi.Annotations{
							Color: notionapi.ColorGray,
						},
					},
				},
			},
		},
	}

	if len(notes) > 0 {
		blocks = append(blocks, headingThreeBlock(fmt.Sprintf("📝 New notes (%d)", len(notes))))
		for _, note := range notes {
			text := fmt.Sprintf("[%s] %s", note.ChapterTitle, note.Content)
			blocks = append(blocks, calloutBlock(text, noteEmoji(note.Kind)))
		}
	}

	if len(reviews) > 0 {
		blocks = append(blocks, headingThreeBlock(fmt.Sprintf("💭 New reviews (%d)", len(reviews))))
		for _, review := range reviews {
			blocks = append(blocks, quoteBlock(review.Content))
		}
	}

	return blocks
}
