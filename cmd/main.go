package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/luwenchao/weread2notion/internal/logger"
	"github.com/luwenchao/weread2notion/internal/notion"
	"github.com/luwenchao/weread2notion/internal/sync"
	"github.com/luwenchao/weread2notion/internal/weread"
)

func main() {
	// Parse command line flags
	bookID := flag.String("book", "", "Sync a single book by its WeRead book ID")
	showStatus := flag.Bool("status", false, "Print sync status and exit")
	flag.Parse()

	// Load .env file if present; real environments set variables directly
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Printf("Error loading .env file: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	if err := logger.Init(logLevel); err != nil {
		fmt.Printf("Error initializing logger: %v\n", err)
		os.Exit(1)
	}

	cookie := os.Getenv("WEREAD_COOKIE")
	if cookie == "" {
		fmt.Println("Error: WEREAD_COOKIE is required")
		os.Exit(1)
	}
	token := os.Getenv("NOTION_TOKEN")
	if token == "" {
		fmt.Println("Error: NOTION_TOKEN is required")
		os.Exit(1)
	}
	databaseID := os.Getenv("NOTION_DATABASE_ID")
	parentPageID := os.Getenv("NOTION_PARENT_PAGE_ID")
	if databaseID == "" && parentPageID == "" {
		fmt.Println("Error: set NOTION_DATABASE_ID, or NOTION_PARENT_PAGE_ID to create one")
		os.Exit(1)
	}

	// Initialize WeRead client
	wereadClient, err := weread.New(cookie)
	if err != nil {
		logger.Error("Failed to initialize WeRead client", err, nil)
		os.Exit(1)
	}

	// Initialize Notion client
	notionClient, err := notion.New(notion.Config{
		Token:            token,
		DatabaseID:       databaseID,
		AuthorDatabaseID: os.Getenv("NOTION_AUTHOR_DATABASE_ID"),
	})
	if err != nil {
		logger.Error("Failed to initialize Notion client", err, nil)
		os.Exit(1)
	}

	ctx := context.Background()

	// Provision the database when only a parent page was given
	if databaseID == "" {
		created, err := notionClient.CreateDatabaseIfAbsent(ctx, parentPageID)
		if err != nil {
			logger.Error("Failed to provision bookshelf database", err, nil)
			os.Exit(1)
		}
		logger.Info("Using bookshelf database", map[string]interface{}{
			"database_id": created,
		})
	}

	service := sync.New(wereadClient, notionClient)

	if *showStatus {
		status, err := service.Status(ctx)
		if err != nil {
			logger.Error("Failed to fetch status", err, nil)
			os.Exit(1)
		}
		fmt.Printf("Books with notes: %d\n", status.BooksWithNotes)
		fmt.Printf("Books on shelf:   %d\n", status.TotalBooks)
		fmt.Printf("Books in Notion:  %d\n", status.SyncedBooks)
		return
	}

	if *bookID != "" {
		result, err := service.SyncBookByID(ctx, *bookID)
		if err != nil {
			logger.Error("Failed to sync book", err, map[string]interface{}{
				"book_id": *bookID,
			})
			os.Exit(1)
		}
		logger.Info("Book synced", map[string]interface{}{
			"title":   result.BookTitle,
			"notes":   result.NotesSynced,
			"reviews": result.ReviewsSynced,
			"page_id": result.NotionPageID,
		})
		return
	}

	results, err := service.SyncAll(ctx)
	if err != nil {
		logger.Error("Sync run failed", err, nil)
		os.Exit(1)
	}

	failed := 0
	for _, result := range results {
		if !result.Success {
			failed++
		}
	}
	if failed > 0 {
		logger.Warn("Sync finished with failures", map[string]interface{}{
			"total":  len(results),
			"failed": failed,
		})
		os.Exit(1)
	}
}
