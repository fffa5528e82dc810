package testsupport

import (
	"context"
	"testing"

	"inkwell/internal/catalog"
	"inkwell/internal/config"
)

// MustOpenStore opens a catalog.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *catalog.Store {
	t.Helper()

	store, err := catalog.Open(cfg)
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewBook creates a concept_pending book with the given chapter target.
func NewBook(t testing.TB, store *catalog.Store, title string, chapters int) *catalog.Book {
	t.Helper()

	book, err := store.CreateBook(context.Background(), catalog.NewBook{
		Title:              title,
		Genre:              "mystery",
		Premise:            "A lighthouse keeper finds a message in a bottle addressed to her.",
		Outline:            "Act one: the message. Act two: the search. Act three: the reunion.",
		TargetChapterCount: chapters,
	})
	if err != nil {
		t.Fatalf("store.CreateBook: %v", err)
	}
	return book
}
