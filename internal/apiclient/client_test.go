package apiclient_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"inkwell/internal/api"
	"inkwell/internal/apiclient"
	"inkwell/internal/services"
)

func TestNewEmptyBind(t *testing.T) {
	client, err := apiclient.New("", "")
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if client != nil {
		t.Fatal("expected nil client for empty bind")
	}
	if _, err := client.GetBook(context.Background(), 1); !apiclient.IsUnavailable(err) {
		t.Fatalf("expected unavailable error from nil client, got %v", err)
	}
}

func TestListBooksBuildsQueryAndSendsToken(t *testing.T) {
	var gotQuery url.Values
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]api.Book{{ID: 7, Title: "Tidewater", Status: "writing_in_progress"}})
	}))
	defer srv.Close()

	client, err := apiclient.New(srv.URL, "s3cret")
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	books, err := client.ListBooks(context.Background(), []string{"writing", "editing"}, 25)
	if err != nil {
		t.Fatalf("ListBooks error: %v", err)
	}
	if len(books) != 1 || books[0].ID != 7 {
		t.Fatalf("unexpected books: %+v", books)
	}
	if got := gotQuery.Get("status"); got != "writing,editing" {
		t.Fatalf("status query = %q", got)
	}
	if got := gotQuery.Get("limit"); got != "25" {
		t.Fatalf("limit query = %q", got)
	}
	if gotAuth != "Bearer s3cret" {
		t.Fatalf("authorization header = %q", gotAuth)
	}
}

func TestRejectionsUnwrapToSentinels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(api.Error{
			Code:    api.CodeInvalidTransition,
			Message: "book 3: event publish not allowed from writing",
			Details: map[string]any{"from": "writing"},
		})
	}))
	defer srv.Close()

	client, _ := apiclient.New(srv.URL, "")
	_, err := client.FireBookEvent(context.Background(), 3, "publish", 0)
	if !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	var apiErr *api.Error
	if !errors.As(err, &apiErr) || apiErr.Details["from"] != "writing" {
		t.Fatalf("expected details to survive decoding, got %+v", apiErr)
	}
}

func TestRejectChapterSendsNotes(t *testing.T) {
	var body map[string]string
	var path, method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path, method = r.URL.Path, r.Method
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(api.Chapter{ID: 11, Status: "rejected"})
	}))
	defer srv.Close()

	client, _ := apiclient.New(srv.URL, "")
	ch, err := client.RejectChapter(context.Background(), 11, "tighten the ending")
	if err != nil {
		t.Fatalf("RejectChapter error: %v", err)
	}
	if method != http.MethodPost || path != "/api/chapters/11/reject" {
		t.Fatalf("unexpected request %s %s", method, path)
	}
	if body["notes"] != "tighten the ending" {
		t.Fatalf("notes = %q", body["notes"])
	}
	if ch.Status != "rejected" {
		t.Fatalf("status = %q", ch.Status)
	}
}

func TestNonJSONErrorKeepsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway down", http.StatusBadGateway)
	}))
	defer srv.Close()

	client, _ := apiclient.New(srv.URL, "")
	err := client.SchedulePreflight(context.Background(), 1)
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		t.Fatalf("did not expect a decoded api error, got %+v", apiErr)
	}
}

func TestIsUnavailable(t *testing.T) {
	if !apiclient.IsUnavailable(apiclient.ErrUnavailable) {
		t.Fatal("expected ErrUnavailable to be unavailable")
	}
	if apiclient.IsUnavailable(errors.New("other")) {
		t.Fatal("did not expect generic error to be unavailable")
	}

	client, _ := apiclient.New("127.0.0.1:1", "")
	_, err := client.Status(context.Background())
	if !apiclient.IsUnavailable(err) {
		t.Fatalf("expected refused connection to be unavailable, got %v", err)
	}
}
