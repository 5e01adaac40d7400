package datasource

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func rows(qs ...string) []Question {
	out := make([]Question, len(qs))
	for i, q := range qs {
		out[i] = Question{ID: q, Question: q}
	}
	return out
}

func TestSearch_PrimarySucceeds(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.URL.RawQuery)
		if r.Header.Get("apikey") == "" {
			t.Error("expected apikey header")
		}
		json.NewEncoder(w).Encode(rows("q1", "q2"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	res, err := c.Search(context.Background(), "residential proxy", 5, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Fallback {
		t.Error("fallback should be false when primary succeeds")
	}
	if len(res.Items) != 2 {
		t.Errorf("items = %d, want 2", len(res.Items))
	}
	if len(calls) != 1 {
		t.Fatalf("upstream calls = %d, want 1", len(calls))
	}
	if !strings.Contains(calls[0], "wfts.") {
		t.Errorf("primary call should use full-text operator, got %q", calls[0])
	}
}

func TestSearch_FallsBackOnceOnPrimaryError(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.URL.RawQuery)
		if strings.Contains(r.URL.RawQuery, "wfts.") {
			http.Error(w, `{"message":"syntax error in tsquery"}`, http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(rows("q1"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	res, err := c.Search(context.Background(), "weird query", 10, "")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Fallback {
		t.Error("fallback flag should be set")
	}
	if len(res.Items) != 1 {
		t.Errorf("items = %d, want 1", len(res.Items))
	}
	if len(calls) != 2 {
		t.Fatalf("upstream calls = %d, want exactly 2 (primary + fallback)", len(calls))
	}
	if !strings.Contains(calls[1], "ilike") {
		t.Errorf("fallback call should use ilike, got %q", calls[1])
	}
}

func TestSearch_BothStrategiesFail(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	res, err := c.Search(context.Background(), "anything", 10, "")
	if err == nil {
		t.Fatal("expected error when both strategies fail")
	}
	if len(res.Items) != 0 {
		t.Errorf("items must be empty on total failure, got %d", len(res.Items))
	}
	if calls != 2 {
		t.Errorf("upstream calls = %d, want 2 (fallback attempted exactly once)", calls)
	}
}

func TestSearch_CategoryFilterAndLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if got := q.Get("category"); got != "eq.datacenter" {
			t.Errorf("category param = %q", got)
		}
		if got := q.Get("limit"); got != "5" {
			t.Errorf("limit param = %q", got)
		}
		json.NewEncoder(w).Encode(rows())
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	if _, err := c.Search(context.Background(), "proxy", 5, "datacenter"); err != nil {
		t.Fatal(err)
	}
}

func TestSearch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", WithTimeout(30*time.Millisecond))
	_, err := c.Search(context.Background(), "slow", 10, "")
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestIncrementViews(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/rpc/increment_views" {
			t.Errorf("unexpected call %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["question_id"] != "q-42" {
			t.Errorf("question_id = %q", body["question_id"])
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	if err := c.IncrementViews(context.Background(), "q-42"); err != nil {
		t.Fatal(err)
	}
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[]"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	if err := c.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}

	srv.Close()
	if err := c.Ping(context.Background()); err == nil {
		t.Error("expected error when data source is down")
	}
}
