package tools_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/finvoice/internal/tools"
)

func TestWebSearch(t *testing.T) {
	t.Parallel()

	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"results":[{"title":"ECB rates","url":"https://ecb.example","content":"Deposit facility 2%"}]}`))
	}))
	defer srv.Close()

	ws := tools.NewWebSearch("tvly-key", tools.WithSearchBaseURL(srv.URL+"/"), tools.WithMaxResults(3))
	h := ws.Handler()
	if h.Name != tools.WebSearchTool || h.Kind != tools.KindBuiltin {
		t.Fatalf("handler = %+v", h)
	}
	got, err := h.Fn(context.Background(), map[string]any{"query": "ecb deposit rate"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}

	if gotAuth != "Bearer tvly-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBody["query"] != "ecb deposit rate" || gotBody["max_results"] != float64(3) {
		t.Errorf("request body = %v", gotBody)
	}
	res := got.(map[string]any)
	hits := res["results"].([]tools.SearchHit)
	if len(hits) != 1 || hits[0].Snippet != "Deposit facility 2%" {
		t.Errorf("hits = %+v", hits)
	}
}

func TestWebSearch_Errors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	if _, err := tools.NewWebSearch("").Search(context.Background(), "q"); err == nil {
		t.Error("expected error without api key")
	}
	if _, err := tools.NewWebSearch("k").Search(context.Background(), "  "); err == nil {
		t.Error("expected error for empty query")
	}
	_, err := tools.NewWebSearch("k", tools.WithSearchBaseURL(srv.URL)).Search(context.Background(), "q")
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Errorf("err = %v, want status 429", err)
	}
}
