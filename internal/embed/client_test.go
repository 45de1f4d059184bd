package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/globaltrial/registry-pipeline/internal/platform/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New("development")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	return l
}

func TestEmbedReturnsVectorsInRequestOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embeddingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		resp := embeddingsResponse{}
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, struct {
				Embedding []float64 `json:"embedding"`
				Index     int       `json:"index"`
			}{Embedding: []float64{float64(i), float64(i) + 0.5}, Index: i})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("OPENAI_BASE_URL", srv.URL)

	c, err := NewClient(testLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	vecs, err := c.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vecs))
	}
	// response entries arrive in reverse order, so the returned slice
	// must still line up with the request order, not response order.
	if vecs[0][0] != 0 || vecs[1][0] != 1 {
		t.Fatalf("vectors not reordered to match request indices: %v", vecs)
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	os.Unsetenv("OPENAI_API_KEY")
	if _, err := NewClient(testLogger(t)); err == nil {
		t.Fatalf("expected error when OPENAI_API_KEY is unset")
	}
}

func TestEmbedEmptyInputReturnsEmptySlice(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")
	c, err := NewClient(testLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	vecs, err := c.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 0 {
		t.Fatalf("expected empty slice, got %v", vecs)
	}
}
