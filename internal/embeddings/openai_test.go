package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIEmbedderBatchKeepsOrder(t *testing.T) {
	var gotInput []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotInput = body.Input

		w.Header().Set("Content-Type", "application/json")
		// Returned out of order on purpose.
		_, _ = w.Write([]byte(`{
			"object": "list",
			"model": "mini-embed",
			"data": [
				{"object": "embedding", "index": 1, "embedding": [0, 1]},
				{"object": "embedding", "index": 0, "embedding": [1, 0]}
			],
			"usage": {"prompt_tokens": 2, "total_tokens": 2}
		}`))
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder("test-key", srv.URL, "mini-embed", 0)
	require.NoError(t, err)

	vecs, err := e.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, gotInput)
	require.Len(t, vecs, 2)
	assert.Equal(t, Vector{1, 0}, vecs[0])
	assert.Equal(t, Vector{0, 1}, vecs[1])
}

func TestNewOpenAIEmbedderRequiresKey(t *testing.T) {
	_, err := NewOpenAIEmbedder("", "", "", 0)
	assert.Error(t, err)
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	e, err := NewOpenAIEmbedder("k", "http://127.0.0.1:1", "", 0)
	require.NoError(t, err)
	vecs, err := e.EmbedBatch(context.Background(), nil)
	assert.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestOpenAIEmbedderRequestsDimension(t *testing.T) {
	tests := []struct {
		name    string
		dim     int
		wantDim any
	}{
		{name: "configured dimension is sent", dim: 384, wantDim: float64(384)},
		{name: "zero leaves the model default", dim: 0, wantDim: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]any
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewDecoder(r.Body).Decode(&body)
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"object":"list","model":"m","data":[{"object":"embedding","index":0,"embedding":[1,0,0]}],"usage":{"prompt_tokens":1,"total_tokens":1}}`))
			}))
			defer srv.Close()

			e, err := NewOpenAIEmbedder("test-key", srv.URL, "", tt.dim)
			require.NoError(t, err)
			_, err = e.Embed(context.Background(), "effusion")
			require.NoError(t, err)

			assert.Equal(t, "text-embedding-3-small", body["model"])
			assert.Equal(t, tt.wantDim, body["dimensions"])
		})
	}
}
