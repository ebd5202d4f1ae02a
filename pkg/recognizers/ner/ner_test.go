package ner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerdneilsfield/go-phi-guard/pkg/protect"
)

func TestRecognize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/classify", r.URL.Path)
		assert.Equal(t, "abc", r.Header.Get("X-Api-Key"))
		var req classifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Paciente: Juan Pérez", req.Text)
		_, _ = w.Write([]byte(`{"spans":[
			{"start":10,"end":20,"label":"PER","text":"Juan Pérez","score":0.93},
			{"start":0,"end":8,"label":"MISC","text":"Paciente"}
		]}`))
	}))
	defer server.Close()

	client := New(Config{URL: server.URL + "/", Headers: map[string]string{"X-Api-Key": "abc"}}, nil)
	entities, err := client.Recognize(context.Background(), "Paciente: Juan Pérez")
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, protect.Entity{Label: "PER", Text: "Juan Pérez", Start: 10, End: 20, Confidence: 0.93}, entities[0])
	assert.Equal(t, 1.0, entities[1].Confidence)
}

func TestRecognizeFailures(t *testing.T) {
	t.Run("Bad Status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()
		_, err := New(Config{URL: server.URL}, nil).Recognize(context.Background(), "x")
		assert.ErrorContains(t, err, "503")
	})

	t.Run("Unreachable", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		server.Close()
		_, err := New(Config{URL: server.URL}, nil).Recognize(context.Background(), "x")
		assert.ErrorContains(t, err, "unreachable")
	})

	t.Run("Degrades Span Detection", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		server.Close()
		detector := protect.NewSpanDetector(nil, protect.NewEntityDetector("ner", New(Config{URL: server.URL}, nil), 0))
		spans, reports := detector.Detect(context.Background(), "Juan Pérez")
		assert.Empty(t, spans)
		require.Len(t, reports, 1)
		assert.Equal(t, protect.KindDetectionDegraded, reports[0].Kind)
	})
}
