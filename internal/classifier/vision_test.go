package classifier_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/PaulBabatuyi/filebox/internal/classifier"
)

func newClient(t *testing.T, handler http.HandlerFunc) *classifier.VisionClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return classifier.NewVisionClient(classifier.Config{
		Endpoint:   srv.URL,
		APIKey:     "secret",
		Timeout:    time.Second,
		MaxElapsed: 2 * time.Second,
	}, srv.Client(), zap.NewNop())
}

func TestClassifyReturnsSafeSearch(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/images:annotate", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		reqs := body["requests"].([]any)
		img := reqs[0].(map[string]any)["image"].(map[string]any)["source"].(map[string]any)
		assert.Equal(t, "https://cdn/img.png", img["imageUri"])

		_, _ = w.Write([]byte(`{"responses":[{"safeSearchAnnotation":{"adult":"VERY_LIKELY","racy":"POSSIBLE"}}]}`))
	})

	out, err := c.Classify(context.Background(), "https://cdn/img.png")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"adult": "VERY_LIKELY", "racy": "POSSIBLE"}, out)
}

func TestClassifyWithoutAnnotationIsAbsent(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"responses":[{}]}`))
	})
	out, err := c.Classify(context.Background(), "u")
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestClassifyRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"responses":[{"safeSearchAnnotation":{"adult":"UNLIKELY"}}]}`))
	})
	out, err := c.Classify(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, "UNLIKELY", out["adult"])
	assert.Equal(t, int32(3), calls.Load())
}

func TestClassifyDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusForbidden)
	})
	_, err := c.Classify(context.Background(), "u")
	require.Error(t, err)
	assert.True(t, classifier.IsStatus(err, http.StatusForbidden))
	assert.Equal(t, int32(1), calls.Load())
}

func TestClassifyReportsPerImageError(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"responses":[{"error":{"code":3,"message":"image unreachable"}}]}`))
	})
	_, err := c.Classify(context.Background(), "u")
	assert.ErrorContains(t, err, "image unreachable")
}
