package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"lipdub/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPTranslator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/jobs":
			var req startJobRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "https://cdn.example.com/v.mp4", req.VideoURL)
			assert.Equal(t, "es", req.OutputLanguage)
			_ = json.NewEncoder(w).Encode(startJobResponse{JobID: "job-1"})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/jobs/job-1":
			_ = json.NewEncoder(w).Encode(JobState{Status: JobSuccess, OutputURL: "https://cdn.example.com/out.mp4"})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/jobs/broken":
			_ = json.NewEncoder(w).Encode(JobState{Status: "exploded"})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/jobs/boom":
			http.Error(w, "upstream down", http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	tr, err := NewHTTPTranslator(config.TranslationConfig{BaseURL: srv.URL + "/", APIKey: "key-1"}, srv.Client())
	require.NoError(t, err)
	ctx := context.Background()

	id, err := tr.StartJob(ctx, "https://cdn.example.com/v.mp4", "es")
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)

	state, err := tr.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobSuccess, state.Status)
	assert.Equal(t, "https://cdn.example.com/out.mp4", state.OutputURL)

	_, err = tr.GetJob(ctx, "broken")
	assert.Error(t, err)

	_, err = tr.GetJob(ctx, "boom")
	assert.ErrorContains(t, err, "502")

	_, err = tr.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestFakeTranslator(t *testing.T) {
	f := NewFakeTranslator(2)
	ctx := context.Background()

	id, err := f.StartJob(ctx, "https://cdn.example.com/v.mp4", "de")
	require.NoError(t, err)
	assert.Equal(t, 1, f.Starts())

	state, err := f.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, JobProcessing, state.Status)

	state, err = f.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, JobSuccess, state.Status)
	assert.Contains(t, state.OutputURL, id)

	other, err := f.StartJob(ctx, "https://cdn.example.com/w.mp4", "de")
	require.NoError(t, err)
	f.Fail(other)
	state, err = f.GetJob(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, state.Status)

	_, err = f.GetJob(ctx, "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestNewTranslator(t *testing.T) {
	tr, err := NewTranslator(config.TranslationConfig{Provider: "fake"})
	require.NoError(t, err)
	assert.IsType(t, &FakeTranslator{}, tr)

	_, err = NewTranslator(config.TranslationConfig{Provider: "http", BaseURL: "::"})
	assert.Error(t, err)

	_, err = NewTranslator(config.TranslationConfig{Provider: "grpc"})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}
