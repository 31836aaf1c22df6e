package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"lipdub/internal/config"

	"github.com/google/uuid"
)

const (
	TranslationProviderHTTP = "http"
	TranslationProviderFake = "fake"
)

type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobSuccess    JobStatus = "success"
	JobFailed     JobStatus = "failed"
)

var ErrJobNotFound = errors.New("translation job not found")

// JobState is the provider's view of one translation job.
type JobState struct {
	Status    JobStatus `json:"status"`
	OutputURL string    `json:"output_url,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Translator starts and inspects lip-sync translation jobs.
type Translator interface {
	StartJob(ctx context.Context, videoURL, outputLanguage string) (string, error)
	GetJob(ctx context.Context, jobID string) (*JobState, error)
}

func NewTranslator(cfg config.TranslationConfig) (Translator, error) {
	switch cfg.Provider {
	case TranslationProviderHTTP:
		t, err := NewHTTPTranslator(cfg, nil)
		if err != nil {
			return nil, err
		}
		return t, nil
	case TranslationProviderFake, "":
		return NewFakeTranslator(cfg.FakePollsToDone), nil
	default:
		return nil, fmt.Errorf("%w: translation %q", ErrUnknownProvider, cfg.Provider)
	}
}

// HTTPTranslator talks to the provider's REST API.
type HTTPTranslator struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPTranslator(cfg config.TranslationConfig, client *http.Client) (*HTTPTranslator, error) {
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("translation.base_url: %w", err)
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPTranslator{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  client,
	}, nil
}

type startJobRequest struct {
	VideoURL       string `json:"video_url"`
	OutputLanguage string `json:"output_language"`
}

type startJobResponse struct {
	JobID string `json:"job_id"`
}

func (t *HTTPTranslator) StartJob(ctx context.Context, videoURL, outputLanguage string) (string, error) {
	body, err := json.Marshal(startJobRequest{VideoURL: videoURL, OutputLanguage: outputLanguage})
	if err != nil {
		return "", err
	}

	var resp startJobResponse
	if err := t.do(ctx, http.MethodPost, t.baseURL+"/v1/jobs", body, &resp); err != nil {
		return "", fmt.Errorf("start translation job: %w", err)
	}
	if resp.JobID == "" {
		return "", errors.New("start translation job: provider returned an empty job id")
	}
	return resp.JobID, nil
}

func (t *HTTPTranslator) GetJob(ctx context.Context, jobID string) (*JobState, error) {
	var state JobState
	if err := t.do(ctx, http.MethodGet, t.baseURL+"/v1/jobs/"+url.PathEscape(jobID), nil, &state); err != nil {
		return nil, fmt.Errorf("get translation job %s: %w", jobID, err)
	}

	switch state.Status {
	case JobQueued, JobProcessing, JobFailed:
	case JobSuccess:
		if state.OutputURL == "" {
			return nil, fmt.Errorf("get translation job %s: success without output url", jobID)
		}
	default:
		return nil, fmt.Errorf("get translation job %s: unknown status %q", jobID, state.Status)
	}
	return &state, nil
}

func (t *HTTPTranslator) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrJobNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("provider responded %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	return json.Unmarshal(payload, out)
}

// FakeTranslator completes every job after a fixed number of status polls.
type FakeTranslator struct {
	mu          sync.Mutex
	pollsToDone int
	jobs        map[string]*fakeJob
	starts      int
}

type fakeJob struct {
	videoURL string
	language string
	polls    int
	failed   bool
}

func NewFakeTranslator(pollsToDone int) *FakeTranslator {
	if pollsToDone < 1 {
		pollsToDone = 1
	}
	return &FakeTranslator{pollsToDone: pollsToDone, jobs: make(map[string]*fakeJob)}
}

func (f *FakeTranslator) StartJob(_ context.Context, videoURL, outputLanguage string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := "fake-" + uuid.NewString()
	f.jobs[id] = &fakeJob{videoURL: videoURL, language: outputLanguage}
	f.starts++
	return id, nil
}

func (f *FakeTranslator) GetJob(_ context.Context, jobID string) (*JobState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	if job.failed {
		return &JobState{Status: JobFailed, Error: "rejected by fake provider"}, nil
	}

	job.polls++
	if job.polls < f.pollsToDone {
		return &JobState{Status: JobProcessing}, nil
	}
	return &JobState{
		Status:    JobSuccess,
		OutputURL: fmt.Sprintf("https://fake-translator.invalid/outputs/%s/%s.mp4", job.language, jobID),
	}, nil
}

// Fail makes every later poll of jobID report failure.
func (f *FakeTranslator) Fail(jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[jobID]; ok {
		job.failed = true
	}
}

// Starts returns how many jobs have been started.
func (f *FakeTranslator) Starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}
