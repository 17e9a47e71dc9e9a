package api

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"atelier/adapter"
	"atelier/imaging"
	"atelier/models"
	"atelier/pipeline"
	svc "atelier/services"
	"atelier/storage"

	"github.com/gofiber/fiber/v2"
)

var testApp *fiber.App

// fakePredictionStore is an in-memory stand-in for the postgres store
type fakePredictionStore struct {
	mu          sync.Mutex
	predictions map[string]*models.Prediction
}

func (s *fakePredictionStore) AddPrediction(ctx context.Context, p *models.Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *p
	stored.CreatedAt = time.Now()
	s.predictions[p.ID] = &stored
	p.CreatedAt = stored.CreatedAt
	return nil
}

func (s *fakePredictionStore) UpdateStatus(ctx context.Context, id string, status models.PredictionStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.predictions[id]
	if !ok {
		return fmt.Errorf("prediction %s not found", id)
	}
	p.Status = status
	p.Error = errMsg
	return nil
}

func (s *fakePredictionStore) SetOutputs(ctx context.Context, id string, outputs []models.OutputFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.predictions[id]
	if !ok {
		return fmt.Errorf("prediction %s not found", id)
	}
	p.Outputs = outputs
	return nil
}

func (s *fakePredictionStore) GetPrediction(ctx context.Context, id string) (*models.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.predictions[id]
	if !ok {
		return nil, fmt.Errorf("prediction %s not found", id)
	}
	got := *p
	return &got, nil
}

func (s *fakePredictionStore) ListPredictions(ctx context.Context, userID string, limit, offset int) ([]models.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []models.Prediction
	for _, p := range s.predictions {
		if p.UserID == userID {
			list = append(list, *p)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	if offset < len(list) {
		list = list[offset:]
	} else {
		list = nil
	}
	if limit < len(list) {
		list = list[:limit]
	}
	return list, nil
}

type fakeImageStore struct {
	mu     sync.Mutex
	nextID int
	images []models.ImageMetadata
}

func (s *fakeImageStore) StoreImage(ctx context.Context, image *models.ImageMetadata) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	stored := *image
	id := s.nextID
	stored.ID = &id
	s.images = append(s.images, stored)
	return id, nil
}

func (s *fakeImageStore) ListImages(ctx context.Context, predictionID string) ([]models.ImageMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []models.ImageMetadata
	for _, img := range s.images {
		if img.PredictionID == predictionID {
			list = append(list, img)
		}
	}
	return list, nil
}

func (s *fakeImageStore) DeleteImage(ctx context.Context, imageID int) error {
	return nil
}

var (
	fakeStore    = &fakePredictionStore{predictions: make(map[string]*models.Prediction)}
	adapterURL   string
	workerServer *httptest.Server
)

func workerStub() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/adapters/load", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/pipelines/", func(w http.ResponseWriter, r *http.Request) {
		payload, _ := imaging.EncodeBase64PNG(image.NewRGBA(image.Rect(0, 0, 64, 64)))
		json.NewEncoder(w).Encode(pipeline.GenerateResponse{Images: []string{payload}})
	})
	return httptest.NewServer(mux)
}

func adapterStub() *httptest.Server {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	contents := "weights"
	tw.WriteHeader(&tar.Header{Name: "lora.safetensors", Mode: 0o644, Size: int64(len(contents))})
	tw.Write([]byte(contents))
	tw.Close()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf.Bytes())
	}))
}

func TestMain(m *testing.M) {
	outDir, err := os.MkdirTemp("", "atelier-outputs")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(outDir)
	cacheDir, err := os.MkdirTemp("", "atelier-adapters")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(cacheDir)

	// the config singleton reads env overrides on first use
	os.Setenv("GENERATION_OUTPUT_DIRECTORY", outDir)

	workerServer = workerStub()
	defer workerServer.Close()
	adapterSrv := adapterStub()
	defer adapterSrv.Close()
	adapterURL = adapterSrv.URL + "/trained_model.tar"

	storage.PredictionStoreInstance = fakeStore
	storage.ImageStoreInstance = &fakeImageStore{}

	client := pipeline.NewClient(workerServer.URL, 30*time.Second)
	loader := adapter.NewLoader(cacheDir, 0, 30*time.Second)
	svc.InitPredictionService(pipeline.NewEngine(client, loader), nil)

	testApp = fiber.New()
	RegisterAllRoutes(testApp, Deps{Worker: client})

	os.Exit(m.Run())
}

func postPrediction(t *testing.T, body any, headers map[string]string) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/predictions", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := testApp.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func TestHealthRoute(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := testApp.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestReadyRoute(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	resp, err := testApp.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestCreatePredictionSync(t *testing.T) {
	resp := postPrediction(t, fiber.Map{
		"lora_url": adapterURL,
		"prompt":   "a photo of TOK",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var p models.Prediction
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if p.Status != models.PredictionStatusSucceeded {
		t.Errorf("status = %v, want succeeded", p.Status)
	}
	if len(p.Outputs) != 1 {
		t.Fatalf("got %d outputs, want 1", len(p.Outputs))
	}

	// the recorded output is downloadable
	req := httptest.NewRequest(http.MethodGet, p.Outputs[0].DownloadURL, nil)
	dl, err := testApp.Test(req, -1)
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if dl.StatusCode != http.StatusOK {
		t.Errorf("download status = %d, want 200", dl.StatusCode)
	}
}

func TestCreatePredictionDefaultPrompt(t *testing.T) {
	resp := postPrediction(t, fiber.Map{
		"lora_url": adapterURL,
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("missing prompt: status = %d, want 201 with the default prompt", resp.StatusCode)
	}
	var p models.Prediction
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if p.Request.Prompt != models.DefaultPrompt {
		t.Errorf("prompt = %q, want %q", p.Request.Prompt, models.DefaultPrompt)
	}
}

func TestCreatePredictionValidation(t *testing.T) {
	resp := postPrediction(t, fiber.Map{
		"prompt": "a photo of TOK",
	}, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("missing lora_url: status = %d, want 422", resp.StatusCode)
	}

	resp = postPrediction(t, fiber.Map{
		"lora_url":  adapterURL,
		"prompt":    "a photo of TOK",
		"scheduler": "Euler",
	}, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("bad scheduler: status = %d, want 422", resp.StatusCode)
	}
}

func TestCreatePredictionAsyncWithoutQueue(t *testing.T) {
	resp := postPrediction(t, fiber.Map{
		"lora_url": adapterURL,
		"prompt":   "a photo of TOK",
	}, map[string]string{"Prefer": "respond-async"})
	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501 without a message queue", resp.StatusCode)
	}
}

func TestGetPredictionOwnership(t *testing.T) {
	theirs := &models.Prediction{
		ID:     "someone-elses-prediction",
		UserID: "someone-else",
		Status: models.PredictionStatusSucceeded,
	}
	fakeStore.AddPrediction(context.Background(), theirs)

	req := httptest.NewRequest(http.MethodGet, "/api/predictions/"+theirs.ID, nil)
	resp, err := testApp.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403 for another user's prediction", resp.StatusCode)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/predictions/no-such-id", nil)
	resp, err = testApp.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for unknown prediction", resp.StatusCode)
	}
}

func TestListPredictionsRoute(t *testing.T) {
	resp := postPrediction(t, fiber.Map{
		"lora_url": adapterURL,
		"prompt":   "a photo of TOK on a list",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("setup prediction failed with status %d", resp.StatusCode)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/predictions?limit=5", nil)
	listResp, err := testApp.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if listResp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", listResp.StatusCode)
	}

	var body struct {
		Predictions []models.Prediction `json:"predictions"`
		Limit       int                 `json:"limit"`
	}
	if err := json.NewDecoder(listResp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.Predictions) == 0 {
		t.Error("expected at least one prediction in the listing")
	}
	if body.Limit != 5 {
		t.Errorf("limit = %d, want 5", body.Limit)
	}
}

func TestOutputFilenameRejected(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/predictions/x/outputs/..%2F..%2Fsecret", nil)
	resp, err := testApp.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest && resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want traversal rejected", resp.StatusCode)
	}
}

func TestSchedulersRoute(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/schedulers", nil)
	resp, err := testApp.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Schedulers []struct {
			Name            string `json:"name"`
			Class           string `json:"class"`
			UseKarrasSigmas bool   `json:"use_karras_sigmas"`
		} `json:"schedulers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.Schedulers) != 7 {
		t.Fatalf("got %d schedulers, want 7", len(body.Schedulers))
	}
	for _, s := range body.Schedulers {
		if s.Name == "KarrasDPM" && (s.Class != "DPMSolverMultistepScheduler" || !s.UseKarrasSigmas) {
			t.Errorf("KarrasDPM resolves to %+v", s)
		}
	}
}
