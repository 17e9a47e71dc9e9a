// Package pipeline drives the diffusion worker: it maps user-facing
// generation parameters onto the worker's JSON contract, branches among the
// generation modes and hands latents to the refiner when requested.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"atelier/models"
	"atelier/util"

	"github.com/sirupsen/logrus"
)

// Client talks to the diffusion worker over JSON/HTTP
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a worker client with the given request timeout
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// AdapterLoadRequest asks the worker to merge adapter weights into the loaded
// pipeline. Paths reference the shared filesystem the archive was extracted to.
type AdapterLoadRequest struct {
	Kind           string `json:"kind"` // "unet" or "lora"
	WeightsPath    string `json:"weights_path"`
	EmbeddingsPath string `json:"embeddings_path,omitempty"`
}

// GenerateRequest is the worker-side generation call. The same shape serves
// txt2img, img2img and inpaint; the mode is selected by the endpoint path.
type GenerateRequest struct {
	Prompt         string               `json:"prompt"`
	NegativePrompt string               `json:"negative_prompt,omitempty"`
	Width          int                  `json:"width,omitempty"`
	Height         int                  `json:"height,omitempty"`
	Image          string               `json:"image,omitempty"`      // base64 PNG
	MaskImage      string               `json:"mask_image,omitempty"` // base64 PNG
	Strength       *float32             `json:"strength,omitempty"`
	NumOutputs     int                  `json:"num_outputs"`
	Steps          int                  `json:"num_inference_steps"`
	GuidanceScale  float32              `json:"guidance_scale"`
	Seed           int64                `json:"seed"`
	Scheduler      models.SchedulerSpec `json:"scheduler"`
	OutputType     string               `json:"output_type,omitempty"` // "png" (default) or "latent"
	DenoisingEnd   *float32             `json:"denoising_end,omitempty"`
	ApplyWatermark bool                 `json:"apply_watermark"`
	LoraScale      *float32             `json:"lora_scale,omitempty"`
	TargetSize     []int                `json:"target_size,omitempty"`
	OriginalSize   []int                `json:"original_size,omitempty"`
}

// RefineRequest resumes denoising on latents held by the worker
type RefineRequest struct {
	LatentID       string   `json:"latent_id"`
	Prompt         string   `json:"prompt"`
	NegativePrompt string   `json:"negative_prompt,omitempty"`
	Steps          int      `json:"num_inference_steps"`
	GuidanceScale  float32  `json:"guidance_scale"`
	Seed           int64    `json:"seed"`
	DenoisingStart *float32 `json:"denoising_start,omitempty"`
	ApplyWatermark bool     `json:"apply_watermark"`
}

// GenerateResponse is the worker's reply. Images are base64 PNG payloads in
// order; Filtered counts outputs removed by the worker's content filter.
// LatentID is set when output_type was "latent".
type GenerateResponse struct {
	Images   []string `json:"images"`
	LatentID string   `json:"latent_id,omitempty"`
	Filtered int      `json:"filtered,omitempty"`
}

// LoadAdapter merges adapter weights into the worker's loaded pipeline
func (c *Client) LoadAdapter(ctx context.Context, req AdapterLoadRequest) error {
	_, err := c.post(ctx, "/adapters/load", req)
	return err
}

// Generate runs one generation pass in the given mode
func (c *Client) Generate(ctx context.Context, mode models.GenerationMode, req GenerateRequest) (*GenerateResponse, error) {
	util.LogInfo("Sending generation request to diffusion worker", logrus.Fields{
		"mode":      mode,
		"steps":     req.Steps,
		"scheduler": req.Scheduler.Class,
		"outputs":   req.NumOutputs,
		"seed":      req.Seed,
	})

	body, err := c.post(ctx, "/pipelines/"+string(mode), req)
	if err != nil {
		return nil, err
	}

	var resp GenerateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, util.HandleError(fmt.Errorf("error parsing worker generation response: %w", err))
	}
	return &resp, nil
}

// Refine runs the second-stage refinement pass over held latents
func (c *Client) Refine(ctx context.Context, req RefineRequest) (*GenerateResponse, error) {
	util.LogInfo("Sending refinement request to diffusion worker", logrus.Fields{
		"latentId": req.LatentID,
		"steps":    req.Steps,
	})

	body, err := c.post(ctx, "/pipelines/refine", req)
	if err != nil {
		return nil, err
	}

	var resp GenerateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, util.HandleError(fmt.Errorf("error parsing worker refinement response: %w", err))
	}
	return &resp, nil
}

// Health checks the worker is up and its pipeline is loaded
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return util.HandleError(fmt.Errorf("error creating health request: %w", err))
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return util.HandleError(fmt.Errorf("error reaching diffusion worker: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return util.HandleError(fmt.Errorf("diffusion worker health returned status %d", resp.StatusCode))
	}
	return nil
}

// post sends a JSON request to the worker and returns the response body
func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("diffusion worker base URL not configured")
	}

	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, util.HandleError(fmt.Errorf("error marshaling worker request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, util.HandleError(fmt.Errorf("error creating worker request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, util.HandleError(fmt.Errorf("error calling diffusion worker: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, util.HandleError(fmt.Errorf("error reading worker response: %w", err))
	}

	if resp.StatusCode >= 400 {
		return nil, util.HandleError(fmt.Errorf("diffusion worker returned status %d: %s", resp.StatusCode, string(body)))
	}

	return body, nil
}
