package models

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"
)

// PredictionStatus tracks a prediction through its lifecycle
type PredictionStatus string

const (
	PredictionStatusQueued     PredictionStatus = "queued"
	PredictionStatusProcessing PredictionStatus = "processing"
	PredictionStatusSucceeded  PredictionStatus = "succeeded"
	PredictionStatusFailed     PredictionStatus = "failed"
)

// GenerationMode is derived from which of image/mask are present
type GenerationMode string

const (
	ModeTextToImage  GenerationMode = "txt2img"
	ModeImageToImage GenerationMode = "img2img"
	ModeInpaint      GenerationMode = "inpaint"
)

// PredictionRequest is the user-facing request for a single prediction.
// Image and Mask accept a URL or a base64 data URI.
type PredictionRequest struct {
	LoraURL        string     `json:"lora_url"`
	Prompt         string     `json:"prompt"`
	NegativePrompt string     `json:"negative_prompt,omitempty"`
	Image          string     `json:"image,omitempty"`
	Mask           string     `json:"mask,omitempty"`
	Width          *int       `json:"width,omitempty"`
	Height         *int       `json:"height,omitempty"`
	NumOutputs     *int       `json:"num_outputs,omitempty"`
	Scheduler      Scheduler  `json:"scheduler,omitempty"`
	InferenceSteps *int       `json:"num_inference_steps,omitempty"`
	GuidanceScale  *float32   `json:"guidance_scale,omitempty"`
	PromptStrength *float32   `json:"prompt_strength,omitempty"`
	Seed           *int64     `json:"seed,omitempty"`
	Refine         RefineMode `json:"refine,omitempty"`
	HighNoiseFrac  *float32   `json:"high_noise_frac,omitempty"`
	RefineSteps    *int       `json:"refine_steps,omitempty"`
	ApplyWatermark *bool      `json:"apply_watermark,omitempty"`
	LoraScale      *float32   `json:"lora_scale,omitempty"`
}

// GenerationDefaults are the fallback values applied to an incomplete request
type GenerationDefaults struct {
	Width     int
	Height    int
	Scheduler Scheduler
	Steps     int
	Guidance  float32
	Strength  float32
	LoraScale float32
}

// Mode derives the generation mode from the image/mask combination
func (r *PredictionRequest) Mode() GenerationMode {
	if r.Image != "" && r.Mask != "" {
		return ModeInpaint
	}
	if r.Image != "" {
		return ModeImageToImage
	}
	return ModeTextToImage
}

// DefaultPrompt is used when no prompt is supplied; TOK is the conventional
// placeholder token of fine-tuned adapters.
const DefaultPrompt = "A photo of TOK"

// ApplyDefaults fills unset parameters from the configured defaults and draws
// a seed from two bytes of entropy when none was supplied
func (r *PredictionRequest) ApplyDefaults(d GenerationDefaults) {
	if r.Prompt == "" {
		r.Prompt = DefaultPrompt
	}
	if r.Width == nil {
		w := d.Width
		r.Width = &w
	}
	if r.Height == nil {
		h := d.Height
		r.Height = &h
	}
	if r.NumOutputs == nil {
		n := 1
		r.NumOutputs = &n
	}
	if r.Scheduler == "" {
		r.Scheduler = d.Scheduler
	}
	if r.InferenceSteps == nil {
		s := d.Steps
		r.InferenceSteps = &s
	}
	if r.GuidanceScale == nil {
		g := d.Guidance
		r.GuidanceScale = &g
	}
	if r.PromptStrength == nil {
		p := d.Strength
		r.PromptStrength = &p
	}
	if r.Refine == "" {
		r.Refine = RefineNone
	}
	if r.HighNoiseFrac == nil {
		f := float32(0.8)
		r.HighNoiseFrac = &f
	}
	if r.ApplyWatermark == nil {
		w := true
		r.ApplyWatermark = &w
	}
	if r.LoraScale == nil {
		l := d.LoraScale
		r.LoraScale = &l
	}
	if r.Seed == nil {
		seed := RandomSeed()
		r.Seed = &seed
	}
}

// Validate checks parameter ranges and cross-field constraints. It assumes
// ApplyDefaults already ran.
func (r *PredictionRequest) Validate(maxOutputs int) error {
	if r.LoraURL == "" {
		return fmt.Errorf("missing lora_url parameter")
	}
	if r.Mask != "" && r.Image == "" {
		return fmt.Errorf("mask requires an input image")
	}
	if !r.Scheduler.Valid() {
		return ErrUnknownScheduler(string(r.Scheduler))
	}
	if !r.Refine.Valid() {
		return fmt.Errorf("unknown refine mode %q", r.Refine)
	}
	if n := *r.NumOutputs; n < 1 || n > maxOutputs {
		return fmt.Errorf("num_outputs must be between 1 and %d", maxOutputs)
	}
	if s := *r.InferenceSteps; s < 1 || s > 500 {
		return fmt.Errorf("num_inference_steps must be between 1 and 500")
	}
	if g := *r.GuidanceScale; g < 1 || g > 50 {
		return fmt.Errorf("guidance_scale must be between 1 and 50")
	}
	if p := *r.PromptStrength; p < 0 || p > 1 {
		return fmt.Errorf("prompt_strength must be between 0 and 1")
	}
	if f := *r.HighNoiseFrac; f < 0 || f > 1 {
		return fmt.Errorf("high_noise_frac must be between 0 and 1")
	}
	if l := *r.LoraScale; l < 0 || l > 1 {
		return fmt.Errorf("lora_scale must be between 0 and 1")
	}
	if r.RefineSteps != nil && *r.RefineSteps < 1 {
		return fmt.Errorf("refine_steps must be positive")
	}
	if *r.Width < 64 || *r.Height < 64 {
		return fmt.Errorf("width and height must be at least 64")
	}
	return nil
}

// RandomSeed draws a seed from two bytes of entropy, matching the behavior
// users of the hosted endpoint rely on for reproducibility ranges
func RandomSeed() int64 {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return int64(time.Now().UnixNano() & 0xFFFF)
	}
	return int64(binary.BigEndian.Uint16(b[:]))
}

// OutputFile describes a single generated image
type OutputFile struct {
	Filename    string `json:"filename"`
	DownloadURL string `json:"download_url"`
	ViewURL     string `json:"view_url,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
}

// Prediction is the stored record of a prediction run
type Prediction struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	Status      PredictionStatus  `json:"status"`
	Request     PredictionRequest `json:"request"`
	Outputs     []OutputFile      `json:"outputs,omitempty"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// ImageMetadata describes a stored output image
type ImageMetadata struct {
	ID           *int      `json:"id,omitempty"`
	PredictionID string    `json:"predictionId"`
	UserID       string    `json:"userId"`
	Filename     string    `json:"filename"`
	Thumbnail    string    `json:"thumbnail,omitempty"`
	Format       string    `json:"format"`
	Width        *int      `json:"width,omitempty"`
	Height       *int      `json:"height,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	ViewURL      *string   `json:"viewUrl,omitempty"`
	DownloadURL  *string   `json:"downloadUrl,omitempty"`
}
