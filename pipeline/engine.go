package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"

	"atelier/adapter"
	"atelier/imaging"
	"atelier/models"
	"atelier/util"

	"github.com/sirupsen/logrus"
)

// ErrContentFiltered is returned when every output was removed by the
// worker's content filter
var ErrContentFiltered = fmt.Errorf("content filtered: no outputs survived, try running again or with a different prompt")

// Engine runs a full prediction: adapter hot-load, mode branching, the base
// generation pass and the optional refiner hand-off.
type Engine struct {
	client *Client
	loader *adapter.Loader
}

// NewEngine wires a worker client and an adapter loader into an engine
func NewEngine(client *Client, loader *adapter.Loader) *Engine {
	return &Engine{client: client, loader: loader}
}

// Output is one generated image, decoded from the worker's reply
type Output struct {
	Data   []byte
	Width  int
	Height int
}

// Run executes the prediction described by req. The request must already be
// defaulted and validated.
func (e *Engine) Run(ctx context.Context, req models.PredictionRequest) ([]Output, error) {
	manifest, err := e.loader.Load(ctx, req.LoraURL)
	if err != nil {
		return nil, util.HandleError(fmt.Errorf("failed to load adapter: %w", err))
	}

	if err := e.client.LoadAdapter(ctx, AdapterLoadRequest{
		Kind:           string(manifest.Kind),
		WeightsPath:    manifest.WeightsPath,
		EmbeddingsPath: manifest.EmbeddingsPath,
	}); err != nil {
		return nil, util.HandleError(fmt.Errorf("worker rejected adapter weights: %w", err))
	}

	prompt := manifest.SubstituteTokens(req.Prompt)
	mode := req.Mode()

	gen := GenerateRequest{
		Prompt:         prompt,
		NegativePrompt: req.NegativePrompt,
		NumOutputs:     *req.NumOutputs,
		Steps:          *req.InferenceSteps,
		GuidanceScale:  *req.GuidanceScale,
		Seed:           *req.Seed,
		ApplyWatermark: *req.ApplyWatermark,
	}

	spec, ok := req.Scheduler.Spec()
	if !ok {
		return nil, models.ErrUnknownScheduler(string(req.Scheduler))
	}
	gen.Scheduler = spec

	if manifest.IsLoRA() {
		gen.LoraScale = req.LoraScale
	}

	switch mode {
	case models.ModeInpaint:
		img, err := e.loadAligned(ctx, req.Image)
		if err != nil {
			return nil, err
		}
		mask, err := e.loadAligned(ctx, req.Mask)
		if err != nil {
			return nil, err
		}
		gen.Image = img.payload
		gen.MaskImage = mask.payload
		gen.Strength = req.PromptStrength
		gen.TargetSize = []int{img.width, img.height}
		gen.OriginalSize = []int{img.width, img.height}
	case models.ModeImageToImage:
		img, err := e.loadAligned(ctx, req.Image)
		if err != nil {
			return nil, err
		}
		gen.Image = img.payload
		gen.Strength = req.PromptStrength
	default:
		// the worker requires block-aligned dimensions in every mode
		gen.Width = imaging.AlignDim(*req.Width)
		gen.Height = imaging.AlignDim(*req.Height)
	}

	// Refiner hand-off keeps latents on the worker between passes
	switch req.Refine {
	case models.RefineExpertEnsemble:
		gen.OutputType = "latent"
		gen.DenoisingEnd = req.HighNoiseFrac
	case models.RefineBaseImage:
		gen.OutputType = "latent"
	}

	resp, err := e.client.Generate(ctx, mode, gen)
	if err != nil {
		return nil, err
	}

	if req.Refine == models.RefineExpertEnsemble || req.Refine == models.RefineBaseImage {
		refine := RefineRequest{
			LatentID:       resp.LatentID,
			Prompt:         prompt,
			NegativePrompt: req.NegativePrompt,
			Steps:          *req.InferenceSteps,
			GuidanceScale:  *req.GuidanceScale,
			Seed:           *req.Seed,
			ApplyWatermark: *req.ApplyWatermark,
		}
		if req.Refine == models.RefineExpertEnsemble {
			refine.DenoisingStart = req.HighNoiseFrac
		}
		if req.Refine == models.RefineBaseImage && req.RefineSteps != nil {
			refine.Steps = *req.RefineSteps
		}

		resp, err = e.client.Refine(ctx, refine)
		if err != nil {
			return nil, err
		}
	}

	if len(resp.Images) == 0 {
		util.LogWarning("All outputs removed by content filter", logrus.Fields{
			"filtered": resp.Filtered,
		})
		return nil, ErrContentFiltered
	}

	outputs := make([]Output, 0, len(resp.Images))
	for i, b64 := range resp.Images {
		data, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, util.HandleError(fmt.Errorf("error decoding worker output %d: %w", i, err))
		}
		out := Output{Data: data}
		if img, err := imaging.DecodePNG(data); err == nil {
			out.Width = img.Bounds().Dx()
			out.Height = img.Bounds().Dy()
		}
		outputs = append(outputs, out)
	}

	return outputs, nil
}

type alignedImage struct {
	payload string
	width   int
	height  int
}

// loadAligned fetches an input image, aligns it to the worker's block size
// and re-encodes it for the wire
func (e *Engine) loadAligned(ctx context.Context, src string) (*alignedImage, error) {
	img, err := imaging.Fetch(ctx, src)
	if err != nil {
		return nil, err
	}
	aligned := imaging.Align(img)
	payload, err := imaging.EncodeBase64PNG(aligned)
	if err != nil {
		return nil, err
	}
	return &alignedImage{
		payload: payload,
		width:   aligned.Bounds().Dx(),
		height:  aligned.Bounds().Dy(),
	}, nil
}
