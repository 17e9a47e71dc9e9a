package models

import (
	"strings"
	"testing"
)

func testDefaults() GenerationDefaults {
	return GenerationDefaults{
		Width:     1024,
		Height:    1024,
		Scheduler: SchedulerKEuler,
		Steps:     50,
		Guidance:  7.5,
		Strength:  0.8,
		LoraScale: 0.6,
	}
}

func validRequest() PredictionRequest {
	r := PredictionRequest{
		LoraURL: "https://example.com/trained_model.tar",
		Prompt:  "a photo of TOK",
	}
	r.ApplyDefaults(testDefaults())
	return r
}

func TestModeBranching(t *testing.T) {
	tests := []struct {
		name  string
		image string
		mask  string
		want  GenerationMode
	}{
		{"no inputs", "", "", ModeTextToImage},
		{"image only", "aW1n", "", ModeImageToImage},
		{"image and mask", "aW1n", "bWFzaw==", ModeInpaint},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := PredictionRequest{Image: tt.image, Mask: tt.mask}
			if got := r.Mode(); got != tt.want {
				t.Errorf("Mode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	r := PredictionRequest{
		LoraURL: "https://example.com/trained_model.tar",
	}
	r.ApplyDefaults(testDefaults())

	if r.Prompt != DefaultPrompt {
		t.Errorf("prompt = %q, want the default %q", r.Prompt, DefaultPrompt)
	}
	if r.Width == nil || *r.Width != 1024 {
		t.Errorf("expected default width 1024, got %v", r.Width)
	}
	if r.NumOutputs == nil || *r.NumOutputs != 1 {
		t.Errorf("expected default num_outputs 1, got %v", r.NumOutputs)
	}
	if r.Scheduler != SchedulerKEuler {
		t.Errorf("expected default scheduler, got %v", r.Scheduler)
	}
	if r.Refine != RefineNone {
		t.Errorf("expected refine to default to %v, got %v", RefineNone, r.Refine)
	}
	if r.HighNoiseFrac == nil || *r.HighNoiseFrac != 0.8 {
		t.Errorf("expected default high_noise_frac 0.8, got %v", r.HighNoiseFrac)
	}
	if r.ApplyWatermark == nil || !*r.ApplyWatermark {
		t.Error("expected watermark to default on")
	}
	if r.Seed == nil {
		t.Fatal("expected a seed to be drawn")
	}
	if *r.Seed < 0 || *r.Seed > 0xFFFF {
		t.Errorf("seed %d outside the two-byte range", *r.Seed)
	}
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	steps := 25
	seed := int64(42)
	r := PredictionRequest{
		LoraURL:        "https://example.com/trained_model.tar",
		Prompt:         "a photo of TOK",
		InferenceSteps: &steps,
		Seed:           &seed,
		Scheduler:      SchedulerDDIM,
	}
	r.ApplyDefaults(testDefaults())

	if r.Prompt != "a photo of TOK" {
		t.Errorf("explicit prompt overwritten: %q", r.Prompt)
	}
	if *r.InferenceSteps != 25 {
		t.Errorf("explicit steps overwritten: %d", *r.InferenceSteps)
	}
	if *r.Seed != 42 {
		t.Errorf("explicit seed overwritten: %d", *r.Seed)
	}
	if r.Scheduler != SchedulerDDIM {
		t.Errorf("explicit scheduler overwritten: %v", r.Scheduler)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *PredictionRequest)
		wantErr string
	}{
		{"valid", func(r *PredictionRequest) {}, ""},
		{"missing lora_url", func(r *PredictionRequest) { r.LoraURL = "" }, "lora_url"},
		{"mask without image", func(r *PredictionRequest) { r.Mask = "bWFzaw==" }, "mask"},
		{"bad scheduler", func(r *PredictionRequest) { r.Scheduler = "Euler" }, "unknown scheduler"},
		{"bad refine mode", func(r *PredictionRequest) { r.Refine = "extra_refiner" }, "refine"},
		{"too many outputs", func(r *PredictionRequest) { n := 5; r.NumOutputs = &n }, "num_outputs"},
		{"zero outputs", func(r *PredictionRequest) { n := 0; r.NumOutputs = &n }, "num_outputs"},
		{"steps out of range", func(r *PredictionRequest) { s := 501; r.InferenceSteps = &s }, "num_inference_steps"},
		{"guidance out of range", func(r *PredictionRequest) { g := float32(0.5); r.GuidanceScale = &g }, "guidance_scale"},
		{"strength out of range", func(r *PredictionRequest) { p := float32(1.5); r.PromptStrength = &p }, "prompt_strength"},
		{"high noise frac out of range", func(r *PredictionRequest) { f := float32(-0.1); r.HighNoiseFrac = &f }, "high_noise_frac"},
		{"lora scale out of range", func(r *PredictionRequest) { l := float32(2); r.LoraScale = &l }, "lora_scale"},
		{"non-positive refine steps", func(r *PredictionRequest) { s := 0; r.RefineSteps = &s }, "refine_steps"},
		{"tiny dimensions", func(r *PredictionRequest) { w := 32; r.Width = &w }, "at least 64"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRequest()
			tt.mutate(&r)
			err := r.Validate(4)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("expected valid request, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestRandomSeedRange(t *testing.T) {
	for i := 0; i < 100; i++ {
		seed := RandomSeed()
		if seed < 0 || seed > 0xFFFF {
			t.Fatalf("seed %d outside [0, 65535]", seed)
		}
	}
}
