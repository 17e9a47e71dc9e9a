package adapter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"atelier/util"
)

// WeightsKind distinguishes how the worker merges the adapter
type WeightsKind string

const (
	// WeightsKindUNet means unet.safetensors is present and the worker does a
	// key-by-key state-dict replacement of the full UNet.
	WeightsKindUNet WeightsKind = "unet"
	// WeightsKindLoRA means only lora.safetensors is present and the worker
	// injects LoRA attention processors.
	WeightsKindLoRA WeightsKind = "lora"
)

// Manifest is the parsed contents of an extracted adapter archive
type Manifest struct {
	Dir            string            `json:"dir"`
	Kind           WeightsKind       `json:"kind"`
	WeightsPath    string            `json:"weights_path"`
	EmbeddingsPath string            `json:"embeddings_path,omitempty"`
	TokenMap       map[string]string `json:"token_map,omitempty"`
}

// ReadManifest inspects an extracted archive directory and resolves which
// weights it carries, the embeddings file, and the placeholder token map
func ReadManifest(dir string) (*Manifest, error) {
	m := &Manifest{Dir: dir}

	unetPath := filepath.Join(dir, unetWeightsFile)
	if _, err := os.Stat(unetPath); err == nil {
		m.Kind = WeightsKindUNet
		m.WeightsPath = unetPath
	} else {
		loraPath := filepath.Join(dir, loraWeightsFile)
		if _, err := os.Stat(loraPath); err != nil {
			return nil, util.HandleError(fmt.Errorf("adapter archive has neither %s nor %s", unetWeightsFile, loraWeightsFile))
		}
		m.Kind = WeightsKindLoRA
		m.WeightsPath = loraPath
	}

	embPath := filepath.Join(dir, embeddingsFile)
	if _, err := os.Stat(embPath); err == nil {
		m.EmbeddingsPath = embPath
	}

	tokenMapPath := filepath.Join(dir, tokenMapFile)
	if data, err := os.ReadFile(tokenMapPath); err == nil {
		if err := json.Unmarshal(data, &m.TokenMap); err != nil {
			return nil, util.HandleError(fmt.Errorf("error parsing %s: %w", tokenMapFile, err))
		}
	}

	return m, nil
}

// SubstituteTokens replaces placeholder tokens in the prompt with their
// learned embedding identifiers, keeping parity with the fine-tuning API
func (m *Manifest) SubstituteTokens(prompt string) string {
	for placeholder, token := range m.TokenMap {
		prompt = strings.ReplaceAll(prompt, placeholder, token)
	}
	return prompt
}

// IsLoRA reports whether the adapter uses LoRA injection
func (m *Manifest) IsLoRA() bool {
	return m.Kind == WeightsKindLoRA
}
