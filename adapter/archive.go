// Package adapter fetches fine-tuned adapter archives and prepares them for
// hot-loading into the diffusion worker. An archive is a tar bundle holding
// either full UNet weights or LoRA weights, plus learned token embeddings and
// a placeholder-token map.
package adapter

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"atelier/util"

	"github.com/sirupsen/logrus"
)

// Archive file names the trainer emits.
const (
	unetWeightsFile = "unet.safetensors"
	loraWeightsFile = "lora.safetensors"
	embeddingsFile  = "embeddings.pti"
	tokenMapFile    = "special_params.json"
)

// Download fetches the adapter archive at url and extracts it under destDir.
// maxBytes bounds the decompressed size; 0 means unbounded.
func Download(ctx context.Context, url, destDir string, maxBytes int64, timeout time.Duration) error {
	start := time.Now()
	util.LogInfo("Downloading adapter archive", logrus.Fields{
		"url":  url,
		"dest": destDir,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return util.HandleError(fmt.Errorf("error creating adapter download request: %w", err))
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return util.HandleError(fmt.Errorf("error downloading adapter archive: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return util.HandleError(fmt.Errorf("adapter archive download returned status %d", resp.StatusCode))
	}

	var body io.Reader = resp.Body
	if maxBytes > 0 {
		body = io.LimitReader(resp.Body, maxBytes)
	}

	if err := Extract(body, destDir); err != nil {
		return err
	}

	util.LogInfo("Adapter archive downloaded", logrus.Fields{
		"url":     url,
		"elapsed": time.Since(start).String(),
	})
	return nil
}

// Extract unpacks a tar stream into destDir, rejecting entries that would
// escape it
func Extract(r io.Reader, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return util.HandleError(fmt.Errorf("failed to create adapter directory: %w", err))
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return util.HandleError(fmt.Errorf("error reading adapter archive: %w", err))
		}

		target, err := safeJoin(destDir, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return util.HandleError(fmt.Errorf("failed to create directory %s: %w", hdr.Name, err))
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return util.HandleError(fmt.Errorf("failed to create directory for %s: %w", hdr.Name, err))
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
			if err != nil {
				return util.HandleError(fmt.Errorf("failed to create file %s: %w", hdr.Name, err))
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return util.HandleError(fmt.Errorf("failed to extract %s: %w", hdr.Name, err))
			}
			f.Close()
		default:
			// symlinks and the rest are not part of the trainer's output
			util.LogDebug("Skipping archive entry with unsupported type", logrus.Fields{
				"name": hdr.Name,
				"type": hdr.Typeflag,
			})
		}
	}
}

// safeJoin joins name onto dir and rejects absolute paths and traversal
func safeJoin(dir, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", util.HandleError(fmt.Errorf("adapter archive entry has absolute path: %s", name))
	}
	target := filepath.Join(dir, name)
	if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) && target != filepath.Clean(dir) {
		return "", util.HandleError(fmt.Errorf("adapter archive entry escapes destination: %s", name))
	}
	return target, nil
}
