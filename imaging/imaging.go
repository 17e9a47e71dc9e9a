// Package imaging handles input image plumbing for the generation pipeline:
// fetching, decoding, dimension alignment and output serialization.
package imaging

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg" // register jpeg decoder for image.Decode
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"atelier/util"

	"github.com/sirupsen/logrus"
	"golang.org/x/image/draw"
)

// BlockSize is the dimension granularity the diffusion worker requires.
// Every side of every image it sees must be a multiple of this.
const BlockSize = 64

// ThumbnailSize is the bounding box for generated thumbnails
const ThumbnailSize = 128

// AlignDim rounds a dimension up to the nearest multiple of BlockSize
func AlignDim(n int) int {
	if n <= 0 {
		return BlockSize
	}
	return ((n + BlockSize - 1) / BlockSize) * BlockSize
}

// Aligned reports whether both sides are already block-aligned
func Aligned(w, h int) bool {
	return w%BlockSize == 0 && h%BlockSize == 0
}

// Fetch loads an input image from a URL, a data URI, or raw base64
func Fetch(ctx context.Context, src string) (image.Image, error) {
	switch {
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		return fetchURL(ctx, src)
	case strings.HasPrefix(src, "data:"):
		idx := strings.Index(src, ",")
		if idx < 0 {
			return nil, fmt.Errorf("malformed data URI")
		}
		return decodeBase64(src[idx+1:])
	default:
		return decodeBase64(src)
	}
}

func fetchURL(ctx context.Context, url string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, util.HandleError(fmt.Errorf("error creating image fetch request: %w", err))
	}

	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, util.HandleError(fmt.Errorf("error fetching input image: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, util.HandleError(fmt.Errorf("input image fetch returned status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, util.HandleError(fmt.Errorf("error reading input image: %w", err))
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, util.HandleError(fmt.Errorf("error decoding input image: %w", err))
	}

	util.LogDebug("Fetched input image", logrus.Fields{
		"url":    url,
		"format": format,
		"bytes":  len(data),
	})
	return img, nil
}

func decodeBase64(data string) (image.Image, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, util.HandleError(fmt.Errorf("error decoding base64 image: %w", err))
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, util.HandleError(fmt.Errorf("error decoding input image: %w", err))
	}
	return img, nil
}

// Align resizes an image up to block-aligned dimensions when needed and
// converts it to RGBA. Images already aligned pass through with only the
// color-model conversion.
func Align(img image.Image) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	aw, ah := AlignDim(w), AlignDim(h)

	dst := image.NewRGBA(image.Rect(0, 0, aw, ah))
	if aw == w && ah == h {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
		return dst
	}

	util.LogDebug("Resizing input image to block-aligned dimensions", logrus.Fields{
		"from": fmt.Sprintf("%dx%d", w, h),
		"to":   fmt.Sprintf("%dx%d", aw, ah),
	})
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// EncodePNG serializes an image to PNG bytes
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, util.HandleError(fmt.Errorf("error encoding png: %w", err))
	}
	return buf.Bytes(), nil
}

// EncodeBase64PNG serializes an image to a base64 PNG payload for the worker
func EncodeBase64PNG(img image.Image) (string, error) {
	data, err := EncodePNG(img)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// WriteOutput persists one generated image under dir and returns its path
func WriteOutput(dir, filename string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", util.HandleError(fmt.Errorf("failed to create output directory: %w", err))
	}
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", util.HandleError(fmt.Errorf("failed to write output file: %w", err))
	}
	return path, nil
}

// Thumbnail scales an image down to fit the thumbnail bounding box
func Thumbnail(img image.Image) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	tw, th := ThumbnailSize, ThumbnailSize
	if w > h {
		th = h * ThumbnailSize / w
	} else if h > w {
		tw = w * ThumbnailSize / h
	}
	if tw < 1 {
		tw = 1
	}
	if th < 1 {
		th = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// DecodePNG decodes PNG bytes, used when sizing stored outputs
func DecodePNG(data []byte) (image.Image, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, util.HandleError(fmt.Errorf("error decoding png: %w", err))
	}
	return img, nil
}
