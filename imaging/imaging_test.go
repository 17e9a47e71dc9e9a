package imaging

import (
	"context"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func testImage(t *testing.T, w, h int) image.Image {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), A: 255})
		}
	}
	return img
}

func TestAlignDim(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 64},
		{1, 64},
		{64, 64},
		{65, 128},
		{768, 768},
		{1000, 1024},
	}
	for _, tt := range tests {
		if got := AlignDim(tt.in); got != tt.want {
			t.Errorf("AlignDim(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestAligned(t *testing.T) {
	if !Aligned(1024, 768) {
		t.Error("1024x768 should be aligned")
	}
	if Aligned(1000, 768) {
		t.Error("1000x768 should not be aligned")
	}
}

func TestAlignResizesUp(t *testing.T) {
	img := Align(testImage(t, 100, 200))
	b := img.Bounds()
	if b.Dx() != 128 || b.Dy() != 256 {
		t.Errorf("aligned to %dx%d, want 128x256", b.Dx(), b.Dy())
	}
}

func TestAlignPassthrough(t *testing.T) {
	img := Align(testImage(t, 128, 64))
	b := img.Bounds()
	if b.Dx() != 128 || b.Dy() != 64 {
		t.Errorf("aligned image resized to %dx%d, want unchanged 128x64", b.Dx(), b.Dy())
	}
}

func TestFetchBase64RoundTrip(t *testing.T) {
	payload, err := EncodeBase64PNG(testImage(t, 32, 32))
	if err != nil {
		t.Fatalf("EncodeBase64PNG failed: %v", err)
	}

	img, err := Fetch(context.Background(), payload)
	if err != nil {
		t.Fatalf("Fetch(base64) failed: %v", err)
	}
	if img.Bounds().Dx() != 32 {
		t.Errorf("decoded width = %d, want 32", img.Bounds().Dx())
	}

	img, err = Fetch(context.Background(), "data:image/png;base64,"+payload)
	if err != nil {
		t.Fatalf("Fetch(data URI) failed: %v", err)
	}
	if img.Bounds().Dy() != 32 {
		t.Errorf("decoded height = %d, want 32", img.Bounds().Dy())
	}
}

func TestFetchURL(t *testing.T) {
	data, err := EncodePNG(testImage(t, 48, 16))
	if err != nil {
		t.Fatalf("EncodePNG failed: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	}))
	defer srv.Close()

	img, err := Fetch(context.Background(), srv.URL+"/input.png")
	if err != nil {
		t.Fatalf("Fetch(url) failed: %v", err)
	}
	if img.Bounds().Dx() != 48 || img.Bounds().Dy() != 16 {
		t.Errorf("decoded %dx%d, want 48x16", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestFetchMalformed(t *testing.T) {
	if _, err := Fetch(context.Background(), "data:image/png"); err == nil {
		t.Error("expected error for data URI without payload")
	}
	if _, err := Fetch(context.Background(), "not base64 at all!!"); err == nil {
		t.Error("expected error for garbage input")
	}
}

func TestThumbnail(t *testing.T) {
	thumb := Thumbnail(testImage(t, 1024, 512))
	b := thumb.Bounds()
	if b.Dx() != 128 || b.Dy() != 64 {
		t.Errorf("thumbnail %dx%d, want 128x64", b.Dx(), b.Dy())
	}

	thumb = Thumbnail(testImage(t, 256, 1024))
	b = thumb.Bounds()
	if b.Dx() != 32 || b.Dy() != 128 {
		t.Errorf("thumbnail %dx%d, want 32x128", b.Dx(), b.Dy())
	}
}

func TestWriteOutput(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "pred-1")
	data, err := EncodePNG(testImage(t, 8, 8))
	if err != nil {
		t.Fatalf("EncodePNG failed: %v", err)
	}

	path, err := WriteOutput(dir, "out-0.png", data)
	if err != nil {
		t.Fatalf("WriteOutput failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("output file not written: %v", err)
	}

	img, err := DecodePNG(data)
	if err != nil {
		t.Fatalf("DecodePNG failed: %v", err)
	}
	if img.Bounds().Dx() != 8 {
		t.Errorf("decoded width = %d, want 8", img.Bounds().Dx())
	}
}
