package processor

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int, fill func(x, y int) color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, fill(x, y))
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPreprocessImageResizesAndKeepsPNG(t *testing.T) {
	data := encodePNG(t, 400, 100, func(x, _ int) color.Color {
		if x%20 < 10 {
			return color.Black
		}
		return color.White
	})

	out, mimeType, err := PreprocessImage(data, "image/png", 200)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mimeType)

	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
	assert.Equal(t, 50, img.Bounds().Dy())
}

func TestPreprocessImageReencodesAsJPEG(t *testing.T) {
	data := encodePNG(t, 30, 30, func(_, _ int) color.Color { return color.Gray{Y: 40} })

	_, mimeType, err := PreprocessImage(data, "image/webp", 0)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", mimeType)
}

func TestPreprocessImagePassesPDFThrough(t *testing.T) {
	pdf := []byte("%PDF-1.7 fake")
	out, mimeType, err := PreprocessImage(pdf, "application/pdf", 100)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", mimeType)
	assert.Equal(t, pdf, out)
}

func TestPreprocessImageRejectsGarbage(t *testing.T) {
	_, _, err := PreprocessImage([]byte("not an image"), "image/png", 100)
	assert.Error(t, err)
}

func TestAnalyzeImageQuality(t *testing.T) {
	flat := image.NewGray(image.Rect(0, 0, 50, 50))
	for i := range flat.Pix {
		flat.Pix[i] = 128
	}
	// mid grey, no contrast: brightness score only
	assert.InDelta(t, 40.0, analyzeImageQuality(flat), 0.01)

	striped := image.NewGray(image.Rect(0, 0, 50, 50))
	for y := 0; y < 50; y++ {
		for x := 0; x < 50; x++ {
			if x < 25 {
				striped.SetGray(x, y, color.Gray{Y: 0})
			} else {
				striped.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	assert.Greater(t, analyzeImageQuality(striped), mediumQuality)

	assert.Equal(t, 0.0, analyzeImageQuality(image.NewGray(image.Rect(0, 0, 0, 0))))
}
