// imageprocessor.go - Image preprocessing for report pages sent to the extractor

package processor

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"
	"strings"

	"github.com/disintegration/imaging"
)

// DefaultMaxDimension is used when the caller passes a non-positive limit.
const DefaultMaxDimension = 2000

// Quality thresholds for analyzeImageQuality scores.
const (
	poorQuality   = 50.0
	mediumQuality = 75.0
)

// PreprocessImage resizes and enhances an in-memory report page so small printed digits
// survive model vision. PDFs pass through untouched. PNG input stays PNG; everything
// else is re-encoded as JPEG.
func PreprocessImage(data []byte, mimeType string, maxDimension int) ([]byte, string, error) {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if mimeType == "application/pdf" {
		return data, mimeType, nil
	}
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}

	// Step 1: Decode (with EXIF orientation) and analyze
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	qualityScore := analyzeImageQuality(img)

	// Step 2: Resize to fit maxDimension
	img = fit(img, maxDimension)

	// Step 3: Adaptive enhancement
	switch {
	case qualityScore < poorQuality:
		img = applyAggressiveEnhancement(img)
	case qualityScore < mediumQuality:
		img = applyStandardEnhancement(img)
	default:
		img = applyLightEnhancement(img)
	}

	// Step 4: Encode
	var buf bytes.Buffer
	if mimeType == "image/png" {
		err = png.Encode(&buf, img)
	} else {
		mimeType = "image/jpeg"
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95})
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode processed image: %w", err)
	}
	return buf.Bytes(), mimeType, nil
}

func fit(img image.Image, maxDimension int) image.Image {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= maxDimension && height <= maxDimension {
		return img
	}
	if width > height {
		return imaging.Resize(img, maxDimension, 0, imaging.Lanczos)
	}
	return imaging.Resize(img, 0, maxDimension, imaging.Lanczos)
}

// analyzeImageQuality returns a 0-100 score from sampled brightness and contrast.
func analyzeImageQuality(img image.Image) float64 {
	bounds := img.Bounds()

	var totalBrightness float64
	minBrightness, maxBrightness := 255.0, 0.0
	pixelCount := 0

	// Sample every 10th pixel
	for y := bounds.Min.Y; y < bounds.Max.Y; y += 10 {
		for x := bounds.Min.X; x < bounds.Max.X; x += 10 {
			r, g, b, _ := img.At(x, y).RGBA()
			brightness := (float64(r>>8) + float64(g>>8) + float64(b>>8)) / 3.0

			totalBrightness += brightness
			minBrightness = math.Min(minBrightness, brightness)
			maxBrightness = math.Max(maxBrightness, brightness)
			pixelCount++
		}
	}
	if pixelCount == 0 {
		return 0
	}

	avgBrightness := totalBrightness / float64(pixelCount)
	contrast := maxBrightness - minBrightness

	// Ideal: avgBrightness = 128, contrast = 200+
	brightnessScore := 100.0 - math.Abs(avgBrightness-128.0)/1.28
	contrastScore := math.Min(contrast/2.0, 100.0)

	return brightnessScore*0.4 + contrastScore*0.6
}

// applyLightEnhancement for clean scans
func applyLightEnhancement(img image.Image) image.Image {
	result := imaging.Sharpen(img, 1.5)
	result = imaging.Grayscale(result)
	return imaging.AdjustContrast(result, 20)
}

// applyStandardEnhancement for phone photos with uneven lighting
func applyStandardEnhancement(img image.Image) image.Image {
	result := imaging.Sharpen(img, 2.5)
	result = imaging.AdjustContrast(result, 40)
	result = imaging.AdjustBrightness(result, 10)
	result = imaging.Grayscale(result)
	return imaging.AdjustGamma(result, 1.1)
}

// applyAggressiveEnhancement for faded or dark pages
func applyAggressiveEnhancement(img image.Image) image.Image {
	result := imaging.Sharpen(img, 3.5)
	result = imaging.AdjustContrast(result, 55)
	result = imaging.AdjustBrightness(result, 20)
	result = imaging.Grayscale(result)
	result = imaging.AdjustGamma(result, 1.25)

	// blur + sharpen removes speckle without softening strokes
	result = imaging.Blur(result, 0.5)
	return imaging.Sharpen(result, 2.0)
}
