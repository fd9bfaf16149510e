package wsi

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	stainColor      = color.RGBA{150, 50, 150, 255}
	backgroundColor = color.RGBA{255, 255, 255, 255}
)

// syntheticSlide returns a w x h raster stained left of tissueW and white elsewhere.
func syntheticSlide(w, h, tissueW int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < tissueW {
				img.SetRGBA(x, y, stainColor)
			} else {
				img.SetRGBA(x, y, backgroundColor)
			}
		}
	}
	return img
}

// writeSlide saves a synthetic slide as PNG with an AppMag sidecar.
func writeSlide(t *testing.T, dir string, w, h, tissueW int, appMag string) string {
	t.Helper()
	path := filepath.Join(dir, "slide.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, syntheticSlide(w, h, tissueW)))
	require.NoError(t, f.Close())

	if appMag != "" {
		sidecar := "aperio.AppMag: " + appMag + "\naperio.MPP: 0.499\n"
		require.NoError(t, os.WriteFile(SidecarPath(path), []byte(sidecar), 0o644))
	}
	return path
}
