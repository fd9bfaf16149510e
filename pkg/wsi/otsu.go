package wsi

import (
	"image"
	"math"
)

// Luminance weights for RGB to grayscale conversion (ITU-R 709).
const (
	lumaR = 0.2125
	lumaG = 0.7154
	lumaB = 0.0721
)

const otsuBins = 256

// Grayscale converts an RGB raster to a CV_32F Mat normalized to [0, 1].
func Grayscale(img *image.RGBA) Mat {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	gray := NewMatWithSize(h, w)
	dest := gray.DataFloat32()
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			p := row[x*4 : x*4+3]
			v := lumaR*float64(p[0]) + lumaG*float64(p[1]) + lumaB*float64(p[2])
			dest[y*w+x] = float32(v / 255.0)
		}
	}
	return gray
}

// OtsuThreshold computes the threshold maximizing the between-class
// variance of a 256-bin histogram spanning the image's value range. A
// uniform image returns its single value.
func OtsuThreshold(gray Mat) float64 {
	n := gray.Rows() * gray.Cols()
	if n == 0 {
		return 0
	}
	data := gray.DataFloat32()

	lo, hi := math.Inf(1), math.Inf(-1)
	for i := 0; i < n; i++ {
		v := float64(data[i])
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo == hi {
		return lo
	}

	histogram := make([]float64, otsuBins)
	binWidth := (hi - lo) / otsuBins
	for i := 0; i < n; i++ {
		idx := int((float64(data[i]) - lo) / binWidth)
		if idx >= otsuBins {
			idx = otsuBins - 1
		}
		histogram[idx]++
	}
	centers := make([]float64, otsuBins)
	for i := range centers {
		centers[i] = lo + binWidth*(float64(i)+0.5)
	}

	// Class probabilities and means for every split point, from both ends.
	weight1 := make([]float64, otsuBins)
	mean1 := make([]float64, otsuBins)
	var cumW, cumM float64
	for i := 0; i < otsuBins; i++ {
		cumW += histogram[i]
		cumM += histogram[i] * centers[i]
		weight1[i] = cumW
		mean1[i] = cumM / cumW
	}
	weight2 := make([]float64, otsuBins)
	mean2 := make([]float64, otsuBins)
	cumW, cumM = 0, 0
	for i := otsuBins - 1; i >= 0; i-- {
		cumW += histogram[i]
		cumM += histogram[i] * centers[i]
		weight2[i] = cumW
		mean2[i] = cumM / cumW
	}

	best, bestVariance := 0, -1.0
	for i := 0; i < otsuBins-1; i++ {
		d := mean1[i] - mean2[i+1]
		variance := weight1[i] * weight2[i+1] * d * d
		if variance > bestVariance {
			best, bestVariance = i, variance
		}
	}
	return centers[best]
}

// MakeOtsu labels every pixel 1 (foreground, darker than the scaled Otsu
// threshold) or 0 (background).
func MakeOtsu(img *image.RGBA, scale float64) Mat {
	gray := Grayscale(img)
	defer gray.Close()

	threshold := OtsuThreshold(gray) * scale
	mask := NewMatWithSize(gray.Rows(), gray.Cols())
	// Inverse binary threshold keeps values <= thresh; step below it for a strict comparison.
	below := math.Nextafter32(float32(threshold), float32(math.Inf(-1)))
	thresholdBinaryInv(gray, &mask, below, 1.0)
	return mask
}

// regionMean returns the mean of a rectangular region of m.
func regionMean(m Mat, r image.Rectangle) float64 {
	sub := m.Region(r).Clone()
	defer sub.Close()
	mean, _ := matMeanStdDev(sub)
	return mean
}

// ForegroundFraction reports the share of non-zero mask pixels.
func ForegroundFraction(mask Mat) float64 {
	n := mask.Rows() * mask.Cols()
	if n == 0 {
		return 0
	}
	return float64(countNonZero(mask)) / float64(n)
}
