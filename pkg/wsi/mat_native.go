//go:build !purego

package wsi

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Mat wraps gocv.Mat for the native OpenCV backend.
type Mat struct {
	m gocv.Mat
}

func NewMat() Mat                            { return Mat{m: gocv.NewMat()} }
func NewMatWithSize(rows, cols int) Mat      { return Mat{m: gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV32F)} }
func (mat Mat) Rows() int                    { return mat.m.Rows() }
func (mat Mat) Cols() int                    { return mat.m.Cols() }
func (mat Mat) Empty() bool                  { return mat.m.Empty() }
func (mat Mat) Clone() Mat                   { return Mat{m: mat.m.Clone()} }
func (mat *Mat) Close()                      { mat.m.Close() }
func (mat Mat) Region(r image.Rectangle) Mat { return Mat{m: mat.m.Region(r)} }

func (mat Mat) DataFloat32() []float32 {
	data, _ := mat.m.DataPtrFloat32()
	return data
}

// --- CV operations ---

// thresholdBinaryInv sets dst to maxval where src <= thresh and 0 elsewhere.
func thresholdBinaryInv(src Mat, dst *Mat, thresh, maxval float32) {
	gocv.Threshold(src.m, &dst.m, thresh, maxval, gocv.ThresholdBinaryInv)
}

func countNonZero(src Mat) int {
	return gocv.CountNonZero(src.m)
}

func matMeanStdDev(src Mat) (float64, float64) {
	meanMat := gocv.NewMat()
	defer meanMat.Close()
	stdMat := gocv.NewMat()
	defer stdMat.Close()
	gocv.MeanStdDev(src.m, &meanMat, &stdMat)
	return meanMat.GetDoubleAt(0, 0), stdMat.GetDoubleAt(0, 0)
}

// resizeRGBA scales src to w x h using pixel area relation, which is what
// OpenCV recommends for decimation.
func resizeRGBA(src *image.RGBA, w, h int) (*image.RGBA, error) {
	in, err := gocv.ImageToMatRGB(src)
	if err != nil {
		return nil, fmt.Errorf("converting raster to mat: %w", err)
	}
	defer in.Close()

	out := gocv.NewMat()
	defer out.Close()
	gocv.Resize(in, &out, image.Pt(w, h), 0, 0, gocv.InterpolationArea)

	img, err := out.ToImage()
	if err != nil {
		return nil, fmt.Errorf("converting resized mat: %w", err)
	}
	return toRGBA(img), nil
}

// decodeRaster reads an image file through OpenCV, which also handles the
// JPEG-in-TIFF compression used by most scanners.
func decodeRaster(path string) (*image.RGBA, error) {
	src := gocv.IMRead(path, gocv.IMReadColor)
	if src.Empty() {
		return nil, fmt.Errorf("could not load image: %s", path)
	}
	defer src.Close()

	img, err := src.ToImage()
	if err != nil {
		return nil, fmt.Errorf("converting %s: %w", path, err)
	}
	return toRGBA(img), nil
}
