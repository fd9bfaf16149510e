// Package dicomio reads DICOM headers and pixel data and converts them to
// Hounsfield units and 8-bit grayscale images.
package dicomio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

const (
	preambleLen = 128
	// MultiValueSep joins multi-valued elements in a flattened header.
	MultiValueSep = "//"
	// RecordPrefix is mixed into content-derived record ids.
	RecordPrefix = "DICOM"
)

// Header is a flattened DICOM header keyed by element keyword.
type Header map[string]string

// IsDICOM reports whether data carries the Part 10 "DICM" magic after the
// preamble.
func IsDICOM(data []byte) bool {
	return len(data) >= preambleLen+4 && string(data[preambleLen:preambleLen+4]) == "DICM"
}

// ReadHeader parses a file's header, skipping pixel data.
func ReadHeader(path string) (Header, error) {
	ds, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
	if err != nil {
		return nil, fmt.Errorf("parsing dicom %s: %w", path, err)
	}
	return Flatten(ds), nil
}

// Flatten converts a dataset to keyword/value strings. Multi-valued
// elements are joined with MultiValueSep; sequences, binary values and
// pixel data are skipped, as are elements without a known keyword.
func Flatten(ds dicom.Dataset) Header {
	h := make(Header, len(ds.Elements))
	for _, elem := range ds.Elements {
		info, err := tag.Find(elem.Tag)
		if err != nil || info.Name == "" {
			continue
		}
		if v, ok := valueString(elem.Value); ok {
			h[info.Name] = v
		}
	}
	return h
}

func valueString(v dicom.Value) (string, bool) {
	if v == nil {
		return "", false
	}
	switch v.ValueType() {
	case dicom.Strings:
		return joinValues(dicom.MustGetStrings(v)), true
	case dicom.Ints:
		return joinValues(dicom.MustGetInts(v)), true
	case dicom.Floats:
		return joinValues(dicom.MustGetFloats(v)), true
	default:
		return "", false
	}
}

func joinValues[T any](vals []T) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return strings.Join(parts, MultiValueSep)
}

// RecordUUID derives a stable record id from file content.
func RecordUUID(content []byte) string {
	var b bytes.Buffer
	b.WriteString(RecordPrefix)
	b.WriteByte('-')
	b.Write(content)
	return uuid.NewSHA1(uuid.NameSpaceOID, b.Bytes()).String()
}

// Image is a single-frame slice rescaled to Hounsfield units.
type Image struct {
	Rows, Cols int
	// HU values in row-major order.
	HU       []float64
	Instance string
	Header   Header
}

// ErrNoPixels is returned for files without native pixel data.
var ErrNoPixels = errors.New("no native pixel data")

// ReadImage parses a file and rescales its first frame with
// RescaleSlope and RescaleIntercept (default 1 and 0).
func ReadImage(path string) (*Image, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("parsing dicom %s: %w", path, err)
	}
	h := Flatten(ds)

	pixElem, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, ErrNoPixels)
	}
	info := dicom.MustGetPixelDataInfo(pixElem.Value)
	if len(info.Frames) == 0 || info.Frames[0].Encapsulated {
		return nil, fmt.Errorf("%s: %w", path, ErrNoPixels)
	}
	native := info.Frames[0].NativeData
	if native.Rows == 0 || native.Cols == 0 || len(native.Data) < native.Rows*native.Cols {
		return nil, fmt.Errorf("%s: %w", path, ErrNoPixels)
	}

	slope := headerFloat(h, "RescaleSlope", 1)
	intercept := headerFloat(h, "RescaleIntercept", 0)
	hu := make([]float64, native.Rows*native.Cols)
	for i := range hu {
		hu[i] = Rescale(float64(native.Data[i][0]), slope, intercept)
	}

	instance := h["InstanceNumber"]
	if instance == "" {
		instance = h["SOPInstanceUID"]
	}
	return &Image{Rows: native.Rows, Cols: native.Cols, HU: hu, Instance: instance, Header: h}, nil
}

// ReadFile reads a whole file and verifies the Part 10 magic.
func ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !IsDICOM(data) {
		return nil, fmt.Errorf("%s is not a DICOM Part 10 file", path)
	}
	return data, nil
}

// Rescale maps a stored value to Hounsfield units.
func Rescale(v, slope, intercept float64) float64 {
	return slope*v + intercept
}

// Window clips HU values to [low, high] and scales them to 8 bits.
func (im *Image) Window(low, high float64) *image.Gray {
	return toGray(im.Rows, im.Cols, im.HU, low, high)
}

// Gray8 scales the full HU range of the image to 8 bits.
func (im *Image) Gray8() *image.Gray {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range im.HU {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return toGray(im.Rows, im.Cols, im.HU, lo, hi)
}

func toGray(rows, cols int, vals []float64, lo, hi float64) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, cols, rows))
	span := hi - lo
	for i, v := range vals {
		if v < lo {
			v = lo
		} else if v > hi {
			v = hi
		}
		var p float64
		if span > 0 {
			p = (v - lo) / span * 255
		}
		g.Pix[i] = uint8(math.Round(p))
	}
	return g
}

func headerFloat(h Header, key string, def float64) float64 {
	s, ok := h[key]
	if !ok {
		return def
	}
	// Multi-valued decimal strings use the first value.
	s, _, _ = strings.Cut(s, MultiValueSep)
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return def
	}
	return f
}
