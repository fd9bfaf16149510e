package wsi

import (
	"fmt"
	"image"
	"image/draw"
)

// Slide is a level-0 readable whole-slide image.
type Slide interface {
	Dimensions() (width, height int)
	Properties() Properties
	// ReadRegion returns the RGB pixels of r at level 0, clipped to the slide.
	ReadRegion(r image.Rectangle) (*image.RGBA, error)
	// Thumbnail returns the whole slide resampled to w x h.
	Thumbnail(w, h int) (*image.RGBA, error)
	Close() error
}

// ImageSlide is a Slide backed by a single decoded raster.
type ImageSlide struct {
	path   string
	raster *image.RGBA
	props  Properties
}

// OpenSlide decodes the slide raster and reads its properties.
func OpenSlide(path string) (*ImageSlide, error) {
	props, err := ReadSlideProperties(path)
	if err != nil {
		return nil, err
	}
	raster, err := decodeRaster(path)
	if err != nil {
		return nil, fmt.Errorf("opening slide %s: %w", path, err)
	}
	if raster.Bounds().Empty() {
		return nil, fmt.Errorf("slide %s has no pixels", path)
	}
	return &ImageSlide{path: path, raster: raster, props: props}, nil
}

// NewImageSlide wraps an in-memory image.
func NewImageSlide(img image.Image, props Properties) *ImageSlide {
	if props == nil {
		props = Properties{}
	}
	return &ImageSlide{raster: toRGBA(img), props: props}
}

func (s *ImageSlide) Path() string { return s.path }

func (s *ImageSlide) Dimensions() (int, int) {
	b := s.raster.Bounds()
	return b.Dx(), b.Dy()
}

func (s *ImageSlide) Properties() Properties { return s.props }

func (s *ImageSlide) ReadRegion(r image.Rectangle) (*image.RGBA, error) {
	clipped := r.Intersect(s.raster.Bounds())
	if clipped.Empty() {
		return nil, fmt.Errorf("region %v outside slide bounds %v", r, s.raster.Bounds())
	}
	dst := image.NewRGBA(image.Rect(0, 0, clipped.Dx(), clipped.Dy()))
	draw.Draw(dst, dst.Bounds(), s.raster, clipped.Min, draw.Src)
	return dst, nil
}

func (s *ImageSlide) Thumbnail(w, h int) (*image.RGBA, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid thumbnail size %dx%d", w, h)
	}
	sw, sh := s.Dimensions()
	if w == sw && h == sh {
		return s.ReadRegion(s.raster.Bounds())
	}
	return resizeRGBA(s.raster, w, h)
}

func (s *ImageSlide) Close() error {
	s.raster = nil
	return nil
}

// DownscaledThumbnail returns the slide reduced by an integer factor, with
// the target size computed by integer division.
func DownscaledThumbnail(slide Slide, factor int) (*image.RGBA, error) {
	if factor <= 0 {
		return nil, fmt.Errorf("scale factor must be positive, got %d", factor)
	}
	w, h := slide.Dimensions()
	return slide.Thumbnail(w/factor, h/factor)
}

// toRGBA returns img as an RGBA anchored at the origin.
func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
