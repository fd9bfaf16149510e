package wsi

import "fmt"

// ScaleFactorAtMagnification returns the integer factor between the slide's
// scanned magnification and the requested one.
func ScaleFactorAtMagnification(slide Slide, requested int) (int, error) {
	if requested <= 0 {
		return 0, fmt.Errorf("requested magnification must be positive, got %d", requested)
	}
	scanned, ok := slide.Properties().GetInt(PropertyAppMag)
	if !ok {
		return 0, fmt.Errorf("slide has no valid %s property", PropertyAppMag)
	}
	switch {
	case scanned == requested:
		return 1, nil
	case scanned < requested:
		return 0, fmt.Errorf("expected magnification >= %d but got %d", requested, scanned)
	case scanned%requested == 0:
		return scanned / requested, nil
	default:
		return 0, fmt.Errorf("expected magnification %d to be a divisor of %d", requested, scanned)
	}
}
