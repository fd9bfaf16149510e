package wsi

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func slideWithAppMag(appMag string) Slide {
	props := Properties{}
	if appMag != "" {
		props[PropertyAppMag] = appMag
	}
	return NewImageSlide(image.NewRGBA(image.Rect(0, 0, 4, 4)), props)
}

func TestScaleFactorAtMagnification(t *testing.T) {
	tests := []struct {
		name      string
		appMag    string
		requested int
		want      int
		errMsg    string
	}{
		{name: "equal", appMag: "20", requested: 20, want: 1},
		{name: "divisor", appMag: "40", requested: 10, want: 4},
		{name: "float appmag", appMag: "40.0", requested: 20, want: 2},
		{name: "too low", appMag: "20", requested: 40, errMsg: "expected magnification >= 40 but got 20"},
		{name: "not a divisor", appMag: "40", requested: 15, errMsg: "expected magnification 15 to be a divisor of 40"},
		{name: "missing", appMag: "", requested: 20, errMsg: PropertyAppMag},
		{name: "garbage", appMag: "twenty", requested: 20, errMsg: PropertyAppMag},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ScaleFactorAtMagnification(slideWithAppMag(tt.appMag), tt.requested)
			if tt.errMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
