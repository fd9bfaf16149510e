package methods

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"mind/pkg/dicomio"
	"mind/pkg/graph"
)

const FuncWindowDicom = "window_dicom"

// WindowRequest rescales CT slices to HU and optionally windows them.
type WindowRequest struct {
	JobTag          string   `json:"job_tag" validate:"required"`
	DicomInputTag   string   `json:"dicom_input_tag" validate:"required"`
	Window          bool     `json:"window"`
	WindowLowLevel  *float64 `json:"window_low_level" validate:"required_if=Window true"`
	WindowHighLevel *float64 `json:"window_high_level" validate:"required_if=Window true"`
}

func init() {
	register(Method{Name: FuncWindowDicom, Request: func() any { return &WindowRequest{} }, run: runWindowDicom})
}

func runWindowDicom(ctx context.Context, j *job) (graph.Node, error) {
	var req WindowRequest
	if err := decode(j.params, &req); err != nil {
		return graph.Node{}, err
	}
	if req.Window && *req.WindowLowLevel >= *req.WindowHighLevel {
		return graph.Node{}, fmt.Errorf("window_low_level %v must be below window_high_level %v",
			*req.WindowLowLevel, *req.WindowHighLevel)
	}

	input, err := j.container.Get(ctx, "dicom", req.DicomInputTag)
	if err != nil {
		return graph.Node{}, fmt.Errorf("dicom node: %w", err)
	}
	files, err := findDicoms(input.Path)
	if err != nil {
		return graph.Node{}, err
	}
	if len(files) == 0 {
		return graph.Node{}, fmt.Errorf("no .dcm files under %s", input.Path)
	}

	dir, err := j.outputDir(req.JobTag)
	if err != nil {
		return graph.Node{}, err
	}

	written := 0
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return graph.Node{}, err
		}
		im, err := dicomio.ReadImage(f)
		if err != nil {
			return graph.Node{}, err
		}
		gray := im.Gray8()
		if req.Window {
			gray = im.Window(*req.WindowLowLevel, *req.WindowHighLevel)
		}
		name := im.Instance
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(f), filepath.Ext(f))
		}
		if err := writePNG(filepath.Join(dir, name+".png"), gray); err != nil {
			return graph.Node{}, err
		}
		written++
	}
	j.log.Info("Windowed dicom slices", zap.Int("count", written), zap.String("output", dir))

	props := map[string]any{
		"path":       dir,
		"file_count": written,
		"window":     req.Window,
	}
	if req.Window {
		props["window_low_level"] = *req.WindowLowLevel
		props["window_high_level"] = *req.WindowHighLevel
	}
	return graph.NewNode("png", req.JobTag, props), nil
}

// findDicoms returns every *.dcm file under root in lexical order.
func findDicoms(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".dcm") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}
	return files, nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return f.Close()
}
