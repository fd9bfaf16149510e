package methods

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mind/pkg/graph"
	"mind/pkg/wsi"
)

const (
	FuncPretile        = "pretile"
	FuncVisualizeTiles = "visualize_tiles"
	FuncCollectTiles   = "collect_tiles"
)

// PretileRequest scores the tiles of a slide.
type PretileRequest struct {
	JobTag      string `json:"job_tag" validate:"required"`
	InputWSITag string `json:"input_wsi_tag" validate:"required"`
	wsi.TileParams
}

// TileLabelRequest operates on a slide and its scored tile index. Tile
// parameters come from the index node.
type TileLabelRequest struct {
	JobTag        string `json:"job_tag" validate:"required"`
	InputWSITag   string `json:"input_wsi_tag" validate:"required"`
	InputLabelTag string `json:"input_label_tag" validate:"required"`
}

func init() {
	register(Method{Name: FuncPretile, Request: func() any { return &PretileRequest{} }, run: runPretile})
	register(Method{Name: FuncVisualizeTiles, Request: func() any { return &TileLabelRequest{} }, run: runVisualizeTiles})
	register(Method{Name: FuncCollectTiles, Request: func() any { return &TileLabelRequest{} }, run: runCollectTiles})
}

func runPretile(ctx context.Context, j *job) (graph.Node, error) {
	var req PretileRequest
	if err := decode(j.params, &req); err != nil {
		return graph.Node{}, err
	}
	slide, err := j.container.Get(ctx, "wsi", req.InputWSITag)
	if err != nil {
		return graph.Node{}, fmt.Errorf("image node: %w", err)
	}
	dir, err := j.outputDir(req.JobTag)
	if err != nil {
		return graph.Node{}, err
	}
	res, err := j.proc.PretileScoring(ctx, slide.Path, dir, req.TileParams)
	if err != nil {
		return graph.Node{}, err
	}
	return graph.NewNode("TileScores", req.JobTag, res.Properties()), nil
}

// tileLabelInputs resolves the slide and tile index nodes and merges the
// index properties into the job parameters.
func tileLabelInputs(ctx context.Context, j *job) (TileLabelRequest, string, string, wsi.TileParams, error) {
	var req TileLabelRequest
	if err := decode(j.params, &req); err != nil {
		return req, "", "", wsi.TileParams{}, err
	}
	slide, err := j.container.Get(ctx, "wsi", req.InputWSITag)
	if err != nil {
		return req, "", "", wsi.TileParams{}, fmt.Errorf("image node: %w", err)
	}
	labels, err := j.container.Get(ctx, "TileScores", req.InputLabelTag)
	if err != nil {
		return req, "", "", wsi.TileParams{}, fmt.Errorf("label node: %w", err)
	}
	for k, v := range labels.Properties {
		j.params[k] = v
	}

	var params wsi.TileParams
	if err := decode(j.params, &params); err != nil {
		return req, "", "", wsi.TileParams{}, err
	}
	j.log.Info("Resolved tile inputs",
		zap.String("slide", slide.Path),
		zap.String("scores", labels.Path),
		zap.Int("tile_size", params.TileSize),
		zap.Int("magnification", params.Magnification),
	)
	return req, slide.Path, labels.Path, params, nil
}

func runVisualizeTiles(ctx context.Context, j *job) (graph.Node, error) {
	req, slidePath, scoresPath, params, err := tileLabelInputs(ctx, j)
	if err != nil {
		return graph.Node{}, err
	}
	dir, err := j.outputDir(req.JobTag)
	if err != nil {
		return graph.Node{}, err
	}
	res, err := j.proc.VisualizeScoring(ctx, slidePath, scoresPath, dir, params)
	if err != nil {
		return graph.Node{}, err
	}
	return graph.NewNode("TileScoresVisualization", req.JobTag, res.Properties()), nil
}

func runCollectTiles(ctx context.Context, j *job) (graph.Node, error) {
	req, slidePath, scoresPath, params, err := tileLabelInputs(ctx, j)
	if err != nil {
		return graph.Node{}, err
	}
	dir, err := j.outputDir(req.JobTag)
	if err != nil {
		return graph.Node{}, err
	}
	res, err := j.proc.SaveTiles(ctx, slidePath, scoresPath, dir, params)
	if err != nil {
		return graph.Node{}, err
	}
	return graph.NewNode("TileImages", req.JobTag, res.Properties()), nil
}
