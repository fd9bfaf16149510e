// Package images converts a scan's DICOM slices to fixed-size 8-bit
// images and keeps them as Parquet objects in the object store.
package images

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"net/http"
	"runtime"

	"github.com/gin-gonic/gin"
	"github.com/parquet-go/parquet-go"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"mind/pkg/api"
	"mind/pkg/dicomio"
	"mind/pkg/objectstore"
)

// ServiceName labels logs and metrics.
const ServiceName = "images"

// ObjectPrefix is the key prefix of converted scans within a project bucket.
const ObjectPrefix = "radiology-images/"

// ConvertRequest lists the slices of a scan and the output size.
type ConvertRequest struct {
	Paths  []string `json:"paths" binding:"required,min=1"`
	Width  int      `json:"width" binding:"required,gt=0"`
	Height int      `json:"height" binding:"required,gt=0"`
}

// DownloadRequest names the local destination of a download.
type DownloadRequest struct {
	OutputLocation string `json:"output_location" binding:"required"`
}

// Row is one converted slice. The request parameters are repeated on
// every row.
type Row struct {
	Content []byte `parquet:"content"`
	Path    string `parquet:"path"`
	Width   int64  `parquet:"width"`
	Height  int64  `parquet:"height"`
}

// ObjectKey is the key of a scan's Parquet object.
func ObjectKey(scanID string) string {
	return ObjectPrefix + scanID + ".parquet"
}

type Handlers struct {
	store objectstore.Store
	log   *zap.Logger
	load  func(path string) (*image.Gray, error)
}

func NewHandlers(store objectstore.Store, log *zap.Logger) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{store: store, log: log, load: loadDicom}
}

func RegisterRoutes(router gin.IRouter, h *Handlers) {
	router.GET("/service/health", api.Health(ServiceName, nil))

	scans := router.Group("/radiology/images/:project_id/:scan_id")
	{
		scans.POST("", h.Convert)
		scans.GET("", h.Download)
		scans.DELETE("", h.Delete)
	}
}

func loadDicom(path string) (*image.Gray, error) {
	img, err := dicomio.ReadImage(path)
	if err != nil {
		return nil, err
	}
	return img.Gray8(), nil
}

// Resize scales src to w×h with bilinear interpolation.
func Resize(src *image.Gray, w, h int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// Encode writes rows as a Parquet file.
func Encode(rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	if err := parquet.Write(&buf, rows); err != nil {
		return nil, fmt.Errorf("writing parquet: %w", err)
	}
	return buf.Bytes(), nil
}

// Convert turns every listed slice into width×height gray pixels and
// stores them in the project bucket.
func (h *Handlers) Convert(c *gin.Context) {
	project, scan := c.Param("project_id"), c.Param("scan_id")
	var req ConvertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	rows := make([]Row, len(req.Paths))
	g, _ := errgroup.WithContext(c.Request.Context())
	g.SetLimit(runtime.NumCPU())
	for i, path := range req.Paths {
		g.Go(func() error {
			src, err := h.load(path)
			if err != nil {
				return err
			}
			rows[i] = Row{
				Content: Resize(src, req.Width, req.Height).Pix,
				Path:    path,
				Width:   int64(req.Width),
				Height:  int64(req.Height),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		h.log.Warn("Converting dicoms failed", zap.String("scan_id", scan), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	body, err := Encode(rows)
	if err != nil {
		h.fail(c, err)
		return
	}
	ctx := c.Request.Context()
	if err := h.store.EnsureBucket(ctx, project); err != nil {
		h.fail(c, err)
		return
	}
	key := ObjectKey(scan)
	meta := map[string]string{"scan_id": scan, "slices": fmt.Sprint(len(rows))}
	if err := h.store.Put(ctx, project, key, body, meta); err != nil {
		h.fail(c, err)
		return
	}
	h.log.Info("Stored scan images", zap.String("bucket", project), zap.String("key", key), zap.Int("slices", len(rows)))
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Parquet created at %s/%s", project, key)})
}

// Download fetches a scan's object to a local path.
func (h *Handlers) Download(c *gin.Context) {
	project, scan := c.Param("project_id"), c.Param("scan_id")
	var req DownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	key := ObjectKey(scan)
	meta, err := h.store.Download(c.Request.Context(), project, key, req.OutputLocation)
	if err != nil {
		h.fail(c, err)
		return
	}
	resp := make(gin.H, len(meta)+1)
	for k, v := range meta {
		resp[k] = v
	}
	resp["message"] = fmt.Sprintf("Downloaded object %s/%s at %s", project, key, req.OutputLocation)
	c.JSON(http.StatusOK, resp)
}

// Delete removes a scan's object.
func (h *Handlers) Delete(c *gin.Context) {
	project, scan := c.Param("project_id"), c.Param("scan_id")
	key := ObjectKey(scan)
	if err := h.store.Delete(c.Request.Context(), project, key); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Removed object %s/%s", project, key)})
}

func (h *Handlers) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, objectstore.ErrNotFound) {
		status = http.StatusNotFound
	}
	h.log.Error("Object store request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	c.JSON(status, gin.H{"message": err.Error()})
}
