package router

import (
	"net/http"

	"github.com/wb-go/wbf/ginext"

	"github.com/aliskhannn/imager/internal/api/handlers/image"
	"github.com/aliskhannn/imager/internal/middleware"
)

// Setup wires the upload and file routes. metrics may be nil.
func Setup(h *image.Handler, metrics http.Handler, corsOrigins []string) *ginext.Engine {
	r := ginext.New()

	r.Use(middleware.CORSMiddleware(corsOrigins))
	r.Use(ginext.Logger())
	r.Use(ginext.Recovery())

	r.POST("/upload", h.Upload)                  // single image, returned as a download
	r.POST("/upload-multiple", h.UploadMultiple) // up to 10 images, returns a manifest
	r.GET("/files", h.ListFiles)                 // HTML listing of processed images
	r.GET("/files/:name", h.GetFile)             // processed image by name
	r.GET("/healthz", h.Health)

	if metrics != nil {
		r.GET("/metrics", func(c *ginext.Context) {
			metrics.ServeHTTP(c.Writer, c.Request)
		})
	}

	return r
}
