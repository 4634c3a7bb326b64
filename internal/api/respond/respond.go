package respond

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/wb-go/wbf/ginext"
)

// Manifest is the body returned for a processed batch.
type Manifest struct {
	Message string       `json:"message"`
	Files   []string     `json:"files"`
	Failed  []FailedFile `json:"failed,omitempty"`
}

// FailedFile names a batch item that could not be processed.
type FailedFile struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// JPEG streams a JPEG image from an io.Reader as a file download.
// size may be -1 when unknown.
func JPEG(c *ginext.Context, filename string, size int64, reader io.Reader) {
	c.DataFromReader(http.StatusOK, size, "image/jpeg", reader, map[string]string{
		"Content-Disposition": fmt.Sprintf(`attachment; filename="%s"`, sanitize(filename)),
	})
}

// File streams reader inline with the given content type.
func File(c *ginext.Context, contentType string, reader io.Reader) {
	c.DataFromReader(http.StatusOK, -1, contentType, reader, nil)
}

// HTML sends an HTML page.
func HTML(c *ginext.Context, status int, page []byte) {
	c.Data(status, "text/html; charset=utf-8", page)
}

// JSON sends a JSON response with the specified HTTP status code and data.
func JSON(c *ginext.Context, status int, data interface{}) {
	c.JSON(status, data)
}

// OK sends a 200 OK JSON response.
func OK(c *ginext.Context, data interface{}) {
	JSON(c, http.StatusOK, data)
}

// Text sends a plain-text response.
func Text(c *ginext.Context, status int, msg string) {
	c.String(status, msg)
}

// Fail sends a plain-text error response and stops the handler chain.
func Fail(c *ginext.Context, status int, msg string) {
	c.Abort()
	Text(c, status, msg)
}

func sanitize(filename string) string {
	return strings.Map(func(r rune) rune {
		if r == '"' || r == '\\' || r < 0x20 {
			return '_'
		}
		return r
	}, filename)
}
