package handlers

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MaxUploadSize caps a single uploaded image.
const MaxUploadSize = 5 << 20

// allowedImages maps accepted content types to the stored extension.
var allowedImages = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// UploadFile handles POST /v1/uploads
// The content is sniffed rather than trusting the client's name or header,
// saved under UploadDir with a random name, and its public URL returned.
func (h *Handlers) UploadFile(c *gin.Context) {
	// 1. Get the file from the request
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+(1<<20))
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}
	if file.Size > MaxUploadSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File is larger than 5 MiB"})
		return
	}

	src, err := file.Open()
	if err != nil {
		internalError(c, err, "Failed to read upload")
		return
	}
	defer src.Close()

	// 2. Detect the real type
	mt, err := mimetype.DetectReader(src)
	if err != nil {
		internalError(c, err, "Failed to read upload")
		return
	}
	ext, ok := allowedImages[strings.ToLower(mt.String())]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Unsupported file type %s", mt.String())})
		return
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		internalError(c, err, "Failed to read upload")
		return
	}

	// 3. Create the upload directory if it doesn't exist
	uploadPath := h.UploadDir
	if uploadPath == "" {
		uploadPath = "./uploads"
	}
	if err := os.MkdirAll(uploadPath, 0o755); err != nil {
		internalError(c, err, "Failed to prepare upload directory")
		return
	}

	// 4. Save under a safe unique filename (uuid + extension)
	newFilename := uuid.NewString() + ext
	dst, err := os.Create(filepath.Join(uploadPath, newFilename))
	if err != nil {
		internalError(c, err, "Failed to save file")
		return
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		internalError(c, err, "Failed to save file")
		return
	}
	if err := dst.Close(); err != nil {
		internalError(c, err, "Failed to save file")
		return
	}

	// 5. Return the public URL
	baseURL := strings.TrimRight(h.BaseURL, "/")
	c.JSON(http.StatusCreated, gin.H{
		"url": fmt.Sprintf("%s/uploads/%s", baseURL, newFilename),
	})
}
