package handlers

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

var (
	assetExts = map[string]struct{}{
		".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {}, ".svg": {},
	}
	fileExts = map[string]struct{}{
		".pdf": {}, ".doc": {}, ".docx": {}, ".ppt": {}, ".pptx": {},
		".xls": {}, ".xlsx": {}, ".csv": {}, ".txt": {},
		".png": {}, ".jpg": {}, ".jpeg": {},
	}
)

type UploadsHandler struct {
	dir        string
	publicBase string
	maxBytes   int64
}

func NewUploadsHandler(dir, publicBase string, maxBytes int64) *UploadsHandler {
	return &UploadsHandler{
		dir:        dir,
		publicBase: strings.TrimRight(publicBase, "/"),
		maxBytes:   maxBytes,
	}
}

// POST /api/upload-asset (images for branding)
func (h *UploadsHandler) Asset(ctx *gin.Context) {
	h.save(ctx, "assets", assetExts)
}

// POST /api/upload-file (payment proofs, brochures)
func (h *UploadsHandler) File(ctx *gin.Context) {
	h.save(ctx, "files", fileExts)
}

func (h *UploadsHandler) save(ctx *gin.Context, sub string, allowed map[string]struct{}) {
	fh, err := ctx.FormFile("file")
	if err != nil {
		RespondBadRequest(ctx, "multipart field \"file\" is required", gin.H{"field": "file"})
		return
	}

	if h.maxBytes > 0 && fh.Size > h.maxBytes {
		RespondError(ctx, http.StatusRequestEntityTooLarge, "file_too_large", "File exceeds the upload limit", gin.H{"maxBytes": h.maxBytes})
		return
	}

	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if _, ok := allowed[ext]; !ok {
		RespondError(ctx, http.StatusUnsupportedMediaType, "unsupported_file_type", "File type is not allowed", gin.H{"ext": ext})
		return
	}

	dir := filepath.Join(h.dir, sub)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		RespondInternal(ctx, "Could not store file")
		return
	}

	name := uuid.NewString() + ext
	if err := ctx.SaveUploadedFile(fh, filepath.Join(dir, name)); err != nil {
		RespondInternal(ctx, "Could not store file")
		return
	}

	rel := path.Join("/uploads", sub, name)

	ctx.JSON(http.StatusCreated, gin.H{
		"url":          h.publicBase + rel,
		"path":         rel,
		"originalName": filepath.Base(fh.Filename),
		"size":         fh.Size,
	})
}
