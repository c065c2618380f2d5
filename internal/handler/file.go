package handler

import (
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/academy/internal/fileserver"
)

// FileHandler serves attachment upload and download on top of local storage.
type FileHandler struct {
	fileSvc *fileserver.Service
	maxSize int64
}

func NewFileHandler(uploadDir string, maxUploadSize int64) *FileHandler {
	return &FileHandler{
		fileSvc: fileserver.New(uploadDir, maxUploadSize),
		maxSize: maxUploadSize,
	}
}

func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxSize)
	h.fileSvc.Upload(w, r)
}

func (h *FileHandler) Serve(w http.ResponseWriter, r *http.Request) {
	filename := filepath.Base(chi.URLParam(r, "filename"))
	h.fileSvc.Serve(w, r, filename)
}
