package handlers

import (
	"errors"
	"net/http"

	"github.com/andresuchdata/uploadprobe/internal/domain"
	"github.com/andresuchdata/uploadprobe/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type UploadHandler struct {
	service *service.UploadService
}

func NewUploadHandler(service *service.UploadService) *UploadHandler {
	return &UploadHandler{service: service}
}

// Presign handles GET /upload/presign
func (h *UploadHandler) Presign(c *gin.Context) {
	result, err := h.service.Presign(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("presign failed")
		respondError(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondSuccess(c, http.StatusOK, result)
}

// Complete handles GET /upload/:file_id/complete
func (h *UploadHandler) Complete(c *gin.Context) {
	record, err := h.service.Complete(c.Request.Context(), c.Param("file_id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, record)
}

// Download handles GET /file/:file_id/dl
func (h *UploadHandler) Download(c *gin.Context) {
	ref, err := h.service.DownloadRef(c.Request.Context(), c.Param("file_id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, ref)
}

func (h *UploadHandler) ListFiles(c *gin.Context) {
	records, err := h.service.List(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, records)
}

func (h *UploadHandler) GetFile(c *gin.Context) {
	record, err := h.service.Get(c.Request.Context(), c.Param("file_id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, record)
}

func (h *UploadHandler) RenameFile(c *gin.Context) {
	var req domain.RenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	record, err := h.service.Rename(c.Request.Context(), c.Param("file_id"), req.Filename)
	if err != nil {
		h.handleError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, record)
}

func (h *UploadHandler) DeleteFile(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("file_id")); err != nil {
		h.handleError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, nil)
}

func (h *UploadHandler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrFileIDNotFound),
		errors.Is(err, service.ErrObjectMissing),
		errors.Is(err, service.ErrFileNotFound):
		respondError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidFilename):
		respondError(c, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("upload api: request failed")
		respondError(c, http.StatusInternalServerError, "Internal server error")
	}
}
