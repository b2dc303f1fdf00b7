package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/andresuchdata/uploadprobe/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// ObjectHandler serves the presigned URLs handed out by a MemoryStorage.
// Errors are plain text, like an object store would answer.
type ObjectHandler struct {
	store    *storage.MemoryStorage
	maxBytes int64
	onPut    func(size int64)
}

func NewObjectHandler(store *storage.MemoryStorage, maxBytes int64, onPut func(size int64)) *ObjectHandler {
	if onPut == nil {
		onPut = func(int64) {}
	}
	return &ObjectHandler{store: store, maxBytes: maxBytes, onPut: onPut}
}

// Put handles PUT /objects/*key
func (h *ObjectHandler) Put(c *gin.Context) {
	key := objectKey(c)
	if !h.verify(c, http.MethodPut, key) {
		return
	}

	body := c.Request.Body
	if h.maxBytes > 0 {
		body = http.MaxBytesReader(c.Writer, body, h.maxBytes)
	}

	info, err := h.store.PutObject(c.Request.Context(), key, body, c.ContentType())
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.String(http.StatusRequestEntityTooLarge, "EntityTooLarge")
			return
		}
		log.Error().Err(err).Str("key", key).Msg("object put failed")
		c.String(http.StatusInternalServerError, "InternalError")
		return
	}

	h.onPut(info.Size)
	c.Header("ETag", `"`+info.ETag+`"`)
	c.Status(http.StatusOK)
}

// Get handles GET /objects/*key
func (h *ObjectHandler) Get(c *gin.Context) {
	key := objectKey(c)
	if !h.verify(c, http.MethodGet, key) {
		return
	}

	data, info, err := h.store.GetObject(c.Request.Context(), key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		c.String(http.StatusNotFound, "NoSuchKey")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("object get failed")
		c.String(http.StatusInternalServerError, "InternalError")
		return
	}

	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("ETag", `"`+info.ETag+`"`)
	c.Header("Content-Length", strconv.FormatInt(info.Size, 10))
	c.Data(http.StatusOK, contentType, data)
}

func (h *ObjectHandler) verify(c *gin.Context, method, key string) bool {
	err := h.store.Verify(method, key, c.Request.URL.Query())
	switch {
	case err == nil:
		return true
	case errors.Is(err, storage.ErrSignatureExpired):
		c.String(http.StatusForbidden, "Request has expired")
	default:
		c.String(http.StatusForbidden, "SignatureDoesNotMatch")
	}
	return false
}

func objectKey(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("key"), "/")
}
