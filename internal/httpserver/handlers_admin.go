package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mathsnotes/server/internal/adminauth"
	apierrors "github.com/mathsnotes/server/internal/errors"
	"github.com/mathsnotes/server/internal/logger"
	"github.com/mathsnotes/server/internal/money"
	"github.com/mathsnotes/server/internal/storage"
	"github.com/mathsnotes/server/pkg/responders"
)

const (
	defaultMaxUpload = 50 << 20
	uploadMemory     = 8 << 20
)

type uploadResponse struct {
	Success  bool   `json:"success"`
	Key      string `json:"key"`
	Title    string `json:"title"`
	Price    string `json:"price"`
	FileType string `json:"fileType"`
	Size     int64  `json:"size"`
}

// uploadResource handles POST /api/admin/resources (multipart: file, title,
// description, price, pages, topics).
func (h *handlers) uploadResource(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	maxUpload := h.cfg.Storage.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	tooLargeMsg := fmt.Sprintf("File exceeds the %dMB limit", maxUpload>>20)

	// Leave room for the other form fields.
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload+1<<20)
	if err := r.ParseMultipartForm(uploadMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierrors.WriteSimpleError(w, apierrors.ErrCodePayloadTooLarge, tooLargeMsg)
			return
		}
		apierrors.WriteSimpleError(w, apierrors.ErrCodeValidation, "Invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeValidation, "file is required")
		return
	}
	defer file.Close()

	if header.Size > maxUpload {
		apierrors.WriteSimpleError(w, apierrors.ErrCodePayloadTooLarge, tooLargeMsg)
		return
	}
	if !storage.IsSupported(header.Filename) {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeUnsupportedType, "Unsupported file type",
			"supported", storage.SupportedExtensions())
		return
	}

	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeValidation, "title is required")
		return
	}
	price := money.Cents(0)
	if raw := strings.TrimSpace(r.FormValue("price")); raw != "" {
		price, err = money.FromMajor(raw)
		if err != nil || price < 0 {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeValidation, "price must be a non-negative amount")
			return
		}
	}

	obj, err := h.deps.Files.Put(r.Context(), storage.Upload{
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
		Metadata: map[string]string{
			storage.MetaTitle:       title,
			storage.MetaDescription: r.FormValue("description"),
			storage.MetaPrice:       price.String(),
			storage.MetaPages:       r.FormValue("pages"),
			storage.MetaTopics:      r.FormValue("topics"),
		},
	})
	if err != nil {
		if errors.Is(err, storage.ErrUnsupportedType) {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeUnsupportedType, "Unsupported file type")
			return
		}
		log.Error().Err(err).Str("file", header.Filename).Msg("admin.upload_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeStorage, "Upload failed")
		return
	}
	h.deps.Catalog.Invalidate()

	admin, _ := adminauth.AdminFromContext(r.Context())
	log.Info().
		Str("key", obj.Key).
		Str("admin", logger.RedactEmail(admin)).
		Int64("size", obj.Size).
		Msg("admin.resource_uploaded")

	responders.JSON(w, http.StatusCreated, uploadResponse{
		Success:  true,
		Key:      obj.Key,
		Title:    title,
		Price:    price.String(),
		FileType: obj.ContentType,
		Size:     obj.Size,
	})
}

// resourceKey reads the escaped {key} route parameter.
func resourceKey(r *http.Request) (string, bool) {
	key, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil || strings.TrimSpace(key) == "" {
		return "", false
	}
	return key, true
}

// deleteResource handles DELETE /api/admin/resources/{key}.
func (h *handlers) deleteResource(w http.ResponseWriter, r *http.Request) {
	key, ok := resourceKey(r)
	if !ok {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeValidation, "key is required")
		return
	}
	log := logger.FromContext(r.Context())
	if err := h.deps.Files.Delete(r.Context(), key); err != nil {
		log.Error().Err(err).Str("key", key).Msg("admin.delete_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeStorage, "Delete failed")
		return
	}
	h.deps.Catalog.Invalidate()

	admin, _ := adminauth.AdminFromContext(r.Context())
	log.Info().
		Str("key", key).
		Str("admin", logger.RedactEmail(admin)).
		Msg("admin.resource_deleted")
	responders.JSON(w, http.StatusOK, map[string]any{"success": true, "key": key})
}

// downloadResource handles GET /api/admin/resources/{key}/download by
// redirecting to a short-lived signed URL.
func (h *handlers) downloadResource(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	key, ok := resourceKey(r)
	if !ok {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeValidation, "key is required")
		return
	}
	if _, err := h.deps.Files.Head(r.Context(), key); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeNotFound, "Resource not found")
			return
		}
		log.Error().Err(err).Str("key", key).Msg("admin.head_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeStorage, "Storage unavailable")
		return
	}
	ttl := h.cfg.Storage.AdminURLTTL.Duration
	if ttl <= 0 {
		ttl = time.Hour
	}
	link, err := h.deps.Files.PresignGet(r.Context(), key, ttl)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("admin.presign_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeStorage, "Storage unavailable")
		return
	}
	http.Redirect(w, r, link, http.StatusFound)
}
