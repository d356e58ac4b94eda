package api

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/erazemk/stoneshop/internal/attachment"
	"github.com/erazemk/stoneshop/internal/inventory"
)

// PhotosHandler handles photo upload, removal and download.
type PhotosHandler struct {
	Inventory *inventory.Service
	// MaxUploadBytes caps a whole upload request. Zero disables the cap.
	MaxUploadBytes int64
	// MultipartMemory is how much of a multipart form is kept in memory.
	MultipartMemory int64
}

type uploadResponse struct {
	Photos []string `json:"photos"`
}

// Upload handles POST /api/items/{id}/photos. A multipart body may carry
// several files in the "photo" field; any other body is stored as a single
// photo named by the "filename" query parameter.
func (h *PhotosHandler) Upload(w http.ResponseWriter, r *http.Request) {
	itemID := r.PathValue("id")
	if h.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	}

	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt != "multipart/form-data" {
		id, err := h.Inventory.Attach(r.Context(), itemID, r.Body, r.URL.Query().Get("filename"), r.Header.Get("Content-Type"))
		if err != nil {
			appError(w, r, "failed to store photo", err)
			return
		}
		h.logUpload(r, itemID, id)
		jsonResponse(w, http.StatusCreated, uploadResponse{Photos: []string{id}})
		return
	}

	if err := r.ParseMultipartForm(h.MultipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			jsonError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		jsonError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["photo"]
	if len(files) == 0 {
		jsonError(w, http.StatusBadRequest, "photo file required")
		return
	}

	ids := make([]string, 0, len(files))
	for _, fh := range files {
		id, err := attachFile(r, h.Inventory, itemID, fh)
		if err != nil {
			appError(w, r, "failed to store photo", err)
			return
		}
		h.logUpload(r, itemID, id)
		ids = append(ids, id)
	}
	jsonResponse(w, http.StatusCreated, uploadResponse{Photos: ids})
}

func attachFile(r *http.Request, svc *inventory.Service, itemID string, fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()
	return svc.Attach(r.Context(), itemID, f, fh.Filename, fh.Header.Get("Content-Type"))
}

func (h *PhotosHandler) logUpload(r *http.Request, itemID, photoID string) {
	slog.Info("photo attached", "user", GetClaims(r.Context()).Username, "item", itemID, "photo", photoID)
}

// Detach handles DELETE /api/items/{id}/photos/{photoID}.
func (h *PhotosHandler) Detach(w http.ResponseWriter, r *http.Request) {
	itemID, photoID := r.PathValue("id"), r.PathValue("photoID")
	if err := h.Inventory.Detach(r.Context(), itemID, photoID); err != nil {
		appError(w, r, "failed to remove photo", err)
		return
	}
	slog.Info("photo detached", "user", GetClaims(r.Context()).Username, "item", itemID, "photo", photoID)
	w.WriteHeader(http.StatusNoContent)
}

// Download handles GET /api/photos/{photoID}. ?download=1 asks for an
// attachment disposition and ?summary= prefixes the filename.
func (h *PhotosHandler) Download(w http.ResponseWriter, r *http.Request) {
	c, err := h.Inventory.Download(r.Context(), r.PathValue("photoID"))
	if err != nil {
		appError(w, r, "failed to open photo", err)
		return
	}
	defer c.Body.Close()

	q := r.URL.Query()
	w.Header().Set("Content-Type", c.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(c.SizeBytes, 10))
	w.Header().Set("Content-Disposition", attachment.Disposition(c.Filename, attachment.WantsDownload(q.Get("download")), q.Get("summary")))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("ETag", `"`+c.SHA256+`"`)
	if _, err := io.Copy(w, c.Body); err != nil {
		slog.Error("failed to stream photo", "photo", c.ID, "error", err)
	}
}
