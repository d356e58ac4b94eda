package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/erazemk/stoneshop/internal/apperr"
	"github.com/erazemk/stoneshop/internal/inventory"
	"github.com/erazemk/stoneshop/internal/model"
	"github.com/erazemk/stoneshop/internal/store"
	"github.com/erazemk/stoneshop/internal/workflow"
)

// ItemsHandler handles item CRUD endpoints.
type ItemsHandler struct {
	Items     *store.Items
	Inventory *inventory.Service
	Policy    workflow.Policy
}

// itemResponse is an item record with its current workflow step.
type itemResponse map[string]any

func (h *ItemsHandler) record(it *model.Item) itemResponse {
	rec := it.Record()
	rec["step"] = h.Policy.Classify(it)
	return rec
}

// List handles GET /api/items?step=N.
func (h *ItemsHandler) List(w http.ResponseWriter, r *http.Request) {
	step := workflow.ParseStep(r.URL.Query().Get("step"))
	items, err := h.Items.List(r.Context(), h.Policy.Build(step))
	if err != nil {
		appError(w, r, "failed to list items", err)
		return
	}

	out := make([]itemResponse, 0, len(items))
	for i := range items {
		out = append(out, h.record(&items[i]))
	}
	jsonResponse(w, http.StatusOK, out)
}

// Create handles POST /api/items.
func (h *ItemsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := decodeJSON(r, &body); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := h.Items.Create(r.Context(), model.FieldsFromMap(body))
	if err != nil {
		appError(w, r, "failed to create item", err)
		return
	}

	item, err := h.Items.Get(r.Context(), id)
	if err != nil {
		appError(w, r, "failed to read created item", err)
		return
	}

	slog.Info("item created", "user", GetClaims(r.Context()).Username, "item", id)
	jsonResponse(w, http.StatusCreated, h.record(item))
}

// Get handles GET /api/items/{id}.
func (h *ItemsHandler) Get(w http.ResponseWriter, r *http.Request) {
	item, err := h.Items.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		appError(w, r, "failed to get item", err)
		return
	}
	jsonResponse(w, http.StatusOK, h.record(item))
}

// Update handles PUT /api/items/{id}. Fields in the body are set and the
// rest are kept (unless the repository replaces on update); the identifier
// and photo list are ignored. A lenient update of a missing item answers 204.
func (h *ItemsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var body map[string]any
	if err := decodeJSON(r, &body); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.Items.Update(r.Context(), id, model.FieldsFromMap(body)); err != nil {
		appError(w, r, "failed to update item", err)
		return
	}

	item, err := h.Items.Get(r.Context(), id)
	if errors.Is(err, apperr.ErrNotFound) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		appError(w, r, "failed to read updated item", err)
		return
	}
	jsonResponse(w, http.StatusOK, h.record(item))
}

// Delete handles DELETE /api/items/{id}. The response lists which photos
// were deleted and which could not be.
func (h *ItemsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	res, err := h.Inventory.DeleteItem(r.Context(), r.PathValue("id"))
	if err != nil {
		appError(w, r, "failed to delete item", err)
		return
	}

	slog.Info("item deleted", "user", GetClaims(r.Context()).Username, "item", res.ItemID,
		"photos_deleted", len(res.Deleted), "photos_failed", len(res.Failures))
	jsonResponse(w, http.StatusOK, res)
}
