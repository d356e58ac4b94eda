package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/erazemk/stoneshop/internal/apperr"
	"github.com/erazemk/stoneshop/internal/attachment"
	"github.com/erazemk/stoneshop/internal/imaging"
	"github.com/erazemk/stoneshop/internal/model"
	"github.com/erazemk/stoneshop/internal/workflow"
)

// Standard item attributes offered on the forms, besides the typed fields.
var standardAttrs = []string{"name", "description", "price", "buyerPostCode", "buyerAddress"}

// Form fields that carry a new free-form attribute instead of a value.
const (
	newAttrKey   = "new_attr_key"
	newAttrValue = "new_attr_value"
)

// jsonAttrPrefix marks form inputs holding a non-string attribute as JSON.
const jsonAttrPrefix = "json:"

type stepTab struct {
	Step   int
	Label  string
	Active bool
}

// fail answers with the status matching err. Unexpected errors are logged.
func fail(w http.ResponseWriter, msg string, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error(msg, "error", err)
	}
	http.Error(w, http.StatusText(status), status)
}

// ItemsPage handles GET /items?step=N.
func (s *Server) ItemsPage(w http.ResponseWriter, r *http.Request) {
	step := workflow.ParseStep(r.URL.Query().Get("step"))
	items, err := s.Items.List(r.Context(), s.Policy.Build(step))
	if err != nil {
		fail(w, "failed to list items", err)
		return
	}

	tabs := make([]stepTab, 0, len(workflow.Steps)+1)
	for _, st := range workflow.Steps {
		tabs = append(tabs, stepTab{Step: st, Label: workflow.StepLabels[st], Active: st == step})
	}
	tabs = append(tabs, stepTab{Step: 0, Label: "All", Active: s.Policy.Build(step).IsAll()})

	s.Templates.Render(w, "items.html", &struct {
		PageData
		Items []model.Item
		Tabs  []stepTab
		Step  int
	}{
		PageData: s.page(w, r, "Items"),
		Items:    items,
		Tabs:     tabs,
		Step:     step,
	})
}

// ItemNewPage handles GET /items/new.
func (s *Server) ItemNewPage(w http.ResponseWriter, r *http.Request) {
	s.Templates.Render(w, "item_new.html", &struct {
		PageData
		Attrs []string
	}{
		PageData: s.page(w, r, "New item"),
		Attrs:    standardAttrs,
	})
}

// ItemCreateSubmit handles POST /items.
func (s *Server) ItemCreateSubmit(w http.ResponseWriter, r *http.Request) {
	fields, err := formFields(r)
	if err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	id, err := s.Items.Create(r.Context(), fields)
	if err != nil {
		fail(w, "failed to create item", err)
		return
	}

	slog.Info("item created", "user", GetWebClaims(r.Context()).Username, "item", id)
	http.Redirect(w, r, "/items/"+id, http.StatusSeeOther)
}

type attrRow struct {
	Key   string
	Name  string
	Value string
	JSON  bool
}

// newAttrRow renders one attribute for the edit form. Strings are edited as
// they are; numbers, lists and objects round-trip through JSON.
func newAttrRow(key string, v any) attrRow {
	switch t := v.(type) {
	case nil:
		return attrRow{Key: key, Name: key}
	case string:
		return attrRow{Key: key, Name: key, Value: t}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return attrRow{Key: key, Name: key, Value: fmt.Sprint(v)}
	}
	return attrRow{Key: key, Name: jsonAttrPrefix + key, Value: string(b), JSON: true}
}

// ItemDetailPage handles GET /items/{id}.
func (s *Server) ItemDetailPage(w http.ResponseWriter, r *http.Request) {
	item, err := s.Items.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(w, "failed to get item", err)
		return
	}

	// Standard attributes first, then whatever else the item carries.
	seen := map[string]bool{}
	var attrs []attrRow
	for _, k := range standardAttrs {
		seen[k] = true
		attrs = append(attrs, newAttrRow(k, item.Attrs[k]))
	}
	for _, k := range item.AttrKeys() {
		if !seen[k] {
			attrs = append(attrs, newAttrRow(k, item.Attrs[k]))
		}
	}

	title := item.Name()
	if title == "" {
		title = "Item"
	}

	s.Templates.Render(w, "item_detail.html", &struct {
		PageData
		Item  *model.Item
		Attrs []attrRow
		Step  int
	}{
		PageData: s.page(w, r, title),
		Item:     item,
		Attrs:    attrs,
		Step:     s.Policy.Classify(item),
	})
}

// ItemUpdateSubmit handles POST /items/{id}. The submitted form fields are
// set; cleared inputs make their field absent. The photo list is left alone.
func (s *Server) ItemUpdateSubmit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	fields, err := formFields(r)
	if err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	if err := s.Items.Update(r.Context(), id, fields); err != nil {
		fail(w, "failed to update item", err)
		return
	}

	setFlash(w, "Saved.")
	http.Redirect(w, r, "/items/"+id, http.StatusSeeOther)
}

// ItemDeleteSubmit handles POST /items/{id}/delete. The item goes even when
// some photos could not be deleted; those are reported in a flash message.
func (s *Server) ItemDeleteSubmit(w http.ResponseWriter, r *http.Request) {
	res, err := s.Inventory.DeleteItem(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(w, "failed to delete item", err)
		return
	}

	claims := GetWebClaims(r.Context())
	if perr := res.Err(); perr != nil {
		slog.Warn("item deleted with leftover photos", "user", claims.Username, "item", res.ItemID, "error", perr)
		setFlash(w, fmt.Sprintf("Item deleted, but %d photo(s) could not be removed.", len(res.Failures)))
	} else {
		slog.Info("item deleted", "user", claims.Username, "item", res.ItemID, "photos", len(res.Deleted))
		setFlash(w, "Item deleted.")
	}
	http.Redirect(w, r, "/items", http.StatusSeeOther)
}

// PhotoUploadSubmit handles POST /items/{id}/photos. Several files may be
// sent in the "photo" field at once.
func (s *Server) PhotoUploadSubmit(w http.ResponseWriter, r *http.Request) {
	itemID := r.PathValue("id")
	if s.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.MaxUploadBytes)
	}

	if err := r.ParseMultipartForm(s.MultipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "invalid upload", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["photo"]
	for _, fh := range files {
		id, err := s.attach(r, itemID, fh)
		if err != nil {
			fail(w, "failed to store photo", err)
			return
		}
		slog.Info("photo attached", "user", GetWebClaims(r.Context()).Username, "item", itemID, "photo", id)
	}
	if len(files) > 0 {
		setFlash(w, fmt.Sprintf("%d photo(s) uploaded.", len(files)))
	}
	http.Redirect(w, r, "/items/"+itemID, http.StatusSeeOther)
}

func (s *Server) attach(r *http.Request, itemID string, fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()
	return s.Inventory.Attach(r.Context(), itemID, f, fh.Filename, fh.Header.Get("Content-Type"))
}

// PhotoDeleteSubmit handles POST /items/{id}/photos/{photoID}/delete.
func (s *Server) PhotoDeleteSubmit(w http.ResponseWriter, r *http.Request) {
	itemID, photoID := r.PathValue("id"), r.PathValue("photoID")
	if err := s.Inventory.Detach(r.Context(), itemID, photoID); err != nil {
		fail(w, "failed to remove photo", err)
		return
	}
	slog.Info("photo detached", "user", GetWebClaims(r.Context()).Username, "item", itemID, "photo", photoID)
	http.Redirect(w, r, "/items/"+itemID, http.StatusSeeOther)
}

// PhotoGet handles GET /photos/{photoID}. ?download=1 asks for an attachment
// disposition and ?summary= prefixes the filename.
func (s *Server) PhotoGet(w http.ResponseWriter, r *http.Request) {
	c, err := s.Inventory.Download(r.Context(), r.PathValue("photoID"))
	if err != nil {
		fail(w, "failed to open photo", err)
		return
	}
	defer c.Body.Close()

	q := r.URL.Query()
	w.Header().Set("Content-Type", c.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(c.SizeBytes, 10))
	w.Header().Set("Content-Disposition", attachment.Disposition(c.Filename, attachment.WantsDownload(q.Get("download")), q.Get("summary")))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	if _, err := io.Copy(w, c.Body); err != nil {
		slog.Error("failed to write photo response", "photo", c.ID, "error", err)
	}
}

// PhotoThumb handles GET /photos/{photoID}/thumb. Attachments that are not
// images redirect to the original.
func (s *Server) PhotoThumb(w http.ResponseWriter, r *http.Request) {
	photoID := r.PathValue("photoID")
	c, err := s.Inventory.Download(r.Context(), photoID)
	if err != nil {
		fail(w, "failed to open photo", err)
		return
	}
	defer c.Body.Close()

	etag := `"thumb-` + c.SHA256 + `"`
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	if !imaging.Supported(c.ContentType) {
		http.Redirect(w, r, "/photos/"+url.PathEscape(photoID), http.StatusSeeOther)
		return
	}

	data, err := imaging.Thumbnail(c.Body, s.ThumbSize)
	if errors.Is(err, imaging.ErrUnsupported) || errors.Is(err, imaging.ErrTooLarge) {
		http.Redirect(w, r, "/photos/"+url.PathEscape(photoID), http.StatusSeeOther)
		return
	}
	if err != nil {
		slog.Error("failed to render thumbnail", "photo", c.ID, "error", err)
		http.Error(w, "thumbnail failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "private, max-age=86400")
	http.ServeContent(w, r, "", c.CreatedAt, bytes.NewReader(data))
}

// formFields reads an item form. Empty inputs are kept so that clearing a
// field makes it absent. A filled-in new attribute row is added under its key.
func formFields(r *http.Request) (model.Fields, error) {
	if err := r.ParseForm(); err != nil {
		return model.Fields{}, err
	}
	values := make(url.Values, len(r.PostForm))
	for k, vs := range r.PostForm {
		values[k] = vs
	}

	key := strings.TrimSpace(values.Get(newAttrKey))
	val := values.Get(newAttrValue)
	delete(values, newAttrKey)
	delete(values, newAttrValue)
	if key != "" {
		values[key] = append(values[key], val)
	}

	decoded := map[string]any{}
	for k, vs := range values {
		name, ok := strings.CutPrefix(k, jsonAttrPrefix)
		if !ok {
			continue
		}
		delete(values, k)
		raw := strings.TrimSpace(strings.Join(vs, ""))
		if raw == "" {
			decoded[name] = nil
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return model.Fields{}, fmt.Errorf("attribute %s is not valid JSON: %w", name, err)
		}
		decoded[name] = v
	}

	f := model.FieldsFromForm(values)
	for k, v := range decoded {
		f.Attrs[k] = v
	}
	return f, nil
}
