package model

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"time"
)

// Well-known item field names, as used in forms and JSON.
const (
	FieldID        = "_id"
	FieldSize      = "size"
	FieldWeight    = "weight"
	FieldCarat     = "carat"
	FieldPhoto     = "photo"
	FieldYahooID   = "yahooId"
	FieldBuyerName = "buyerName"
)

// Item is one stone in the shop's inventory.
//
// The typed optional fields drive workflow classification; a nil pointer means
// the field is absent. Everything else the staff records about a stone lives
// in Attrs.
type Item struct {
	ID        string         `json:"_id"`
	Attrs     map[string]any `json:"attrs,omitempty"`
	Size      *string        `json:"size,omitempty"`
	Weight    *string        `json:"weight,omitempty"`
	Carat     *string        `json:"carat,omitempty"`
	YahooID   *string        `json:"yahooId,omitempty"`
	BuyerName *string        `json:"buyerName,omitempty"`
	Photo     []string       `json:"photo,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Fields is the mutable part of an item as submitted by a client.
type Fields struct {
	Attrs     map[string]any
	Size      *string
	Weight    *string
	Carat     *string
	YahooID   *string
	BuyerName *string

	// Supplied names the typed fields the client sent, including ones sent
	// as null. A merge update leaves the others alone.
	Supplied map[string]bool
}

// Sent reports whether the typed field name was part of the submission.
func (f Fields) Sent(name string) bool {
	return f.Supplied[name]
}

// FieldsFromMap splits a loosely-typed field map into typed fields and
// free-form attributes. The identifier and the photo list are dropped: the
// former never changes and the latter is only managed through attachments.
// Empty strings are kept so that "cleared" and "never set" both read as absent.
func FieldsFromMap(m map[string]any) Fields {
	f := Fields{Attrs: map[string]any{}, Supplied: map[string]bool{}}
	for k, v := range m {
		var dst **string
		switch k {
		case FieldID, FieldPhoto:
			continue
		case FieldSize:
			dst = &f.Size
		case FieldWeight:
			dst = &f.Weight
		case FieldCarat:
			dst = &f.Carat
		case FieldYahooID:
			dst = &f.YahooID
		case FieldBuyerName:
			dst = &f.BuyerName
		default:
			f.Attrs[k] = v
			continue
		}
		*dst = optString(v)
		f.Supplied[k] = true
	}
	return f
}

// FieldsFromForm converts submitted form values. Multi-valued keys become
// lists, single values stay strings.
func FieldsFromForm(values map[string][]string) Fields {
	m := make(map[string]any, len(values))
	for k, vs := range values {
		switch len(vs) {
		case 0:
			m[k] = ""
		case 1:
			m[k] = vs[0]
		default:
			list := make([]any, len(vs))
			for i, v := range vs {
				list[i] = v
			}
			m[k] = list
		}
	}
	return FieldsFromMap(m)
}

func optString(v any) *string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return &t
	case []any:
		if len(t) == 0 {
			return nil
		}
		return optString(t[0])
	case []string:
		if len(t) == 0 {
			return nil
		}
		return &t[0]
	case float64:
		s := strconv.FormatFloat(t, 'f', -1, 64)
		return &s
	default:
		s := fmt.Sprint(t)
		return &s
	}
}

// Field looks up a field by its external name. The boolean reports whether
// the key exists at all; the value may still be empty.
func (it *Item) Field(name string) (any, bool) {
	switch name {
	case FieldID:
		return it.ID, it.ID != ""
	case FieldSize:
		return deref(it.Size)
	case FieldWeight:
		return deref(it.Weight)
	case FieldCarat:
		return deref(it.Carat)
	case FieldYahooID:
		return deref(it.YahooID)
	case FieldBuyerName:
		return deref(it.BuyerName)
	case FieldPhoto:
		if it.Photo == nil {
			return nil, false
		}
		return it.Photo, true
	}
	v, ok := it.Attrs[name]
	return v, ok
}

func deref(s *string) (any, bool) {
	if s == nil {
		return nil, false
	}
	return *s, true
}

// Name returns the display name attribute, or an empty string.
func (it *Item) Name() string {
	return it.Attr("name")
}

// Attr returns a free-form attribute formatted as a string.
func (it *Item) Attr(key string) string {
	v, ok := it.Attrs[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// AttrKeys returns the attribute names in a stable order.
func (it *Item) AttrKeys() []string {
	keys := make([]string, 0, len(it.Attrs))
	for k := range it.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Present reports whether v carries a value. Missing keys, nil, the empty
// string and empty sequences are all absent; numeric zero is present.
func Present(v any, exists bool) bool {
	if !exists || v == nil {
		return false
	}
	switch t := v.(type) {
	case string:
		return t != ""
	case []string:
		return len(t) > 0
	case []any:
		return len(t) > 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		return rv.Len() > 0
	}
	return true
}

// Has reports whether the named field is present on the item.
func (it *Item) Has(name string) bool {
	return Present(it.Field(name))
}

// Record flattens the item into the field map clients send and receive:
// attributes and typed fields side by side, keyed by their external names.
func (it *Item) Record() map[string]any {
	m := make(map[string]any, len(it.Attrs)+8)
	for k, v := range it.Attrs {
		m[k] = v
	}
	m[FieldID] = it.ID
	for name, v := range map[string]*string{
		FieldSize:      it.Size,
		FieldWeight:    it.Weight,
		FieldCarat:     it.Carat,
		FieldYahooID:   it.YahooID,
		FieldBuyerName: it.BuyerName,
	} {
		if v != nil {
			m[name] = *v
		}
	}
	if it.Photo != nil {
		m[FieldPhoto] = it.Photo
	}
	return m
}
