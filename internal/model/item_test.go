package model

import "testing"

func strp(s string) *string { return &s }

func TestPresent(t *testing.T) {
	tests := []struct {
		name   string
		v      any
		exists bool
		want   bool
	}{
		{"missing key", nil, false, false},
		{"nil value", nil, true, false},
		{"empty string", "", true, false},
		{"empty list", []string{}, true, false},
		{"empty any list", []any{}, true, false},
		{"string", "3mm", true, true},
		{"list", []string{"a"}, true, true},
		{"any list", []any{"a"}, true, true},
		{"zero int", 0, true, true},
		{"zero float", 0.0, true, true},
		{"false", false, true, true},
		{"empty map", map[string]any{}, true, false},
	}

	for _, tt := range tests {
		if got := Present(tt.v, tt.exists); got != tt.want {
			t.Errorf("%s: Present(%#v, %v) = %v, want %v", tt.name, tt.v, tt.exists, got, tt.want)
		}
	}
}

func TestFieldsFromMap(t *testing.T) {
	f := FieldsFromMap(map[string]any{
		"_id":       "other",
		"photo":     []any{"x"},
		"name":      "ring",
		"price":     float64(10),
		"size":      "",
		"carat":     float64(0),
		"yahooId":   []any{"y1", "y2"},
		"buyerName": nil,
	})

	if _, ok := f.Attrs["_id"]; ok {
		t.Error("identifier must not leak into attrs")
	}
	if _, ok := f.Attrs["photo"]; ok {
		t.Error("photo must not leak into attrs")
	}
	if f.Attrs["name"] != "ring" || f.Attrs["price"] != float64(10) {
		t.Errorf("unexpected attrs: %#v", f.Attrs)
	}
	if f.Size == nil || *f.Size != "" {
		t.Errorf("expected empty size to be kept, got %v", f.Size)
	}
	if f.Carat == nil || *f.Carat != "0" {
		t.Errorf("expected carat \"0\", got %v", f.Carat)
	}
	if f.YahooID == nil || *f.YahooID != "y1" {
		t.Errorf("expected first yahooId value, got %v", f.YahooID)
	}
	if f.BuyerName != nil {
		t.Errorf("expected nil buyerName, got %q", *f.BuyerName)
	}
}

func TestFieldsFromForm(t *testing.T) {
	f := FieldsFromForm(map[string][]string{
		"name":   {"ring"},
		"tags":   {"blue", "oval"},
		"weight": {"1.2g"},
	})
	if f.Attrs["name"] != "ring" {
		t.Errorf("expected name ring, got %v", f.Attrs["name"])
	}
	tags, ok := f.Attrs["tags"].([]any)
	if !ok || len(tags) != 2 {
		t.Errorf("expected two tags, got %#v", f.Attrs["tags"])
	}
	if f.Weight == nil || *f.Weight != "1.2g" {
		t.Errorf("expected weight 1.2g, got %v", f.Weight)
	}
}

func TestItemHas(t *testing.T) {
	it := &Item{
		ID:     "abc",
		Size:   strp("5mm"),
		Weight: strp(""),
		Attrs:  map[string]any{"price": 0, "note": ""},
	}

	checks := map[string]bool{
		FieldID:        true,
		FieldSize:      true,
		FieldWeight:    false,
		FieldCarat:     false,
		FieldPhoto:     false,
		"price":        true,
		"note":         false,
		"missing":      false,
		FieldBuyerName: false,
	}
	for field, want := range checks {
		if got := it.Has(field); got != want {
			t.Errorf("Has(%q) = %v, want %v", field, got, want)
		}
	}

	it.Photo = []string{}
	if it.Has(FieldPhoto) {
		t.Error("empty photo list must be absent")
	}
	it.Photo = []string{"p1"}
	if !it.Has(FieldPhoto) {
		t.Error("non-empty photo list must be present")
	}
}

func TestItemRecord(t *testing.T) {
	size := "5mm"
	it := &Item{
		ID:    "abc",
		Attrs: map[string]any{"name": "ruby", "_id": "spoofed"},
		Size:  &size,
		Photo: []string{"p1"},
	}
	rec := it.Record()
	if rec[FieldID] != "abc" {
		t.Errorf("record id = %v, want abc", rec[FieldID])
	}
	if rec["name"] != "ruby" || rec[FieldSize] != "5mm" {
		t.Errorf("unexpected record %v", rec)
	}
	if _, ok := rec[FieldWeight]; ok {
		t.Error("absent typed field must not appear")
	}

	back := FieldsFromMap(rec)
	if back.Size == nil || *back.Size != "5mm" || back.Attrs["name"] != "ruby" {
		t.Errorf("round trip lost fields: %+v", back)
	}
	if _, ok := back.Attrs[FieldPhoto]; ok {
		t.Error("photo must not round-trip into attrs")
	}
}
