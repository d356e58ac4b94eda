package workflow

import (
	"reflect"
	"testing"

	"github.com/erazemk/stoneshop/internal/model"
)

func strp(s string) *string { return &s }

// corpus builds the reference items: no fields; photo only; size+photo;
// size+photo+yahooId; size+photo+yahooId+buyerName.
func corpus(measured bool) map[string]*model.Item {
	measure := func(it *model.Item) *model.Item {
		it.Size = strp("5mm")
		if measured {
			it.Weight = strp("1.1g")
			it.Carat = strp("0.5")
		}
		return it
	}
	return map[string]*model.Item{
		"empty":    {ID: "a"},
		"photo":    {ID: "b", Photo: []string{"p1"}},
		"measured": measure(&model.Item{ID: "c", Photo: []string{"p1"}}),
		"listed":   measure(&model.Item{ID: "d", Photo: []string{"p1"}, YahooID: strp("y1")}),
		"sold":     measure(&model.Item{ID: "e", Photo: []string{"p1"}, YahooID: strp("y1"), BuyerName: strp("Ana")}),
	}
}

func TestPolicyV2Classification(t *testing.T) {
	items := corpus(true)

	want := map[int][]string{
		1: {"empty"},
		2: {"empty", "photo"},
		3: {"measured"},
		4: {"listed"},
		5: {"sold"},
	}

	for step, names := range want {
		pred := PolicyV2.Build(step)
		expected := map[string]bool{}
		for _, n := range names {
			expected[n] = true
		}
		for name, it := range items {
			if got := pred.Match(it); got != expected[name] {
				t.Errorf("step %d %s: Match(%s) = %v, want %v", step, pred, name, got, expected[name])
			}
		}
	}
}

func TestPolicyV1Classification(t *testing.T) {
	items := corpus(false)

	want := map[int][]string{
		1: {"empty"},
		2: {"empty", "photo"},
		3: {"measured"},
		4: {"listed"},
		5: {"sold"},
	}

	for step, names := range want {
		pred := PolicyV1.Build(step)
		expected := map[string]bool{}
		for _, n := range names {
			expected[n] = true
		}
		for name, it := range items {
			if got := pred.Match(it); got != expected[name] {
				t.Errorf("step %d: Match(%s) = %v, want %v", step, name, got, expected[name])
			}
		}
	}
}

func TestPoliciesDisagreeOnPartialMeasurements(t *testing.T) {
	it := &model.Item{ID: "x", Size: strp("5mm"), Photo: []string{"p1"}}

	if !PolicyV1.Build(StepList).Match(it) {
		t.Error("v1: size and photo should be enough to list")
	}
	if PolicyV2.Build(StepList).Match(it) {
		t.Error("v2: missing weight and carat should block listing")
	}
	if !PolicyV2.Build(StepMeasure).Match(it) {
		t.Error("v2: item should still need measuring")
	}
}

func TestPresentAbsentComplement(t *testing.T) {
	values := []struct {
		name   string
		attrs  map[string]any
		expect bool
	}{
		{"key absent", map[string]any{}, false},
		{"nil", map[string]any{"f": nil}, false},
		{"empty string", map[string]any{"f": ""}, false},
		{"empty sequence", map[string]any{"f": []any{}}, false},
		{"string", map[string]any{"f": "x"}, true},
		{"sequence", map[string]any{"f": []any{"x"}}, true},
		{"numeric zero", map[string]any{"f": 0}, true},
		{"float zero", map[string]any{"f": 0.0}, true},
	}

	for _, v := range values {
		it := &model.Item{ID: "x", Attrs: v.attrs}
		p := Present("f").Match(it)
		a := Absent("f").Match(it)
		if p != v.expect {
			t.Errorf("%s: present = %v, want %v", v.name, p, v.expect)
		}
		if p == a {
			t.Errorf("%s: present and absent must be complements, both %v", v.name, p)
		}
	}

	typed := []*model.Item{
		{ID: "x"},
		{ID: "x", Size: strp("")},
		{ID: "x", Size: strp("0")},
		{ID: "x", Photo: []string{}},
		{ID: "x", Photo: []string{"p"}},
	}
	for i, it := range typed {
		for _, f := range []string{model.FieldSize, model.FieldPhoto} {
			if Present(f).Match(it) == Absent(f).Match(it) {
				t.Errorf("typed item %d field %s: present and absent agree", i, f)
			}
		}
	}
}

func TestBuildIsPure(t *testing.T) {
	for _, s := range []int{1, 2, 3, 4, 5, 0, 6, -1} {
		if !reflect.DeepEqual(Build(s), Build(s)) {
			t.Errorf("Build(%d) is not deterministic", s)
		}
	}
}

func TestUnknownStepMatchesAll(t *testing.T) {
	for _, s := range []int{0, 6, 42, -3} {
		p := Build(s)
		if !p.IsAll() {
			t.Errorf("Build(%d) = %s, want all", s, p)
		}
		for name, it := range corpus(true) {
			if !p.Match(it) {
				t.Errorf("Build(%d) should match %s", s, name)
			}
		}
	}
}

func TestParseStep(t *testing.T) {
	tests := map[string]int{
		"":    1,
		"1":   1,
		" 3 ": 3,
		"5":   5,
		"9":   9,
		"abc": 0,
		"2.5": 0,
	}
	for in, want := range tests {
		if got := ParseStep(in); got != want {
			t.Errorf("ParseStep(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestPolicyByName(t *testing.T) {
	for name, want := range map[string]string{"": "v2", "v1": "v1", "V2": "v2"} {
		p, err := PolicyByName(name)
		if err != nil {
			t.Fatalf("PolicyByName(%q): %v", name, err)
		}
		if p.Name != want {
			t.Errorf("PolicyByName(%q) = %s, want %s", name, p.Name, want)
		}
	}
	if _, err := PolicyByName("v3"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestClassify(t *testing.T) {
	items := corpus(true)
	want := map[string]int{
		"empty":    StepPhotograph,
		"photo":    StepMeasure,
		"measured": StepList,
		"listed":   StepSell,
		"sold":     StepSold,
	}
	for name, step := range want {
		if got := Classify(items[name]); got != step {
			t.Errorf("Classify(%s) = %d, want %d", name, got, step)
		}
	}

	soldNoPhoto := &model.Item{ID: "z", BuyerName: strp("Ana")}
	if got := Classify(soldNoPhoto); got != StepSold {
		t.Errorf("Classify(sold without photo) = %d, want %d", got, StepSold)
	}
}

func TestString(t *testing.T) {
	got := PolicyV1.Build(StepList).String()
	want := "and(present(size),present(photo),absent(yahooId))"
	if got != want {
		t.Errorf("String() = %s, want %s", got, want)
	}
	if All().String() != "all" {
		t.Errorf("All().String() = %s", All().String())
	}
}
