package workflow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/erazemk/stoneshop/internal/model"
)

// Workflow steps, in order.
const (
	StepPhotograph = 1
	StepMeasure    = 2
	StepList       = 3
	StepSell       = 4
	StepSold       = 5
)

// Steps lists every known step in order.
var Steps = []int{StepPhotograph, StepMeasure, StepList, StepSell, StepSold}

// StepLabels are the human-readable step names.
var StepLabels = map[int]string{
	StepPhotograph: "Needs photos",
	StepMeasure:    "Needs measuring",
	StepList:       "Ready to list",
	StepSell:       "On sale",
	StepSold:       "Sold",
}

// Policy is a versioned table of step predicates.
type Policy struct {
	Name string
	// Measurements are the fields that must all be set before an item can be listed.
	Measurements []string
}

// PolicyV1 only requires a size before listing.
var PolicyV1 = Policy{
	Name:         "v1",
	Measurements: []string{model.FieldSize},
}

// PolicyV2 requires size, weight and carat before listing.
var PolicyV2 = Policy{
	Name:         "v2",
	Measurements: []string{model.FieldSize, model.FieldWeight, model.FieldCarat},
}

// DefaultPolicy is used by Build and Classify.
var DefaultPolicy = PolicyV2

// PolicyByName looks up a policy by its version name. An empty name selects
// the default.
func PolicyByName(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return DefaultPolicy, nil
	case PolicyV1.Name:
		return PolicyV1, nil
	case PolicyV2.Name:
		return PolicyV2, nil
	default:
		return Policy{}, fmt.Errorf("unknown workflow policy %q", name)
	}
}

// Build returns the default policy's predicate for step.
func Build(step int) Predicate {
	return DefaultPolicy.Build(step)
}

// Build returns the predicate selecting items waiting at step. Unknown steps
// match every item.
func (p Policy) Build(step int) Predicate {
	switch step {
	case StepPhotograph:
		return Absent(model.FieldPhoto)
	case StepMeasure:
		if len(p.Measurements) == 1 {
			return Absent(p.Measurements[0])
		}
		missing := make([]Predicate, len(p.Measurements))
		for i, f := range p.Measurements {
			missing[i] = Absent(f)
		}
		return Or(missing...)
	case StepList:
		all := make([]Predicate, 0, len(p.Measurements)+2)
		for _, f := range p.Measurements {
			all = append(all, Present(f))
		}
		all = append(all, Present(model.FieldPhoto), Absent(model.FieldYahooID))
		return And(all...)
	case StepSell:
		return And(Present(model.FieldYahooID), Absent(model.FieldBuyerName))
	case StepSold:
		return Present(model.FieldBuyerName)
	default:
		return All()
	}
}

// Classify returns the step the item is waiting at: the earliest step whose
// predicate matches. Sold items are always at the last step. It returns 0
// when no step matches.
func (p Policy) Classify(it *model.Item) int {
	if p.Build(StepSold).Match(it) {
		return StepSold
	}
	for _, s := range Steps {
		if p.Build(s).Match(it) {
			return s
		}
	}
	return 0
}

// Classify uses the default policy.
func Classify(it *model.Item) int {
	return DefaultPolicy.Classify(it)
}

// ParseStep converts a query parameter to a step. An empty value selects the
// first step; anything unparsable yields 0, which matches every item.
func ParseStep(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return StepPhotograph
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
