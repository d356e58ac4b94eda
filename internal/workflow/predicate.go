// Package workflow classifies items into the shop's listing workflow:
// photographed, measured, listed on the marketplace, sold.
package workflow

import (
	"strings"

	"github.com/erazemk/stoneshop/internal/model"
)

// Op is a predicate node kind.
type Op string

const (
	OpAll     Op = "all"
	OpPresent Op = "present"
	OpAbsent  Op = "absent"
	OpAnd     Op = "and"
	OpOr      Op = "or"
)

// Predicate is a boolean filter over item fields. The zero value matches
// every item.
type Predicate struct {
	Op       Op
	Field    string
	Children []Predicate
}

// All matches every item.
func All() Predicate { return Predicate{Op: OpAll} }

// Present matches items whose field exists, is not "" and is not an empty list.
func Present(field string) Predicate { return Predicate{Op: OpPresent, Field: field} }

// Absent is the exact complement of Present.
func Absent(field string) Predicate { return Predicate{Op: OpAbsent, Field: field} }

// And matches when every child matches.
func And(children ...Predicate) Predicate { return Predicate{Op: OpAnd, Children: children} }

// Or matches when at least one child matches.
func Or(children ...Predicate) Predicate { return Predicate{Op: OpOr, Children: children} }

// IsAll reports whether the predicate places no restriction.
func (p Predicate) IsAll() bool {
	return p.Op == "" || p.Op == OpAll
}

// Match evaluates the predicate against one item.
func (p Predicate) Match(it *model.Item) bool {
	switch p.Op {
	case OpPresent:
		return it.Has(p.Field)
	case OpAbsent:
		return !it.Has(p.Field)
	case OpAnd:
		for _, c := range p.Children {
			if !c.Match(it) {
				return false
			}
		}
		return true
	case OpOr:
		for _, c := range p.Children {
			if c.Match(it) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

// Filter returns the items that match p, preserving order.
func (p Predicate) Filter(items []model.Item) []model.Item {
	var out []model.Item
	for i := range items {
		if p.Match(&items[i]) {
			out = append(out, items[i])
		}
	}
	return out
}

// String renders the predicate for logs, e.g. and(present(size),absent(yahooId)).
func (p Predicate) String() string {
	switch p.Op {
	case OpPresent, OpAbsent:
		return string(p.Op) + "(" + p.Field + ")"
	case OpAnd, OpOr:
		parts := make([]string, len(p.Children))
		for i, c := range p.Children {
			parts[i] = c.String()
		}
		return string(p.Op) + "(" + strings.Join(parts, ",") + ")"
	default:
		return string(OpAll)
	}
}
