// Package search filters and orders in-memory record collections. One generic engine serves both organization and
// donation collections; filters that do not apply to a record shape are ignored rather than erroring. The input
// collection is never mutated and every call recomputes from scratch, which is fine at the sizes a single session
// holds.
package search

import (
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/openimpact/dtrack/lib/registry"
	"github.com/openimpact/dtrack/lib/util"
)

// Record is the set of collection element types the engine operates on.
type Record interface {
	registry.NGO | registry.Donation
}

// Field names a sortable attribute. Fields a record shape lacks compare as equal, so sorting by them keeps the
// incoming order.
type Field string

const (
	ByName          Field = "name"
	ByAmount        Field = "amount"
	ByTimestamp     Field = "timestamp"
	ByTotalReceived Field = "totalReceived"
)

// Direction orders a sort field.
type Direction int

const (
	Desc Direction = iota
	Asc
)

// Sort is the single active sort field and direction.
type Sort struct {
	Field Field
	Dir   Direction
}

// DefaultSort orders by timestamp, newest first.
func DefaultSort() Sort {
	return Sort{Field: ByTimestamp, Dir: Desc}
}

// Toggle flips the direction when the field is already active and resets to descending when a new field is
// selected.
func (s Sort) Toggle(f Field) Sort {
	if s.Field == f {
		if s.Dir == Desc {
			return Sort{Field: f, Dir: Asc}
		}
		return Sort{Field: f, Dir: Desc}
	}
	return Sort{Field: f, Dir: Desc}
}

// Filters are the active filter criteria. Query matches case-insensitively against the engine's eligible text
// fields; the typed filters apply only to record shapes that carry the attribute. Amount and time bounds are
// inclusive.
type Filters struct {
	Query     string
	Approved  *bool
	MinAmount *big.Int
	MaxAmount *big.Int
	From      *time.Time
	To        *time.Time
	NGOWallet string
}

// Engine applies filters and a sort over collections of T. The zero value matches the query against every text
// field of the record shape.
type Engine[T Record] struct {
	fields map[string]bool
}

// New builds an engine whose free-text matching is restricted to the named fields. With no fields every text
// field is eligible.
func New[T Record](fields ...string) Engine[T] {
	e := Engine[T]{}
	if len(fields) > 0 {
		e.fields = make(map[string]bool, len(fields))
		for _, f := range fields {
			e.fields[f] = true
		}
	}
	return e
}

// Apply filters the collection, then orders the survivors. The input slice is left untouched.
func (e Engine[T]) Apply(in []T, f Filters, s Sort) []T {
	out := make([]T, 0, len(in))
	for _, v := range in {
		if e.match(v, f) {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j], s) })
	return out
}

func (e Engine[T]) match(v T, f Filters) bool {
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		hit := false
		for name, val := range textFields(v) {
			if e.fields != nil && !e.fields[name] {
				continue
			}
			if strings.Contains(strings.ToLower(val), q) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	switch r := any(v).(type) {
	case registry.NGO:
		if f.Approved != nil && r.Approved != *f.Approved {
			return false
		}
	case registry.Donation:
		if f.NGOWallet != "" && !util.SameAddr(r.NGO, f.NGOWallet) {
			return false
		}
		if f.MinAmount != nil && r.Amount.Big().Cmp(f.MinAmount) < 0 {
			return false
		}
		if f.MaxAmount != nil && r.Amount.Big().Cmp(f.MaxAmount) > 0 {
			return false
		}
		if f.From != nil && r.Timestamp < f.From.Unix() {
			return false
		}
		if f.To != nil && r.Timestamp > f.To.Unix() {
			return false
		}
	}
	return true
}

func textFields[T Record](v T) map[string]string {
	switch r := any(v).(type) {
	case registry.NGO:
		return map[string]string{
			"wallet":      r.Wallet,
			"name":        r.Name,
			"description": r.Description,
			"website":     r.Website,
			"contact":     r.Contact,
		}
	case registry.Donation:
		return map[string]string{
			"donor":    r.Donor,
			"ngo":      r.NGO,
			"message":  r.Message,
			"proofCID": r.ProofCID,
		}
	}
	return nil
}

func less[T Record](a, b T, s Sort) bool {
	cmp := compare(a, b, s.Field)
	if s.Dir == Asc {
		return cmp < 0
	}
	return cmp > 0
}

// compare returns 0 for fields the record shape lacks, so sorting by them is a no-op. Amounts compare by numeric
// value, never as strings.
func compare[T Record](a, b T, f Field) int {
	switch x := any(a).(type) {
	case registry.NGO:
		y := any(b).(registry.NGO)
		switch f {
		case ByName:
			return strings.Compare(strings.ToLower(x.Name), strings.ToLower(y.Name))
		case ByTotalReceived:
			return x.TotalReceived.Big().Cmp(y.TotalReceived.Big())
		}
	case registry.Donation:
		y := any(b).(registry.Donation)
		switch f {
		case ByAmount:
			return x.Amount.Big().Cmp(y.Amount.Big())
		case ByTimestamp:
			switch {
			case x.Timestamp < y.Timestamp:
				return -1
			case x.Timestamp > y.Timestamp:
				return 1
			}
		}
	}
	return 0
}
