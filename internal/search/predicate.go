package search

import (
	"fmt"
	"strings"

	"github.com/intelliaflow/IAIMMOBOT/internal/models"
)

// Field names a filterable listing attribute. Backends map fields to their own column or key names.
type Field string

const (
	FieldLocation        Field = "location"
	FieldType            Field = "type"
	FieldBedrooms        Field = "bedrooms"
	FieldPrice           Field = "price"
	FieldTransactionType Field = "transaction_type"
	FieldAgencyID        Field = "agency_id"
)

// Op is a comparison operator.
type Op string

const (
	OpContainsFold Op = "contains_fold" // case-insensitive substring, string values
	OpEq           Op = "eq"
	OpGte          Op = "gte"
	OpLte          Op = "lte"
)

// Predicate is one condition. Value is a string for location/type/transaction_type and an int otherwise.
type Predicate struct {
	Field Field
	Op    Op
	Value interface{}
}

func (p Predicate) String() string {
	return fmt.Sprintf("%s %s %v", p.Field, p.Op, p.Value)
}

// Predicates builds the conjunction for c, in a stable order.
func Predicates(c Criteria) []Predicate {
	var preds []Predicate
	if c.AgencyID != nil {
		preds = append(preds, Predicate{Field: FieldAgencyID, Op: OpEq, Value: *c.AgencyID})
	}
	if c.Location != nil {
		preds = append(preds, Predicate{Field: FieldLocation, Op: OpContainsFold, Value: *c.Location})
	}
	if c.Type != nil {
		preds = append(preds, Predicate{Field: FieldType, Op: OpEq, Value: *c.Type})
	}
	if c.Rooms != nil {
		if *c.Rooms >= RoomsOrMore {
			preds = append(preds, Predicate{Field: FieldBedrooms, Op: OpGte, Value: RoomsOrMore})
		} else {
			preds = append(preds, Predicate{Field: FieldBedrooms, Op: OpEq, Value: *c.Rooms})
		}
	}
	if c.MinPrice != nil {
		preds = append(preds, Predicate{Field: FieldPrice, Op: OpGte, Value: *c.MinPrice})
	}
	if c.MaxPrice != nil {
		preds = append(preds, Predicate{Field: FieldPrice, Op: OpLte, Value: *c.MaxPrice})
	}
	if c.TransactionType != nil {
		preds = append(preds, Predicate{Field: FieldTransactionType, Op: OpEq, Value: string(*c.TransactionType)})
	}
	return preds
}

// Match reports whether l satisfies every predicate.
func Match(preds []Predicate, l *models.Listing) bool {
	for _, p := range preds {
		if !matchOne(p, l) {
			return false
		}
	}
	return true
}

func matchOne(p Predicate, l *models.Listing) bool {
	switch p.Field {
	case FieldLocation:
		return compareString(p, l.Location)
	case FieldType:
		return compareString(p, l.Type)
	case FieldTransactionType:
		return compareString(p, string(l.TransactionType))
	case FieldBedrooms:
		return compareInt(p, l.Bedrooms)
	case FieldPrice:
		return compareInt(p, l.Price)
	case FieldAgencyID:
		if l.AgencyID == nil {
			return false
		}
		return compareInt(p, *l.AgencyID)
	}
	return false
}

func compareString(p Predicate, actual string) bool {
	want, ok := p.Value.(string)
	if !ok {
		return false
	}
	switch p.Op {
	case OpEq:
		return actual == want
	case OpContainsFold:
		return strings.Contains(strings.ToLower(actual), strings.ToLower(want))
	}
	return false
}

func compareInt(p Predicate, actual int) bool {
	want, ok := p.Value.(int)
	if !ok {
		return false
	}
	switch p.Op {
	case OpEq:
		return actual == want
	case OpGte:
		return actual >= want
	case OpLte:
		return actual <= want
	}
	return false
}
