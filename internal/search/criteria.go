// Package search turns listing query parameters into an explicit list of typed predicates.
//
// Parsing happens once at the HTTP boundary (ParseCriteria). Predicates is a pure function of
// the resulting Criteria; each store backend translates the predicates into its own query
// language, and Match evaluates them in memory.
package search

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/intelliaflow/IAIMMOBOT/internal/models"
)

// RoomsOrMore is the bedroom count from which the rooms filter becomes "at least".
const RoomsOrMore = 5

// Criteria holds one optional field per recognized filter. A nil field adds no predicate.
type Criteria struct {
	Location        *string
	Type            *string
	Rooms           *int
	MinPrice        *int
	MaxPrice        *int
	TransactionType *models.TransactionType
	AgencyID        *int // Never read from query parameters; set by the agency-scoped call site
}

// ParseCriteria reads the recognized filters from query parameters. Blank, malformed or
// unknown values are dropped silently so they never narrow the result set.
func ParseCriteria(q url.Values) Criteria {
	var c Criteria
	if v := strings.TrimSpace(q.Get("location")); v != "" {
		c.Location = &v
	}
	if v := strings.TrimSpace(q.Get("type")); v != "" {
		c.Type = &v
	}
	c.Rooms = parseInt(q.Get("rooms"))
	c.MinPrice = parseInt(q.Get("minPrice"))
	c.MaxPrice = parseInt(q.Get("maxPrice"))
	if tt, err := models.ParseTransactionType(q.Get("transactionType")); err == nil {
		c.TransactionType = &tt
	}
	return c
}

// WithAgency returns a copy of c scoped to one agency.
func (c Criteria) WithAgency(agencyID int) Criteria {
	c.AgencyID = &agencyID
	return c
}

// WithTransactionType returns a copy of c forced to one transaction type.
func (c Criteria) WithTransactionType(tt models.TransactionType) Criteria {
	c.TransactionType = &tt
	return c
}

func parseInt(s string) *int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}
