package search

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/intelliaflow/IAIMMOBOT/internal/models"
)

func intPtr(v int) *int { return &v }

func fixtures() []models.Listing {
	agency1, agency2 := 1, 2
	return []models.Listing{
		{ID: 1, Location: "10 Rue de la Paix, 75002 Paris", Type: "apartment", Bedrooms: 2, Price: 450000, TransactionType: models.TransactionSale, AgencyID: &agency1},
		{ID: 2, Location: "Lyon", Type: "house", Bedrooms: 4, Price: 1200, TransactionType: models.TransactionRent, AgencyID: &agency1},
		{ID: 3, Location: "Nice, Côte d'Azur", Type: "villa", Bedrooms: 5, Price: 2500000, TransactionType: models.TransactionSale, AgencyID: &agency2},
		{ID: 4, Location: "PARIS 15e", Type: "apartment", Bedrooms: 7, Price: 3000, TransactionType: models.TransactionRent},
		{ID: 5, Location: "Bordeaux", Type: "house", Bedrooms: 4, Price: 320000, TransactionType: models.TransactionSale, AgencyID: &agency2},
	}
}

func filterIDs(q string) []int {
	values, _ := url.ParseQuery(q)
	return idsMatching(Predicates(ParseCriteria(values)))
}

func idsMatching(preds []Predicate) []int {
	ids := []int{}
	for _, l := range fixtures() {
		l := l
		if Match(preds, &l) {
			ids = append(ids, l.ID)
		}
	}
	return ids
}

func TestParseCriteria_IgnoresMalformedValues(t *testing.T) {
	values, _ := url.ParseQuery("rooms=abc&minPrice=abc&maxPrice=1e6&transactionType=lease&location=%20%20&type=")
	c := ParseCriteria(values)

	assert.Equal(t, Criteria{}, c)
	assert.Empty(t, Predicates(c))
}

func TestParseCriteria_AllFields(t *testing.T) {
	values, _ := url.ParseQuery("location=paris&type=apartment&rooms=3&minPrice=10&maxPrice=20&transactionType=rent")
	c := ParseCriteria(values)

	assert.Equal(t, "paris", *c.Location)
	assert.Equal(t, "apartment", *c.Type)
	assert.Equal(t, 3, *c.Rooms)
	assert.Equal(t, 10, *c.MinPrice)
	assert.Equal(t, 20, *c.MaxPrice)
	assert.Equal(t, models.TransactionRent, *c.TransactionType)
	assert.Nil(t, c.AgencyID)
}

func TestPredicates_Rooms(t *testing.T) {
	assert.Equal(t,
		[]Predicate{{Field: FieldBedrooms, Op: OpGte, Value: 5}},
		Predicates(Criteria{Rooms: intPtr(5)}))
	assert.Equal(t,
		[]Predicate{{Field: FieldBedrooms, Op: OpGte, Value: 5}},
		Predicates(Criteria{Rooms: intPtr(9)}))
	assert.Equal(t,
		[]Predicate{{Field: FieldBedrooms, Op: OpEq, Value: 4}},
		Predicates(Criteria{Rooms: intPtr(4)}))

	assert.Equal(t, []int{3, 4}, filterIDs("rooms=5"))
	assert.Equal(t, []int{2, 5}, filterIDs("rooms=4"))
}

func TestPredicates_AgencyAlwaysFirst(t *testing.T) {
	c := Criteria{Type: strPtr("house")}.WithAgency(2)
	preds := Predicates(c)

	assert.Equal(t, Predicate{Field: FieldAgencyID, Op: OpEq, Value: 2}, preds[0])
	assert.Equal(t, []int{5}, idsMatching(preds))
}

func TestMatch_LocationIsCaseInsensitiveSubstring(t *testing.T) {
	assert.Equal(t, []int{1, 4}, filterIDs("location=paris"))
	assert.Equal(t, []int{3}, filterIDs("location=C%C3%B4te"))
}

func TestMatch_PriceRange(t *testing.T) {
	assert.Equal(t, []int{1, 5}, filterIDs("minPrice=300000&maxPrice=500000"))
	assert.Equal(t, []int{2, 4}, filterIDs("maxPrice=3000"))
}

func TestMatch_MalformedNumbersDoNotShrinkResults(t *testing.T) {
	all := filterIDs("")
	assert.Len(t, all, 5)
	assert.Equal(t, all, filterIDs("minPrice=abc"))
	assert.Equal(t, all, filterIDs("rooms=lots&maxPrice="))
	assert.Equal(t, filterIDs("type=house"), filterIDs("type=house&minPrice=abc"))
}

func TestMatch_TransactionTypesPartition(t *testing.T) {
	all := filterIDs("")
	sale := filterIDs("transactionType=sale")
	rent := filterIDs("transactionType=rent")

	assert.Empty(t, intersect(sale, rent))
	assert.ElementsMatch(t, all, append(append([]int{}, sale...), rent...))
	assert.Equal(t, all, filterIDs("transactionType=other"))
}

func TestMatch_AgencyPredicateRejectsUnowned(t *testing.T) {
	preds := Predicates(Criteria{}.WithAgency(1))
	assert.Equal(t, []int{1, 2}, idsMatching(preds))
}

func TestMatch_WrongValueTypeNeverMatches(t *testing.T) {
	l := models.Listing{Price: 10}
	assert.False(t, Match([]Predicate{{Field: FieldPrice, Op: OpEq, Value: "10"}}, &l))
}

func strPtr(s string) *string { return &s }

func intersect(a, b []int) []int {
	seen := map[int]bool{}
	for _, v := range a {
		seen[v] = true
	}
	var out []int
	for _, v := range b {
		if seen[v] {
			out = append(out, v)
		}
	}
	return out
}
