package models

// AddressSuggestion is one autocomplete candidate returned by the address search endpoint.
type AddressSuggestion struct {
	Label       string    `json:"label"`
	Postcode    string    `json:"postcode"`
	City        string    `json:"city"`
	Context     string    `json:"context,omitempty"`
	Coordinates []float64 `json:"coordinates"` // [longitude, latitude]
}
