package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/intelliaflow/IAIMMOBOT/internal/geocoding"
)

// RestAddressHandler serves address autocomplete suggestions.
type RestAddressHandler struct {
	searcher geocoding.IAddressSearcher
}

// NewRestAddressHandler creates a new RestAddressHandler.
func NewRestAddressHandler(searcher geocoding.IAddressSearcher) *RestAddressHandler {
	return &RestAddressHandler{searcher: searcher}
}

// SearchAddresses handles GET /api/addresses/search?q=
func (h *RestAddressHandler) SearchAddresses(c *gin.Context) {
	suggestions, err := h.searcher.Search(c.Request.Context(), c.Query("q"))
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to search addresses"})
		return
	}
	c.JSON(http.StatusOK, suggestions)
}

// RegisterRestAddressRoutes mounts the address routes.
func RegisterRestAddressRoutes(rg *gin.RouterGroup, handler *RestAddressHandler) {
	rg.GET("/addresses/search", handler.SearchAddresses)
}
