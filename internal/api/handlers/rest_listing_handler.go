package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/intelliaflow/IAIMMOBOT/internal/api/middleware"
	"github.com/intelliaflow/IAIMMOBOT/internal/models"
	"github.com/intelliaflow/IAIMMOBOT/internal/search"
	"github.com/intelliaflow/IAIMMOBOT/internal/services"
)

// RestListingHandler handles REST requests for property listings.
type RestListingHandler struct {
	listingService services.IListingService
}

// NewRestListingHandler creates a new RestListingHandler.
func NewRestListingHandler(listingService services.IListingService) *RestListingHandler {
	return &RestListingHandler{listingService: listingService}
}

type uploadImagesRequest struct {
	Images []string `json:"images"`
}

// SearchListings handles GET /api/properties
func (h *RestListingHandler) SearchListings(c *gin.Context) {
	criteria := search.ParseCriteria(c.Request.URL.Query())
	listings, err := h.listingService.SearchListings(c.Request.Context(), criteria)
	if err != nil {
		respondError(c, err, "Failed to fetch properties")
		return
	}
	c.JSON(http.StatusOK, listings)
}

// SearchByTransaction handles GET /api/properties/transaction/:type
func (h *RestListingHandler) SearchByTransaction(c *gin.Context) {
	criteria := search.ParseCriteria(c.Request.URL.Query())
	listings, err := h.listingService.SearchByTransaction(c.Request.Context(), c.Param("type"), criteria)
	if err != nil {
		respondError(c, err, "Failed to fetch properties")
		return
	}
	c.JSON(http.StatusOK, listings)
}

// SearchAgencyListings handles GET /api/properties/agency
func (h *RestListingHandler) SearchAgencyListings(c *gin.Context) {
	agencyID, ok := middleware.AgencyID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Agency identity required"})
		return
	}
	criteria := search.ParseCriteria(c.Request.URL.Query())
	listings, err := h.listingService.SearchAgencyListings(c.Request.Context(), agencyID, criteria)
	if err != nil {
		respondError(c, err, "Failed to fetch agency properties")
		return
	}
	c.JSON(http.StatusOK, listings)
}

// PriceStats handles GET /api/properties/stats/prices
func (h *RestListingHandler) PriceStats(c *gin.Context) {
	criteria := search.ParseCriteria(c.Request.URL.Query())
	stats, err := h.listingService.PriceStats(c.Request.Context(), criteria)
	if err != nil {
		respondError(c, err, "Failed to compute price statistics")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetListingByID handles GET /api/properties/:id
func (h *RestListingHandler) GetListingByID(c *gin.Context) {
	id, ok := listingID(c)
	if !ok {
		return
	}
	listing, err := h.listingService.GetListing(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "Failed to fetch property")
		return
	}
	c.JSON(http.StatusOK, listing)
}

// CreateListing handles POST /api/properties
func (h *RestListingHandler) CreateListing(c *gin.Context) {
	agencyID, ok := middleware.AgencyID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Agency identity required"})
		return
	}
	var input models.ListingInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	listing, err := h.listingService.CreateListing(c.Request.Context(), agencyID, &input)
	if err != nil {
		respondError(c, err, "Failed to create property")
		return
	}
	c.JSON(http.StatusCreated, listing)
}

// UpdateListing handles PUT /api/properties/:id
func (h *RestListingHandler) UpdateListing(c *gin.Context) {
	agencyID, ok := middleware.AgencyID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Agency identity required"})
		return
	}
	id, ok := listingID(c)
	if !ok {
		return
	}
	var update models.ListingUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	listing, err := h.listingService.UpdateListing(c.Request.Context(), agencyID, id, &update)
	if err != nil {
		respondError(c, err, "Failed to update property")
		return
	}
	c.JSON(http.StatusOK, listing)
}

// UploadImages handles POST /api/properties/images
func (h *RestListingHandler) UploadImages(c *gin.Context) {
	var req uploadImagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	urls, err := h.listingService.UploadImages(req.Images)
	if err != nil {
		respondError(c, err, "Failed to upload images")
		return
	}
	c.JSON(http.StatusOK, gin.H{"urls": urls})
}

// GeocodeListing handles POST /api/properties/:id/geocode. A failed lookup is reported as
// no coordinates: the listing is returned as stored.
func (h *RestListingHandler) GeocodeListing(c *gin.Context) {
	id, ok := listingID(c)
	if !ok {
		return
	}
	listing, err := h.listingService.GeocodeListing(c.Request.Context(), id)
	if err != nil && !errors.Is(err, services.ErrListingNotFound) {
		log.Printf("WARN: geocoding property %d failed: %v", id, err)
		listing, err = h.listingService.GetListing(c.Request.Context(), id)
	}
	if err != nil {
		respondError(c, err, "Failed to geocode property")
		return
	}
	c.JSON(http.StatusOK, listing)
}

// BackfillCoordinates handles POST /api/properties/geocode-all and GET /api/properties/geocode-missing
func (h *RestListingHandler) BackfillCoordinates(c *gin.Context) {
	report, err := h.listingService.BackfillCoordinates(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to geocode properties")
		return
	}
	c.JSON(http.StatusOK, report)
}

func listingID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid property ID"})
		return 0, false
	}
	return id, true
}

// respondError maps service errors to status codes. Unexpected errors get a fixed message.
func respondError(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrListingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Property not found"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": message})
	}
}

// RegisterRestListingRoutes mounts the listing routes. agency guards the routes acting on behalf of an agency.
func RegisterRestListingRoutes(rg *gin.RouterGroup, handler *RestListingHandler, agency gin.HandlerFunc) {
	properties := rg.Group("/properties")
	{
		properties.GET("", handler.SearchListings)
		properties.GET("/transaction/:type", handler.SearchByTransaction)
		properties.GET("/stats/prices", handler.PriceStats)
		properties.GET("/geocode-missing", handler.BackfillCoordinates)
		properties.GET("/:id", handler.GetListingByID)
		properties.POST("/images", handler.UploadImages)
		properties.POST("/geocode-all", handler.BackfillCoordinates)
		properties.POST("/:id/geocode", handler.GeocodeListing)

		properties.GET("/agency", agency, handler.SearchAgencyListings)
		properties.POST("", agency, handler.CreateListing)
		properties.PUT("/:id", agency, handler.UpdateListing)
	}
}
