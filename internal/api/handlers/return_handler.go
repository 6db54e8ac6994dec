package handlers

import (
	"context"
	"net/http"

	"example.com/backstage/services/library/internal/models"
	"example.com/backstage/services/library/internal/services"

	"github.com/gin-gonic/gin"
)

// ReturnPlacer records returns
type ReturnPlacer interface {
	PlaceReturn(ctx context.Context, req services.ReturnRequest) ([]models.Return, error)
}

// ReturnResponse is the wire form of a placed return
type ReturnResponse struct {
	Date        string                `json:"date"`
	ReturnItems []services.ReturnItem `json:"returnItems"`
}

// ReturnHandler handles return requests
type ReturnHandler struct {
	placer ReturnPlacer
}

// NewReturnHandler creates a new return handler
func NewReturnHandler(placer ReturnPlacer) *ReturnHandler {
	return &ReturnHandler{placer: placer}
}

// HandlePlaceReturn marks the requested items as returned
func (h *ReturnHandler) HandlePlaceReturn(c *gin.Context) {
	var req services.ReturnRequest
	if !bindJSON(c, &req) {
		return
	}

	returns, err := h.placer.PlaceReturn(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := ReturnResponse{ReturnItems: make([]services.ReturnItem, 0, len(returns))}
	for _, ret := range returns {
		resp.Date = ret.Date.Format(dateLayout)
		resp.ReturnItems = append(resp.ReturnItems, services.ReturnItem{IssueNoteID: ret.IssueNoteID, ISBN: ret.ISBN})
	}

	c.JSON(http.StatusCreated, resp)
}

// RegisterRoutes registers the handler's routes
func (h *ReturnHandler) RegisterRoutes(router gin.IRouter) {
	router.POST("/returns", h.HandlePlaceReturn)
}
