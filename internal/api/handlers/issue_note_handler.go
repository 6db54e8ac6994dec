package handlers

import (
	"context"
	"net/http"
	"strconv"

	"example.com/backstage/services/library/internal/models"
	"example.com/backstage/services/library/internal/search"
	"example.com/backstage/services/library/internal/services"

	"github.com/gin-gonic/gin"
)

const dateLayout = "2006-01-02"

// IssueNotePlacer places issue notes
type IssueNotePlacer interface {
	PlaceIssueNote(ctx context.Context, req services.IssueNoteRequest) (*models.IssueNote, error)
}

// IssueNoteSearcher queries the issue note projection
type IssueNoteSearcher interface {
	SearchIssueNotes(ctx context.Context, q services.SearchQuery) ([]search.IssueNoteDocument, error)
}

// IssueNoteResponse is the wire form of a placed issue note
type IssueNoteResponse struct {
	ID       int64    `json:"id"`
	Date     string   `json:"date"`
	MemberID string   `json:"memberId"`
	Books    []string `json:"books"`
}

// IssueNoteHandler handles issue note requests
type IssueNoteHandler struct {
	placer   IssueNotePlacer
	searcher IssueNoteSearcher
}

// NewIssueNoteHandler creates a new issue note handler
func NewIssueNoteHandler(placer IssueNotePlacer, searcher IssueNoteSearcher) *IssueNoteHandler {
	return &IssueNoteHandler{placer: placer, searcher: searcher}
}

// HandlePlaceIssueNote lends the requested books to a member
func (h *IssueNoteHandler) HandlePlaceIssueNote(c *gin.Context) {
	var req services.IssueNoteRequest
	if !bindJSON(c, &req) {
		return
	}

	note, err := h.placer.PlaceIssueNote(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, IssueNoteResponse{
		ID:       note.ID,
		Date:     note.Date.Format(dateLayout),
		MemberID: note.MemberID,
		Books:    note.ISBNs(),
	})
}

// HandleSearchIssueNotes filters issue notes by memberId, isbn and
// outstanding query parameters
func (h *IssueNoteHandler) HandleSearchIssueNotes(c *gin.Context) {
	outstanding, _ := strconv.ParseBool(c.DefaultQuery("outstanding", "false"))

	docs, err := h.searcher.SearchIssueNotes(c.Request.Context(), services.SearchQuery{
		MemberID:        c.Query("memberId"),
		ISBN:            c.Query("isbn"),
		OutstandingOnly: outstanding,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, docs)
}

// RegisterRoutes registers the handler's routes
func (h *IssueNoteHandler) RegisterRoutes(router gin.IRouter) {
	router.POST("/issue-notes", h.HandlePlaceIssueNote)
	router.GET("/issue-notes", h.HandleSearchIssueNotes)
}
