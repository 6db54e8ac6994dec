package handlers

import (
	"context"
	"net/http"

	"example.com/backstage/services/library/internal/models"
	"example.com/backstage/services/library/internal/services"

	"github.com/gin-gonic/gin"
)

// MemberManager manages the member directory
type MemberManager interface {
	ListMembers(ctx context.Context, query string) ([]models.Member, error)
	GetMember(ctx context.Context, id string) (*models.Member, error)
	CreateMember(ctx context.Context, req services.MemberRequest) (*models.Member, error)
	UpdateMember(ctx context.Context, id string, req services.MemberRequest) error
	DeleteMember(ctx context.Context, id string) error
}

// MemberHandler handles member requests
type MemberHandler struct {
	members MemberManager
}

// NewMemberHandler creates a new member handler
func NewMemberHandler(members MemberManager) *MemberHandler {
	return &MemberHandler{members: members}
}

func (h *MemberHandler) HandleListMembers(c *gin.Context) {
	members, err := h.members.ListMembers(c.Request.Context(), c.Query("q"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, members)
}

func (h *MemberHandler) HandleGetMember(c *gin.Context) {
	member, err := h.members.GetMember(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

func (h *MemberHandler) HandleCreateMember(c *gin.Context) {
	var req services.MemberRequest
	if !bindJSON(c, &req) {
		return
	}

	member, err := h.members.CreateMember(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, member)
}

func (h *MemberHandler) HandleUpdateMember(c *gin.Context) {
	var req services.MemberRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.members.UpdateMember(c.Request.Context(), c.Param("id"), req); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *MemberHandler) HandleDeleteMember(c *gin.Context) {
	if err := h.members.DeleteMember(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RegisterRoutes registers the handler's routes
func (h *MemberHandler) RegisterRoutes(router gin.IRouter) {
	members := router.Group("/members")
	members.GET("", h.HandleListMembers)
	members.GET("/:id", h.HandleGetMember)
	members.POST("", h.HandleCreateMember)
	members.PATCH("/:id", h.HandleUpdateMember)
	members.DELETE("/:id", h.HandleDeleteMember)
}
