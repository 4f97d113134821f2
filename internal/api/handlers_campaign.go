package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"social-automation-dashboard/internal/auth"
	"social-automation-dashboard/internal/campaign"
)

func (s *Server) handleListKeywords(c *gin.Context) {
	keywords, err := s.deps.Campaign.ListKeywords(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"keywords": keywords, "count": len(keywords)})
}

// handleAddKeyword adds a search keyword within the tier allowance
func (s *Server) handleAddKeyword(c *gin.Context) {
	var req campaign.KeywordRequest
	if !bindJSON(c, &req, false) {
		return
	}
	kw, err := s.deps.Campaign.AddKeyword(c.Request.Context(), auth.GetUserID(c), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, kw)
}

func (s *Server) handleRemoveKeyword(c *gin.Context) {
	if err := s.deps.Campaign.RemoveKeyword(c.Request.Context(), auth.GetUserID(c), c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListTemplates(c *gin.Context) {
	templates, err := s.deps.Campaign.ListTemplates(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"templates": templates, "count": len(templates)})
}

func (s *Server) handleCreateTemplate(c *gin.Context) {
	var req campaign.TemplateRequest
	if !bindJSON(c, &req, false) {
		return
	}
	t, err := s.deps.Campaign.CreateTemplate(c.Request.Context(), auth.GetUserID(c), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (s *Server) handleUpdateTemplate(c *gin.Context) {
	var req campaign.TemplateRequest
	if !bindJSON(c, &req, false) {
		return
	}
	t, err := s.deps.Campaign.UpdateTemplate(c.Request.Context(), auth.GetUserID(c), c.Param("id"), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) handleDeleteTemplate(c *gin.Context) {
	if err := s.deps.Campaign.DeleteTemplate(c.Request.Context(), auth.GetUserID(c), c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
