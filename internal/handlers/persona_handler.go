package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/xpanvictor/evermore/internal/repository/persona"
	"github.com/xpanvictor/evermore/pkg/Logger"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// CreatePersonaRequest is the payload for persona creation.
type CreatePersonaRequest struct {
	Name          string `json:"name" binding:"required"`
	Relationship  string `json:"relationship"`
	Nickname      string `json:"nickname"`
	SpeakingStyle string `json:"speaking_style"`
	VoiceID       string `json:"voice_id"`
}

// PersonaHandler handles persona-related HTTP requests
type PersonaHandler struct {
	personas persona.Repository
	logger   *Logger.Logger
}

func NewPersonaHandler(personas persona.Repository, logger *Logger.Logger) *PersonaHandler {
	return &PersonaHandler{personas: personas, logger: logger}
}

func (h *PersonaHandler) RegisterRoutes(router gin.IRouter) {
	grp := router.Group("/personas")
	{
		grp.POST("", h.CreatePersona)
		grp.GET("", h.ListPersonas)
		grp.GET("/:id", h.GetPersona)
	}
}

// CreatePersona handles persona creation
func (h *PersonaHandler) CreatePersona(c *gin.Context) {
	var req CreatePersonaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request data",
			Details: err.Error(),
		})
		return
	}

	entity := &persona.PersonaEntity{
		Name:          req.Name,
		Relationship:  req.Relationship,
		Nickname:      req.Nickname,
		SpeakingStyle: req.SpeakingStyle,
		VoiceID:       req.VoiceID,
	}
	if err := h.personas.Create(c.Request.Context(), entity); err != nil {
		h.logger.Errorf("create persona error: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"persona": entity})
}

// GetPersona handles getting a specific persona
func (h *PersonaHandler) GetPersona(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid persona id"})
		return
	}

	entity, err := h.personas.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, persona.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Persona not found"})
			return
		}
		h.logger.Errorf("get persona error: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"persona": entity})
}

// ListPersonas handles listing all personas
func (h *PersonaHandler) ListPersonas(c *gin.Context) {
	entities, err := h.personas.List(c.Request.Context())
	if err != nil {
		h.logger.Errorf("list personas error: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"personas": entities})
}
