package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ssvgopal/omnifyproduct-sub002/db"
	"github.com/ssvgopal/omnifyproduct-sub002/services"
)

type InterventionHandler struct {
	lifecycle *services.LifecycleManager
	registry  *services.ExpertRegistry
}

func NewInterventionHandler(lifecycle *services.LifecycleManager, registry *services.ExpertRegistry) *InterventionHandler {
	return &InterventionHandler{
		lifecycle: lifecycle,
		registry:  registry,
	}
}

// CreateIntervention handles POST /interventions
func (h *InterventionHandler) CreateIntervention(c *gin.Context) {
	var input db.CreateInterventionRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req, err := h.lifecycle.RequestIntervention(c.Request.Context(), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

// GetIntervention handles GET /interventions/:id
func (h *InterventionHandler) GetIntervention(c *gin.Context) {
	status, err := h.lifecycle.GetInterventionStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// SubmitDecision handles POST /interventions/:id/decision
func (h *InterventionHandler) SubmitDecision(c *gin.Context) {
	var input db.SubmitDecisionRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	decision, err := h.lifecycle.SubmitDecision(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, decision)
}

// EscalateIntervention handles POST /interventions/:id/escalate
func (h *InterventionHandler) EscalateIntervention(c *gin.Context) {
	var input db.EscalateRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := c.Param("id")
	raised, err := h.lifecycle.Escalate(c.Request.Context(), id, input.Reason, input.TargetLevel)
	if err != nil {
		respondError(c, err)
		return
	}

	status, err := h.lifecycle.GetInterventionStatus(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escalated": raised, "request": status})
}

// RegisterExpert handles POST /experts
func (h *InterventionHandler) RegisterExpert(c *gin.Context) {
	var profile db.ExpertProfile
	if err := c.ShouldBindJSON(&profile); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := h.registry.Register(c.Request.Context(), profile)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// GetExpertWorkload handles GET /experts/:id/workload
func (h *InterventionHandler) GetExpertWorkload(c *gin.Context) {
	workload, err := h.lifecycle.GetExpertWorkload(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, workload)
}

// respondError maps domain errors onto HTTP status codes.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, db.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, db.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, db.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, db.ErrCapacityExhausted):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Printf("Internal error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
