package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"wedding-notify/internal/models"
	"wedding-notify/internal/storage"
)

type createEventRequest struct {
	Name                    string    `json:"name" binding:"required"`
	BrideName               string    `json:"bride_name"`
	GroomName               string    `json:"groom_name"`
	Venue                   string    `json:"venue"`
	EventDate               time.Time `json:"event_date" binding:"required"`
	CountryCode             string    `json:"country_code"`
	MaybeFollowUpDelayHours int       `json:"maybe_follow_up_delay_hours"`
}

func (h *Handler) CreateEvent(c *gin.Context) {
	var req createEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	event := models.Event{
		Name:                    req.Name,
		BrideName:               req.BrideName,
		GroomName:               req.GroomName,
		Venue:                   req.Venue,
		EventDate:               req.EventDate,
		CountryCode:             req.CountryCode,
		MaybeFollowUpDelayHours: req.MaybeFollowUpDelayHours,
	}
	if err := h.store.CreateEvent(c.Request.Context(), &event); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": event})
}

type createGuestRequest struct {
	Name        string `json:"name" binding:"required"`
	PhoneNumber string `json:"phone_number" binding:"required"`
	Locale      string `json:"locale"`
}

func (h *Handler) CreateGuest(c *gin.Context) {
	var req createGuestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	guest := models.Guest{
		EventID:     c.Param("id"),
		Name:        req.Name,
		PhoneNumber: h.phones.Normalize(req.PhoneNumber),
		RawPhone:    req.PhoneNumber,
		Locale:      req.Locale,
	}
	if err := h.store.CreateGuest(c.Request.Context(), &guest); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": guest})
}

func (h *Handler) ListGuests(c *gin.Context) {
	guests, err := h.store.GuestsByEvent(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": guests})
}

type setRsvpRequest struct {
	Status     models.RsvpStatus `json:"status" binding:"required"`
	GuestCount int               `json:"guest_count"`
}

// SetRsvp is the explicit owner action on a guest's RSVP, going through
// the same idempotent upsert the correlator uses.
func (h *Handler) SetRsvp(c *gin.Context) {
	var req setRsvpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	switch req.Status {
	case models.RsvpPending, models.RsvpAccepted, models.RsvpDeclined, models.RsvpMaybe:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "unknown rsvp status"})
		return
	}
	guest, err := h.store.GuestByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if storage.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "guest not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	rsvp, err := h.store.UpsertRsvp(c.Request.Context(), guest.ID, req.Status, req.GuestCount)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": rsvp})
}

// SendInvitation sends the interactive invite to one guest.
func (h *Handler) SendInvitation(c *gin.Context) {
	ctx := c.Request.Context()
	guest, err := h.store.GuestByID(ctx, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "guest not found"})
		return
	}
	event, err := h.store.EventByID(ctx, guest.EventID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	if err := h.notifier.SendInteractiveInvite(ctx, guest, event); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type createFlowRequest struct {
	TriggerType   models.TriggerType `json:"trigger_type" binding:"required"`
	ActionType    models.ActionType  `json:"action_type" binding:"required"`
	DelayHours    int                `json:"delay_hours"`
	CustomMessage string             `json:"custom_message"`
}

func (h *Handler) CreateFlow(c *gin.Context) {
	var req createFlowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	flow, err := h.flows.Create(c.Request.Context(), c.Param("id"), req.TriggerType, req.ActionType, req.DelayHours, req.CustomMessage)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": flow})
}

func (h *Handler) ListFlows(c *gin.Context) {
	flows, err := h.store.FlowsByEvent(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": flows})
}

func (h *Handler) ActivateFlow(c *gin.Context) {
	if err := h.flows.Activate(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) PauseFlow(c *gin.Context) {
	if err := h.flows.Pause(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) ArchiveFlow(c *gin.Context) {
	if err := h.flows.Archive(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) ListExecutions(c *gin.Context) {
	execs, err := h.store.ExecutionsByFlow(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": execs})
}
