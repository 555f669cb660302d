package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/apperrors"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/models"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/search"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/services"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/tracing"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/validation"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// EventsHandler handles the lifecycle HTTP surface
type EventsHandler struct {
	engine *services.Engine
	views  *services.Views
	search *search.ElasticClient
	tracer tracing.Tracer
}

// NewEventsHandler creates a new events handler. searchClient may be nil
// when Elasticsearch is not configured.
func NewEventsHandler(engine *services.Engine, views *services.Views, searchClient *search.ElasticClient, tracer tracing.Tracer) *EventsHandler {
	return &EventsHandler{
		engine: engine,
		views:  views,
		search: searchClient,
		tracer: tracer,
	}
}

// respondError maps the error taxonomy to HTTP statuses
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperrors.KindOf(err) {
	case apperrors.KindValidation:
		status = http.StatusBadRequest
	case apperrors.KindNotFound:
		status = http.StatusNotFound
	case apperrors.KindForbidden:
		status = http.StatusForbidden
	case apperrors.KindConflict:
		status = http.StatusConflict
	case apperrors.KindState:
		status = http.StatusConflict
	case apperrors.KindDependency:
		log.Error().Err(err).Msg("Dependency failure")
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// CreateBattleRequest starts a 1v1 battle
type CreateBattleRequest struct {
	CreatorWallet  string  `json:"creator_wallet" binding:"required"`
	OpponentWallet *string `json:"opponent_wallet"`
	Title          string  `json:"title"`
	Description    *string `json:"description"`
	Category       string  `json:"category"`
	Rounds         int     `json:"rounds"`
	BarsPerRound   int     `json:"bars_per_round"`
	DurationHours  int     `json:"duration_hours"`
	StakeAmount    *int64  `json:"stake_amount"`
	StakeCurrency  string  `json:"stake_currency"`
	IsPublic       *bool   `json:"is_public"`
}

// HandleCreateBattle handles POST /api/v1/battles
func (h *EventsHandler) HandleCreateBattle(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-create-battle")
	defer h.tracer.EndTransaction(txn)

	var req CreateBattleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !validation.IsValidWallet(req.CreatorWallet) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid creator wallet"})
		return
	}
	if req.OpponentWallet != nil && !validation.IsValidWallet(*req.OpponentWallet) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid opponent wallet"})
		return
	}
	h.tracer.AddAttribute(txn, "creator", req.CreatorWallet)

	isPublic := true
	if req.IsPublic != nil {
		isPublic = *req.IsPublic
	}
	event, err := h.engine.CreateEvent(c.Request.Context(), services.CreateEventInput{
		Kind:           models.KindBattle,
		CreatorWallet:  req.CreatorWallet,
		OpponentWallet: req.OpponentWallet,
		Title:          req.Title,
		Description:    req.Description,
		Category:       req.Category,
		Rounds:         req.Rounds,
		BarsPerRound:   req.BarsPerRound,
		Duration:       time.Duration(req.DurationHours) * time.Hour,
		StakeAmount:    req.StakeAmount,
		StakeCurrency:  req.StakeCurrency,
		IsPublic:       isPublic,
	})
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"event": event})
}

// CreateChallengeRequest starts a multi-participant challenge
type CreateChallengeRequest struct {
	CreatorWallet   string  `json:"creator_wallet" binding:"required"`
	Title           string  `json:"title" binding:"required"`
	Description     *string `json:"description"`
	Category        string  `json:"category"`
	Mode            string  `json:"mode"`
	Rounds          int     `json:"rounds"`
	BarsPerRound    int     `json:"bars_per_round"`
	DurationHours   int     `json:"duration_hours"`
	StakeAmount     *int64  `json:"stake_amount"`
	StakeCurrency   string  `json:"stake_currency"`
	MaxParticipants int     `json:"max_participants"`
	IsPublic        *bool   `json:"is_public"`
}

// HandleCreateChallenge handles POST /api/v1/challenges
func (h *EventsHandler) HandleCreateChallenge(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-create-challenge")
	defer h.tracer.EndTransaction(txn)

	var req CreateChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !validation.IsValidWallet(req.CreatorWallet) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid creator wallet"})
		return
	}
	h.tracer.AddAttribute(txn, "creator", req.CreatorWallet)

	isPublic := true
	if req.IsPublic != nil {
		isPublic = *req.IsPublic
	}
	event, err := h.engine.CreateEvent(c.Request.Context(), services.CreateEventInput{
		Kind:            models.KindChallenge,
		CreatorWallet:   req.CreatorWallet,
		Title:           req.Title,
		Description:     req.Description,
		Category:        req.Category,
		Mode:            req.Mode,
		Rounds:          req.Rounds,
		BarsPerRound:    req.BarsPerRound,
		Duration:        time.Duration(req.DurationHours) * time.Hour,
		StakeAmount:     req.StakeAmount,
		StakeCurrency:   req.StakeCurrency,
		MaxParticipants: req.MaxParticipants,
		IsPublic:        isPublic,
	})
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"event": event, "invite_code": event.InviteCode})
}

// JoinRequest enrolls a wallet
type JoinRequest struct {
	Wallet string `json:"wallet" binding:"required"`
}

// HandleJoinEvent handles POST /api/v1/events/:id/join
func (h *EventsHandler) HandleJoinEvent(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-join-event")
	defer h.tracer.EndTransaction(txn)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !validation.IsValidWallet(req.Wallet) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wallet"})
		return
	}

	participant, err := h.engine.JoinEvent(c.Request.Context(), id, req.Wallet)
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"participant": participant})
}

// HandleJoinByInviteCode handles POST /api/v1/challenges/join/:code
func (h *EventsHandler) HandleJoinByInviteCode(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-join-by-invite")
	defer h.tracer.EndTransaction(txn)

	code := strings.ToUpper(c.Param("code"))
	if !validation.IsValidInviteCode(code) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invite code"})
		return
	}
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !validation.IsValidWallet(req.Wallet) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wallet"})
		return
	}

	event, participant, err := h.engine.JoinByInviteCode(c.Request.Context(), code, req.Wallet)
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"event": event, "participant": participant})
}

// SubmitEntryRequest carries one round entry
type SubmitEntryRequest struct {
	Wallet      string  `json:"wallet" binding:"required"`
	Round       int     `json:"round" binding:"required"`
	AudioURL    string  `json:"audio_url" binding:"required"`
	Lyrics      *string `json:"lyrics"`
	Description *string `json:"description"`
}

// HandleSubmitEntry handles POST /api/v1/events/:id/entries
func (h *EventsHandler) HandleSubmitEntry(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-submit-entry")
	defer h.tracer.EndTransaction(txn)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}
	var req SubmitEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !validation.IsValidWallet(req.Wallet) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wallet"})
		return
	}
	h.tracer.AddAttribute(txn, "wallet", req.Wallet)
	h.tracer.AddAttribute(txn, "round", req.Round)

	submission, phase, err := h.engine.SubmitEntry(c.Request.Context(), services.SubmitEntryInput{
		EventID:     id,
		Wallet:      req.Wallet,
		Round:       req.Round,
		AudioURL:    req.AudioURL,
		Lyrics:      req.Lyrics,
		Description: req.Description,
	})
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"submission": submission, "phase": phase})
}

// CastVoteRequest carries one vote
type CastVoteRequest struct {
	VoterWallet  string `json:"voter_wallet" binding:"required"`
	WinnerWallet string `json:"winner_wallet" binding:"required"`
}

// HandleCastVote handles POST /api/v1/events/:id/votes
func (h *EventsHandler) HandleCastVote(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-cast-vote")
	defer h.tracer.EndTransaction(txn)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}
	var req CastVoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !validation.IsValidWallet(req.VoterWallet) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid voter wallet"})
		return
	}

	vote, tally, err := h.engine.CastVote(c.Request.Context(), services.CastVoteInput{
		EventID:      id,
		VoterWallet:  req.VoterWallet,
		WinnerWallet: req.WinnerWallet,
	})
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"vote": vote, "tally": tally})
}

// HandleGetEvent handles GET /api/v1/events/:id
func (h *EventsHandler) HandleGetEvent(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-get-event")
	defer h.tracer.EndTransaction(txn)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}
	viewer := c.Query("wallet")

	view, err := h.views.GetEvent(c.Request.Context(), id, viewer)
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// HandleGetEventByInviteCode handles GET /api/v1/invites/:code
func (h *EventsHandler) HandleGetEventByInviteCode(c *gin.Context) {
	code := strings.ToUpper(c.Param("code"))
	if !validation.IsValidInviteCode(code) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invite code"})
		return
	}

	view, err := h.views.GetEventByInviteCode(c.Request.Context(), code, c.Query("wallet"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// HandleListEvents handles GET /api/v1/events. Listings default to events
// open for voting; phase=all lifts the filter.
func (h *EventsHandler) HandleListEvents(c *gin.Context) {
	phase := c.DefaultQuery("phase", string(models.PhaseVoting))
	if phase == "all" {
		phase = ""
	}
	filter := services.EventFilter{
		Phase: models.Phase(phase),
		Kind:  models.EventKind(c.Query("kind")),
	}
	filter.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	filter.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	events, err := h.views.ListEvents(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// HandleSearchEvents handles GET /api/v1/search
func (h *EventsHandler) HandleSearchEvents(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-search-events")
	defer h.tracer.EndTransaction(txn)

	if h.search == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "search is not configured"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	docs, err := h.search.SearchEvents(c.Request.Context(), c.Query("q"), c.Query("kind"), c.Query("category"), limit)
	if err != nil {
		h.tracer.RecordError(txn, err)
		log.Error().Err(err).Msg("Event search failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": docs, "count": len(docs)})
}

// HandleGetLeaderboard handles GET /api/v1/leaderboard
func (h *EventsHandler) HandleGetLeaderboard(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-get-leaderboard")
	defer h.tracer.EndTransaction(txn)

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	view, err := h.views.Leaderboard(c.Request.Context(), c.DefaultQuery("period", "all"), c.Query("category"), limit)
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// HandleGetProfile handles GET /api/v1/profiles/:wallet
func (h *EventsHandler) HandleGetProfile(c *gin.Context) {
	wallet := c.Param("wallet")
	if !validation.IsValidWallet(wallet) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wallet"})
		return
	}

	profile, err := h.views.GetProfile(c.Request.Context(), wallet)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": profile})
}

// RegisterRoutes registers the handler's routes
func (h *EventsHandler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		v1.POST("/battles", h.HandleCreateBattle)
		v1.POST("/challenges", h.HandleCreateChallenge)
		v1.POST("/challenges/join/:code", h.HandleJoinByInviteCode)
		v1.GET("/invites/:code", h.HandleGetEventByInviteCode)
		v1.GET("/events", h.HandleListEvents)
		v1.GET("/search", h.HandleSearchEvents)
		v1.GET("/events/:id", h.HandleGetEvent)
		v1.POST("/events/:id/join", h.HandleJoinEvent)
		v1.POST("/events/:id/entries", h.HandleSubmitEntry)
		v1.POST("/events/:id/votes", h.HandleCastVote)
		v1.GET("/leaderboard", h.HandleGetLeaderboard)
		v1.GET("/profiles/:wallet", h.HandleGetProfile)
	}
}
