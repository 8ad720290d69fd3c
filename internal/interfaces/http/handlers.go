package http

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/letter-approval/internal/application/artifact"
	"github.com/garyjia/letter-approval/internal/application/notify"
	"github.com/garyjia/letter-approval/internal/application/service"
	"github.com/garyjia/letter-approval/internal/application/workflow"
	"github.com/garyjia/letter-approval/internal/domain/apperr"
	"github.com/garyjia/letter-approval/internal/domain/entity"
)

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// Version is reported by /health
const Version = "1.0.0"

// HealthResponse represents health check response
type HealthResponse struct {
	Status     string      `json:"status"`
	Timestamp  time.Time   `json:"timestamp"`
	Version    string      `json:"version"`
	Components interface{} `json:"components,omitempty"`
}

// SubmitRequest is the body of POST /api/letters
type SubmitRequest struct {
	Title string `json:"title" binding:"required"`
	Body  string `json:"body" binding:"required"`
}

// DecisionRequest carries the optional comment of an approve or the reason
// of a reject. ExpectedVersion, or an If-Match header, makes the decision
// conditional on the letter version the caller last saw.
type DecisionRequest struct {
	Comment         string `json:"comment"`
	Reason          string `json:"reason"`
	ExpectedVersion int64  `json:"expected_version"`
}

// SignRequest carries the signer's image as base64 or a data URL
type SignRequest struct {
	SignatureImage string `json:"signature_image" binding:"required"`
}

// RemindRequest is the body of POST /api/letters/:id/remind
type RemindRequest struct {
	Message string `json:"message"`
}

// ActorRequest is the body of PUT /api/actors/:id
type ActorRequest struct {
	Name           string      `json:"name"`
	Role           entity.Role `json:"role"`
	Department     string      `json:"department"`
	Designation    string      `json:"designation"`
	MentorID       string      `json:"mentor_id"`
	LarkOpenID     string      `json:"lark_open_id"`
	SignatureImage string      `json:"signature_image"`
}

// Handlers contains all HTTP handlers
type Handlers struct {
	letters  service.LetterService
	realtime RealtimeServer
	health   HealthProbe
	logger   Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(letters service.LetterService, realtime RealtimeServer, health HealthProbe, logger Logger) *Handlers {
	return &Handlers{
		letters:  letters,
		realtime: realtime,
		health:   health,
		logger:   logger,
	}
}

// HealthCheck answers 200 when the probe passes and 503 otherwise
func (h *Handlers) HealthCheck(c *gin.Context) {
	resp := HealthResponse{Status: "healthy", Timestamp: time.Now().UTC(), Version: Version}
	status := http.StatusOK

	if h.health != nil {
		ok, detail := h.health()
		resp.Components = detail
		if !ok {
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}
	c.JSON(status, Response{Success: status == http.StatusOK, Data: resp})
}

func (h *Handlers) ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Success: true, Data: data})
}

func (h *Handlers) badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: msg, Code: string(apperr.KindValidation)})
}

// Submit creates a letter for the caller
func (h *Handlers) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "title and body are required")
		return
	}

	letter, err := h.letters.Submit(c.Request.Context(), workflow.SubmitRequest{
		SubmitterID: currentActor(c).ID,
		Title:       req.Title,
		Body:        req.Body,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.ok(c, http.StatusCreated, letter)
}

// GetLetter returns a single letter
func (h *Handlers) GetLetter(c *gin.Context) {
	letter, err := h.letters.Get(c.Request.Context(), c.Param("id"), currentActor(c).ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Header("ETag", strconv.Quote(strconv.FormatInt(letter.Version, 10)))
	h.ok(c, http.StatusOK, letter)
}

// ListMine returns the caller's own letters
func (h *Handlers) ListMine(c *gin.Context) {
	letters, err := h.letters.ListMine(c.Request.Context(), currentActor(c).ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.ok(c, http.StatusOK, nonNil(letters))
}

// ListAssigned returns letters awaiting the caller
func (h *Handlers) ListAssigned(c *gin.Context) {
	letters, err := h.letters.ListAssigned(c.Request.Context(), currentActor(c).ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.ok(c, http.StatusOK, nonNil(letters))
}

// Approve records the caller's approval of the current step
func (h *Handlers) Approve(c *gin.Context) {
	var req DecisionRequest
	if !h.bindOptional(c, &req) {
		return
	}
	opts, ok := h.decisionOptions(c, req)
	if !ok {
		return
	}

	letter, err := h.letters.Approve(c.Request.Context(), c.Param("id"), currentActor(c).ID, req.Comment, opts...)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.ok(c, http.StatusOK, letter)
}

// Reject ends the workflow
func (h *Handlers) Reject(c *gin.Context) {
	var req DecisionRequest
	if !h.bindOptional(c, &req) {
		return
	}
	opts, ok := h.decisionOptions(c, req)
	if !ok {
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = req.Comment
	}

	letter, err := h.letters.Reject(c.Request.Context(), c.Param("id"), currentActor(c).ID, reason, opts...)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.ok(c, http.StatusOK, letter)
}

// Sign attaches the final signature
func (h *Handlers) Sign(c *gin.Context) {
	var req SignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "signature_image is required")
		return
	}

	letter, err := h.letters.Sign(c.Request.Context(), c.Param("id"), currentActor(c).ID, req.SignatureImage)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.ok(c, http.StatusOK, letter)
}

// Remind nudges the current approver, subject to the cooldown
func (h *Handlers) Remind(c *gin.Context) {
	var req RemindRequest
	if !h.bindOptional(c, &req) {
		return
	}

	result, err := h.letters.Remind(c.Request.Context(), c.Param("id"), currentActor(c).ID, req.Message)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.ok(c, http.StatusAccepted, result)
}

// LetterHistory returns the audit trail of a letter
func (h *Handlers) LetterHistory(c *gin.Context) {
	entries, err := h.letters.HistoryByLetter(c.Request.Context(), c.Param("id"), currentActor(c).ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.ok(c, http.StatusOK, nonNil(entries))
}

// ActorHistory returns the actions taken by an actor
func (h *Handlers) ActorHistory(c *gin.Context) {
	entries, err := h.letters.HistoryByActor(c.Request.Context(), c.Param("id"), currentActor(c).ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.ok(c, http.StatusOK, nonNil(entries))
}

// GenerateArtifact renders and streams the xlsx document
func (h *Handlers) GenerateArtifact(c *gin.Context) {
	kind := entity.ArtifactKind(c.DefaultQuery("kind", string(entity.ArtifactClean)))
	if !kind.IsValid() {
		h.badRequest(c, "kind must be clean or signed")
		return
	}

	doc, err := h.letters.GenerateArtifact(c.Request.Context(), c.Param("id"), currentActor(c).ID, kind)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+doc.FileName()+`"`)
	c.Header("X-Document-ID", doc.DocumentID)
	c.Header("X-Verification-Marker", doc.VerificationMarker)
	c.Data(http.StatusOK, artifact.ContentType, doc.Content)
}

// VerifyArtifact checks a marker printed on an issued document
func (h *Handlers) VerifyArtifact(c *gin.Context) {
	marker := strings.TrimSpace(c.Query("marker"))

	result, err := h.letters.VerifyArtifact(c.Request.Context(), c.Param("documentId"), marker)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.ok(c, http.StatusOK, result)
}

// UpsertActor creates or replaces a directory entry. Admin only.
func (h *Handlers) UpsertActor(c *gin.Context) {
	var req ActorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid actor payload")
		return
	}

	actor := &entity.Actor{
		ID:          c.Param("id"),
		Name:        req.Name,
		Role:        req.Role,
		Department:  req.Department,
		Designation: req.Designation,
		MentorID:    req.MentorID,
		LarkOpenID:  req.LarkOpenID,
	}
	if req.SignatureImage != "" {
		img, err := decodeImage(req.SignatureImage)
		if err != nil {
			h.badRequest(c, "signature_image is not valid base64")
			return
		}
		actor.SignatureImage = img
	}

	saved, err := h.letters.UpsertActor(c.Request.Context(), currentActor(c).ID, actor)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.ok(c, http.StatusOK, saved)
}

// Subscribe upgrades to a websocket joined to the caller's rooms
func (h *Handlers) Subscribe(c *gin.Context) {
	actor := currentActor(c)
	rooms := []string{notify.ActorRoom(actor.ID)}
	if actor.IsAdmin() {
		rooms = append(rooms, notify.RoomAdmins)
	}

	// Serve writes its own response on failure
	if err := h.realtime.Serve(c.Writer, c.Request, rooms); err != nil {
		h.logger.Error("Websocket upgrade failed", "actor_id", actor.ID, "error", err)
	}
}

// bindOptional accepts an empty body
func (h *Handlers) bindOptional(c *gin.Context, dst interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		h.badRequest(c, "invalid request body")
		return false
	}
	return true
}

// decisionOptions reads the expected letter version from the body or from an
// If-Match header such as "3" or W/"3". The body wins when both are set.
func (h *Handlers) decisionOptions(c *gin.Context, req DecisionRequest) ([]workflow.DecisionOption, bool) {
	version := req.ExpectedVersion
	if version == 0 {
		if tag := strings.TrimSpace(c.GetHeader("If-Match")); tag != "" {
			tag = strings.Trim(strings.TrimPrefix(tag, "W/"), `"`)
			v, err := strconv.ParseInt(tag, 10, 64)
			if err != nil || v <= 0 {
				h.badRequest(c, "If-Match must be a letter version")
				return nil, false
			}
			version = v
		}
	}
	if version < 0 {
		h.badRequest(c, "expected_version must be positive")
		return nil, false
	}
	if version == 0 {
		return nil, true
	}
	return []workflow.DecisionOption{workflow.IfVersion(version)}, true
}

func decodeImage(s string) ([]byte, error) {
	if i := strings.Index(s, ","); strings.HasPrefix(s, "data:") && i >= 0 {
		s = s[i+1:]
	}
	return base64.StdEncoding.DecodeString(s)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
