package app

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/mthorley/ascension/internal/advancement/domain"
	"github.com/mthorley/ascension/internal/advancement/ingest"
	"github.com/mthorley/ascension/internal/advancement/storage"
)

// adminSecretHeader carries the shared secret guarding admin endpoints.
const adminSecretHeader = "X-Admin-Secret"

// Handler routes the webhook and admin HTTP surfaces.
type Handler struct {
	service     *Service
	adminSecret string
	logf        func(format string, args ...any)
}

// NewHandler constructs the HTTP handler. An empty adminSecret leaves the
// admin surface unusable rather than open.
func NewHandler(service *Service, adminSecret string) *Handler {
	return &Handler{service: service, adminSecret: adminSecret, logf: log.Printf}
}

// Mux returns the routed HTTP handler.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook/habitica", h.handleWebhook)
	mux.HandleFunc("/admin/link", h.admin(h.handleLink))
	mux.HandleFunc("/admin/rule", h.admin(h.handleRule))
	mux.HandleFunc("/admin/threshold", h.admin(h.handleThreshold))
	mux.HandleFunc("/admin/role-binding", h.admin(h.handleRoleBinding))
	mux.HandleFunc("/admin/pathway-role", h.admin(h.handlePathwayRole))
	mux.HandleFunc("/admin/announce-channel", h.admin(h.handleAnnounceChannel))
	mux.HandleFunc("/admin/xp/set", h.admin(h.handleSetXP))
	mux.HandleFunc("/admin/xp/adjust", h.admin(h.handleAdjustXP))
	mux.HandleFunc("/admin/reset", h.admin(h.handleReset))
	mux.HandleFunc("/admin/user", h.admin(h.handleGetUser))
	mux.HandleFunc("/admin/leaderboard", h.admin(h.handleLeaderboard))
	return mux
}

type webhookTask struct {
	UserID   string  `json:"userId"`
	Type     string  `json:"type"`
	Priority float64 `json:"priority"`
}

type webhookPayload struct {
	Task      webhookTask `json:"task"`
	Direction string      `json:"direction"`
}

type webhookResponse struct {
	OK bool  `json:"ok"`
	XP int64 `json:"xp"`
	// Leveled lists promotion transitions only. A demotion is reported in
	// Demoted instead.
	Leveled [][2]int `json:"leveled"`
	Demoted *[2]int  `json:"demoted,omitempty"`
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed payload")
		return
	}
	// Correlation id for tracing one delivery through the log stream.
	deliveryID := uuid.NewString()
	h.logf("webhook %s: user=%s task=%s priority=%v direction=%s",
		deliveryID, payload.Task.UserID, payload.Task.Type, payload.Task.Priority, payload.Direction)
	outcome, err := h.service.HandleTaskEvent(r.Context(), ingest.TaskEvent{
		Task: ingest.Task{
			UserID:   payload.Task.UserID,
			Type:     payload.Task.Type,
			Priority: payload.Task.Priority,
		},
		Direction: payload.Direction,
	})
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrInvalidEvent):
			writeJSONError(w, http.StatusBadRequest, "missing task user id")
		case errors.Is(err, ingest.ErrNotLinked):
			writeJSONError(w, http.StatusNotFound, "task user is not linked")
		default:
			h.logf("webhook %s: %v", deliveryID, err)
			writeJSONError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	response := webhookResponse{
		OK:      true,
		XP:      outcome.Delta,
		Leveled: make([][2]int, 0, len(outcome.Result.Promotions)),
	}
	for _, promotion := range outcome.Result.Promotions {
		response.Leveled = append(response.Leveled, [2]int{promotion.From, promotion.To})
	}
	if outcome.Result.Demoted {
		response.Demoted = &[2]int{outcome.Result.DemotedFrom, outcome.Result.DemotedTo}
	}
	writeJSON(w, http.StatusOK, response)
}

// admin wraps a handler with the shared-secret check.
func (h *Handler) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.adminSecret == "" {
			http.Error(w, "missing shared secret", http.StatusInternalServerError)
			return
		}
		if r.Header.Get(adminSecretHeader) != h.adminSecret {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (h *Handler) handleLink(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TaskUserID string `json:"taskUserId"`
		ChatUserID string `json:"chatUserId"`
	}
	if !decodePost(w, r, &body) {
		return
	}
	if err := h.service.LinkIdentity(r.Context(), body.TaskUserID, body.ChatUserID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) handleRule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TaskType   string `json:"taskType"`
		Difficulty string `json:"difficulty"`
		XP         int64  `json:"xp"`
	}
	if !decodePost(w, r, &body) {
		return
	}
	if err := h.service.SetRule(r.Context(), body.TaskType, body.Difficulty, body.XP); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) handleThreshold(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Sequence int   `json:"sequence"`
		XP       int64 `json:"xp"`
	}
	if !decodePost(w, r, &body) {
		return
	}
	if err := h.service.SetThreshold(r.Context(), body.Sequence, body.XP); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) handleRoleBinding(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Pathway  int    `json:"pathway"`
		Sequence int    `json:"sequence"`
		RoleID   string `json:"roleId"`
	}
	if !decodePost(w, r, &body) {
		return
	}
	if err := h.service.BindRole(r.Context(), body.Pathway, body.Sequence, body.RoleID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) handlePathwayRole(w http.ResponseWriter, r *http.Request) {
	var body struct {
		GuildID string `json:"guildId"`
		Pathway int    `json:"pathway"`
		RoleID  string `json:"roleId"`
	}
	if !decodePost(w, r, &body) {
		return
	}
	if err := h.service.BindPathwayRole(r.Context(), body.GuildID, body.Pathway, body.RoleID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) handleAnnounceChannel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ChannelID string `json:"channelId"`
	}
	if !decodePost(w, r, &body) {
		return
	}
	if err := h.service.SetAnnounceChannel(r.Context(), body.ChannelID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

type entryResponse struct {
	OK       bool     `json:"ok"`
	XP       int64    `json:"xp"`
	Pathway  int      `json:"pathway"`
	Sequence int      `json:"sequence"`
	Leveled  [][2]int `json:"leveled,omitempty"`
}

func entryResponseFrom(entry domain.Entry, promotions []domain.Transition) entryResponse {
	response := entryResponse{
		OK:       true,
		XP:       entry.XP,
		Pathway:  entry.Pathway,
		Sequence: entry.Sequence,
	}
	for _, promotion := range promotions {
		response.Leveled = append(response.Leveled, [2]int{promotion.From, promotion.To})
	}
	return response
}

func (h *Handler) handleSetXP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"userId"`
		XP     int64  `json:"xp"`
	}
	if !decodePost(w, r, &body) {
		return
	}
	entry, promotions, err := h.service.SetXP(r.Context(), body.UserID, body.XP)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entryResponseFrom(entry, promotions))
}

func (h *Handler) handleAdjustXP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"userId"`
		Delta  int64  `json:"delta"`
	}
	if !decodePost(w, r, &body) {
		return
	}
	entry, promotions, err := h.service.AdjustXP(r.Context(), body.UserID, body.Delta)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entryResponseFrom(entry, promotions))
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"userId"`
	}
	if !decodePost(w, r, &body) {
		return
	}
	entry, err := h.service.ResetUser(r.Context(), body.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entryResponseFrom(entry, nil))
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	view, err := h.service.GetUser(r.Context(), r.URL.Query().Get("user_id"), r.URL.Query().Get("guild_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK           bool   `json:"ok"`
		XP           int64  `json:"xp"`
		Pathway      int    `json:"pathway"`
		PathwayLabel string `json:"pathwayLabel"`
		Sequence     int    `json:"sequence"`
	}{
		OK:           true,
		XP:           view.Entry.XP,
		Pathway:      view.Entry.Pathway,
		PathwayLabel: view.PathwayLabel,
		Sequence:     view.Entry.Sequence,
	})
}

func (h *Handler) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = parsed
	}
	records, err := h.service.Leaderboard(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	type row struct {
		UserID   string `json:"userId"`
		XP       int64  `json:"xp"`
		Pathway  int    `json:"pathway"`
		Sequence int    `json:"sequence"`
	}
	rows := make([]row, 0, len(records))
	for _, record := range records {
		rows = append(rows, row{
			UserID:   record.UserID,
			XP:       record.XP,
			Pathway:  record.Pathway,
			Sequence: record.Sequence,
		})
	}
	writeJSON(w, http.StatusOK, struct {
		OK      bool  `json:"ok"`
		Entries []row `json:"entries"`
	}{OK: true, Entries: rows})
}

type okResponse struct {
	OK bool `json:"ok"`
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func decodePost(w http.ResponseWriter, r *http.Request, target any) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed payload")
		return false
	}
	return true
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, domain.ErrUserIDRequired):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "not found")
	default:
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{OK: false, Error: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(payload)
}
