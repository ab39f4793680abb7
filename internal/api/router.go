// Package api exposes the administrative surface and the gateway relay
// endpoint that feeds platform events into the engine.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ruskmedia/screener/internal/bot"
	"github.com/ruskmedia/screener/internal/middleware"
	"github.com/ruskmedia/screener/internal/platform"
	"github.com/ruskmedia/screener/internal/provision"
	"github.com/ruskmedia/screener/internal/screening"
)

// Store is the gateway slice the admin surface reads.
type Store interface {
	GetUser(id string) (*screening.User, error)
	Stats() (*screening.Stats, error)
	AddCampaign(c *screening.Campaign) error
	ListCampaigns() ([]*screening.Campaign, error)
}

type Router struct {
	store      Store
	engine     *bot.Engine
	reconciler *provision.Reconciler
	dir        platform.Directory
	survey     *screening.Survey

	adminHash   string
	eventSecret string
	tokenTTL    time.Duration
}

func NewRouter(store Store, engine *bot.Engine, reconciler *provision.Reconciler, dir platform.Directory, survey *screening.Survey, adminHash, eventSecret string) *Router {
	return &Router{
		store:       store,
		engine:      engine,
		reconciler:  reconciler,
		dir:         dir,
		survey:      survey,
		adminHash:   adminHash,
		eventSecret: eventSecret,
		tokenTTL:    12 * time.Hour,
	}
}

func (rt *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/admin/login", rt.handleLogin)
	mux.Handle("/api/admin/stats", admin(rt.handleStats))
	mux.Handle("/api/admin/reconcile", admin(rt.handleReconcile))
	mux.Handle("/api/admin/campaigns", admin(rt.handleCampaigns))
	mux.Handle("/api/admin/users/", admin(rt.handleUserScoped))
	mux.HandleFunc("/api/events", rt.handleEvents)
}

func admin(h http.HandlerFunc) http.Handler {
	return middleware.RequireAdmin(h)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError never leaks internal detail to non-administrative callers; the
// admin endpoints are behind auth so their summaries may be structured.
func writeError(w http.ResponseWriter, err error) {
	if se, ok := screening.AsServiceError(err); ok {
		status := http.StatusBadRequest
		switch se.Code {
		case screening.ErrorNotFound, screening.ErrorSessionNotFound:
			status = http.StatusNotFound
		case screening.ErrorUnauthorized:
			status = http.StatusUnauthorized
		}
		writeJSON(w, status, map[string]string{"error": string(se.Code), "message": se.Message})
		return
	}
	log.Printf("api: internal error: %v", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal"})
}

func (rt *Router) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if rt.adminHash == "" {
		writeError(w, screening.NewUnauthorizedError("admin login is not configured"))
		return
	}
	var req struct {
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, screening.NewInvalidError("invalid request body"))
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(rt.adminHash), []byte(req.Password)) != nil {
		writeError(w, screening.NewUnauthorizedError("invalid credentials"))
		return
	}
	name := req.Name
	if name == "" {
		name = "admin"
	}
	token, err := middleware.SignAdminToken(name, rt.tokenTTL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (rt *Router) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats, err := rt.store.Stats()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (rt *Router) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	report, err := rt.reconciler.Run(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (rt *Router) handleCampaigns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		campaigns, err := rt.store.ListCampaigns()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"campaigns": campaigns})
	case http.MethodPost:
		var c screening.Campaign
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			writeError(w, screening.NewInvalidError("invalid request body"))
			return
		}
		if c.Name == "" {
			writeError(w, screening.NewInvalidError("name required"))
			return
		}
		if err := rt.store.AddCampaign(&c); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleUserScoped serves GET /api/admin/users/{id}/access: the user's held
// groups and the hierarchical channels those groups can currently read.
func (rt *Router) handleUserScoped(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/admin/users/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "access" || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	userID := parts[0]

	user, err := rt.store.GetUser(userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if user == nil {
		writeError(w, screening.NewNotFoundError("user not found"))
		return
	}
	groups, err := rt.dir.MemberGroups(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	groupSet := make(map[string]bool, len(groups))
	for _, g := range groups {
		groupSet[g] = true
	}
	channels, err := rt.dir.ListChannels(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	var visible []string
	for _, ch := range channels {
		if !rt.survey.IsHierarchical(ch.Name) {
			continue
		}
		for principal, perm := range ch.Overwrites {
			if perm.Read && groupSet[principal] {
				visible = append(visible, ch.Name)
				break
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":          userID,
		"completed":        user.Completed,
		"groups":           groups,
		"visible_channels": visible,
	})
}

// gatewayEvent is the envelope the relay posts for each platform event.
type gatewayEvent struct {
	Type     string     `json:"type"` // member_join | selection | start
	Member   bot.Member `json:"member"`
	Campaign string     `json:"campaign,omitempty"`
	Token    string     `json:"token,omitempty"`
	Values   []string   `json:"values,omitempty"`
}

func (rt *Router) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if rt.eventSecret == "" || r.Header.Get("X-Gateway-Secret") != rt.eventSecret {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var ev gatewayEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, screening.NewInvalidError("invalid event body"))
		return
	}
	var err error
	switch ev.Type {
	case "member_join":
		err = rt.engine.HandleJoin(r.Context(), ev.Member)
	case "start":
		campaign := ev.Campaign
		if campaign == "" {
			campaign = "MANUAL_START"
		}
		err = rt.engine.StartScreening(r.Context(), ev.Member, campaign)
	case "selection":
		err = rt.engine.HandleSelection(r.Context(), ev.Token, ev.Values)
	default:
		writeError(w, screening.NewInvalidError("unknown event type"))
		return
	}
	if err != nil {
		// Per-user failures stay contained; the relay only needs to know the
		// event was consumed.
		log.Printf("api: event %s for %s: %v", ev.Type, ev.Member.ID, err)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
