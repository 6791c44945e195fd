package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/corridorsec/harrier/internal/domain"
	"github.com/corridorsec/harrier/internal/policy"
	"github.com/corridorsec/harrier/internal/profile"
	"github.com/corridorsec/harrier/internal/repository"
	"github.com/corridorsec/harrier/internal/scoring"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	engine   *scoring.Engine
	profiles *profile.Repository
	policies *policy.Engine
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	sink     domain.MonitoringSink
	velocity domain.VelocityObserver
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(
	engine *scoring.Engine,
	profiles *profile.Repository,
	policies *policy.Engine,
	repo domain.Repository,
	cache domain.Cache,
	bus domain.EventBus,
	sink domain.MonitoringSink,
	velocity domain.VelocityObserver,
	version string,
) *Handler {
	return &Handler{
		engine:   engine,
		profiles: profiles,
		policies: policies,
		repo:     repo,
		cache:    cache,
		bus:      bus,
		sink:     sink,
		velocity: velocity,
		version:  version,
	}
}

// Score handles POST /score requests: synchronous scoring of one
// transaction.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	tx := req.ToTransaction()

	// Every scored transaction counts toward the sender's rolling window.
	if h.velocity != nil {
		if err := h.velocity.Observe(ctx, tx.SenderID, 24*time.Hour); err != nil {
			slog.Warn("failed to record velocity observation",
				"sender", tx.SenderID,
				"error", err,
			)
		}
	}

	result, err := h.engine.Score(ctx, tx)
	if err != nil {
		h.writeScoreError(w, tx, err)
		return
	}

	// Persist for audit, best effort. A storage outage must not block the
	// decision from reaching the caller.
	if h.repo != nil {
		if err := h.repo.SaveResult(ctx, result); err != nil {
			slog.Error("failed to save score result",
				"result_id", result.ID,
				"error", err,
			)
		}
	}

	if h.sink != nil {
		h.sink.Record(ctx, decisionRecord(result))
	}

	writeJSON(w, http.StatusOK, result.ToResponse())
}

// ScoreAsync handles POST /score/async: validates the transaction and
// queues it for background scoring via the event bus.
func (h *Handler) ScoreAsync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	var req domain.ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	payload, err := json.Marshal(req.ToTransaction())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to encode transaction",
		})
		return
	}

	if err := h.bus.Publish(ctx, domain.TopicTransactionIngested, payload); err != nil {
		slog.Error("failed to publish transaction", "tx_id", req.ID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "failed to queue transaction",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"tx_id":  req.ID,
		"status": "queued",
	})
}

func (h *Handler) writeScoreError(w http.ResponseWriter, tx *domain.Transaction, err error) {
	var missing *domain.MissingProfileError
	if errors.As(err, &missing) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": missing.Error(),
		})
		return
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "scoring was cancelled",
		})
		return
	}

	slog.Error("scoring failed", "tx_id", tx.ID, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error": "scoring failed",
	})
}

// GetResult retrieves a stored score result by ID.
func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resultID := chi.URLParam(r, "id")

	if resultID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "result id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	result, err := h.repo.GetResult(ctx, resultID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "result not found",
			})
			return
		}
		slog.Error("failed to get result", "id", resultID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to retrieve result",
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ListProfiles returns the corridors in the active snapshot.
func (h *Handler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	corridors := h.profiles.Corridors()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"corridors": corridors,
		"count":     len(corridors),
	})
}

// GetProfile resolves a corridor's profile, including the similarity
// fallback an unknown corridor would receive when scored.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	corridor := chi.URLParam(r, "corridor")

	resolved, err := h.profiles.Get(corridor)
	if err != nil {
		var missing *domain.MissingProfileError
		if errors.As(err, &missing) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": missing.Error(),
			})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to resolve profile",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"profile":        resolved.Profile,
		"multipliers":    resolved.Multipliers,
		"inherited":      resolved.Inherited,
		"inherited_from": resolved.InheritedFrom,
	})
}

// ListProfileVersions returns the stored version history for a corridor.
func (h *Handler) ListProfileVersions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	corridor := chi.URLParam(r, "corridor")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	versions, err := h.repo.ListProfileVersions(ctx, corridor, 20)
	if err != nil {
		slog.Error("failed to list profile versions", "corridor", corridor, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list profile versions",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"corridor": corridor,
		"versions": versions,
		"count":    len(versions),
	})
}

// PublishProfileRequest is the request body for POST /profiles.
type PublishProfileRequest struct {
	Corridor    string                  `json:"corridor"`
	Version     string                  `json:"version"`
	Profile     *domain.CorridorProfile `json:"profile"`
	Multipliers domain.MultiplierSet    `json:"multipliers"`
}

// PublishProfile validates, persists and activates a new profile version,
// then swaps a fresh snapshot in.
func (h *Handler) PublishProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	var req PublishProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Corridor == "" || req.Version == "" || req.Profile == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "corridor, version and profile are required",
		})
		return
	}

	req.Profile.Corridor = req.Corridor
	req.Profile.Version = req.Version

	stored := &domain.StoredProfile{
		Corridor:    req.Corridor,
		Version:     req.Version,
		Profile:     req.Profile,
		Multipliers: req.Multipliers,
		CreatedAt:   time.Now().UTC(),
	}

	if err := profile.Publish(ctx, h.repo, h.profiles, stored); err != nil {
		var invariant *domain.ConfigurationInvariantError
		if errors.As(err, &invariant) {
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": invariant.Error(),
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"corridor": req.Corridor,
		"version":  req.Version,
		"status":   "active",
	})
}

// ReloadProfiles rebuilds the profile snapshot from storage.
func (h *Handler) ReloadProfiles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	count, err := profile.Reload(ctx, h.repo, h.profiles)
	if err != nil {
		slog.Error("profile reload failed", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reloaded": count,
	})
}

// ListPolicies returns the persisted policy rules.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	rules, err := h.repo.ListPolicyRules(ctx)
	if err != nil {
		slog.Error("failed to list policy rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list policy rules",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  rules,
		"count":  len(rules),
		"loaded": h.policies.RuleCount(),
	})
}

// CreatePolicy validates, persists and hot-loads a policy override rule.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	var rule domain.PolicyRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if rule.ID == "" || rule.Name == "" || rule.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	if err := h.policies.ValidateRule(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid policy rule: " + err.Error(),
		})
		return
	}

	if err := h.repo.SavePolicyRule(ctx, &rule); err != nil {
		slog.Error("failed to save policy rule", "id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save policy rule",
		})
		return
	}

	if err := h.policies.Reload(ctx, h.repo); err != nil {
		slog.Error("policy reload after create failed", "error", err)
	}

	writeJSON(w, http.StatusCreated, rule)
}

// ReloadPolicies recompiles the persisted policy rules into the engine.
func (h *Handler) ReloadPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	if err := h.policies.Reload(ctx, h.repo); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"loaded": h.policies.RuleCount(),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic. The
// scoring path needs at least one loadable profile snapshot.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ready":     true,
		"corridors": len(h.profiles.Corridors()),
	})
}

func decisionRecord(result *domain.ScoreResult) *domain.DecisionRecord {
	return &domain.DecisionRecord{
		ResultID:  result.ID,
		TxID:      result.TxID,
		Corridor:  result.Corridor,
		Decision:  result.Decision,
		Score:     result.FinalScore,
		Features:  result.Features.AsMap(),
		Weights:   result.Weights.AsMap(),
		Degraded:  result.Degraded,
		LatencyMs: result.Metadata.TotalMs,
		Timestamp: result.Timestamp,
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
