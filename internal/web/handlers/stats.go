package handlers

import (
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/facegate/internal/database"
	"github.com/kozaktomas/facegate/internal/logging"
)

const statsCacheTTL = 30 * time.Second

// statsCache holds cached stats with expiry
type statsCache struct {
	mu        sync.RWMutex
	data      *StatsResponse
	expiresAt time.Time
}

func (c *statsCache) get() (*StatsResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data == nil || time.Now().After(c.expiresAt) {
		return nil, false
	}
	return c.data, true
}

func (c *statsCache) set(data *StatsResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = data
	c.expiresAt = time.Now().Add(statsCacheTTL)
}

func (c *statsCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = nil
}

// activeCounter reports how many flows are in progress.
type activeCounter interface {
	Active() int
}

// StatsHandler handles statistics endpoints
type StatsHandler struct {
	counter      database.Counter
	enrollments  activeCounter
	verification activeCounter
	logger       *zap.Logger
	cache        statsCache
}

// NewStatsHandler creates a new stats handler. Flow counters may be nil.
func NewStatsHandler(counter database.Counter, enrollments, verifications activeCounter, logger *zap.Logger) *StatsHandler {
	return &StatsHandler{
		counter:      counter,
		enrollments:  enrollments,
		verification: verifications,
		logger:       logging.OrNop(logger),
	}
}

// InvalidateCache clears the cached stats so the next request fetches fresh data
func (h *StatsHandler) InvalidateCache() {
	h.cache.invalidate()
}

// StatsResponse represents the statistics response
type StatsResponse struct {
	TotalAccounts       int `json:"total_accounts"`
	EnrolledAccounts    int `json:"enrolled_accounts"`
	ActiveEnrollments   int `json:"active_enrollments"`
	ActiveVerifications int `json:"active_verifications"`
}

// Get returns account and flow statistics. Account counts are cached briefly;
// flow counts are always live.
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	stats, ok := h.cache.get()
	if !ok {
		total, enrolled, err := h.counter.Count(r.Context())
		if err != nil {
			h.logger.Error("failed to count accounts", zap.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to count accounts")
			return
		}
		stats = &StatsResponse{TotalAccounts: total, EnrolledAccounts: enrolled}
		h.cache.set(stats)
	}

	resp := *stats
	if h.enrollments != nil {
		resp.ActiveEnrollments = h.enrollments.Active()
	}
	if h.verification != nil {
		resp.ActiveVerifications = h.verification.Active()
	}
	respondJSON(w, http.StatusOK, resp)
}
