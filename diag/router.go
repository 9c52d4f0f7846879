/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package diag

import (
	"fmt"
	"math"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/acronis/go-quotakit/log"
	"github.com/acronis/go-quotakit/quota"
	"github.com/acronis/go-quotakit/taskqueue"
	"github.com/acronis/go-quotakit/ttlstore"
)

const recoveryStackSize = 8192

// QueueInspector provides statistics of a task queue.
type QueueInspector interface {
	Name() string
	Stats() taskqueue.Stats
}

// RouterOpts represents options for creating the diagnostics router.
type RouterOpts struct {
	// Store is the cache whose statistics are served by /cache endpoints. The endpoints are not registered if it's nil.
	Store ttlstore.Store

	// Queues are served by /queues endpoints.
	Queues []QueueInspector

	// Signal is the quota exceeded signal served by /quota endpoints. The endpoints are not registered if it's nil.
	Signal *quota.Signal

	// MetricsHandler serves /metrics. Default is promhttp.Handler().
	MetricsHandler http.Handler

	// Clock is used for computing the remaining cooldown. Default is the real-time clock.
	Clock clock.Clock

	// Logger is used for logging failures of the diagnostics requests.
	Logger log.FieldLogger
}

// CacheStatsResponse is the body of GET /cache/stats.
type CacheStatsResponse struct {
	Count           int        `json:"count"`
	TotalSize       int64      `json:"totalSize"`
	HumanSize       string     `json:"humanSize"`
	OldestTimestamp *time.Time `json:"oldestTimestamp,omitempty"`
}

// CacheClearResponse is the body of DELETE /cache.
type CacheClearResponse struct {
	Removed int `json:"removed"`
}

// QuotaState is the body of GET /quota and PUT /quota.
type QuotaState struct {
	Active            bool       `json:"active"`
	RetryAfterSeconds *int       `json:"retryAfterSeconds,omitempty"`
	RemainingSeconds  int        `json:"remainingSeconds"`
	SetAt             *time.Time `json:"setAt,omitempty"`
}

type handler struct {
	opts   RouterOpts
	queues map[string]QueueInspector
	logger log.FieldLogger
}

// NewRouter creates a new chi.Router with the diagnostics endpoints:
//
//	GET    /cache/stats
//	DELETE /cache?prefix=...|pattern=...
//	GET    /queues
//	GET    /queues/{name}
//	GET    /quota
//	PUT    /quota   {"active":true,"retryAfterSeconds":30}
//	DELETE /quota
//	GET    /metrics
func NewRouter(opts RouterOpts) chi.Router {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	h := &handler{
		opts:   opts,
		queues: make(map[string]QueueInspector, len(opts.Queues)),
		logger: log.NewComponentLogger(opts.Logger, "diag"),
	}
	for _, q := range opts.Queues {
		h.queues[q.Name()] = q
	}

	router := chi.NewRouter()
	router.Use(h.recovery)

	metricsHandler := opts.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	router.Method(http.MethodGet, "/metrics", metricsHandler)

	if opts.Store != nil {
		router.Get("/cache/stats", h.getCacheStats)
		router.Delete("/cache", h.clearCache)
	}
	router.Get("/queues", h.listQueues)
	router.Get("/queues/{name}", h.getQueue)
	if opts.Signal != nil {
		router.Get("/quota", h.getQuota)
		router.Put("/quota", h.setQuota)
		router.Delete("/quota", h.clearQuota)
	}

	router.NotFound(func(rw http.ResponseWriter, r *http.Request) {
		respondError(rw, http.StatusNotFound, ErrCodeNotFound, "Not found.", h.logger)
	})
	router.MethodNotAllowed(func(rw http.ResponseWriter, r *http.Request) {
		respondError(rw, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "Method not allowed.", h.logger)
	})
	return router
}

func (h *handler) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				stack := make([]byte, recoveryStackSize)
				stack = stack[:runtime.Stack(stack, false)]
				h.logger.Error(fmt.Sprintf("Panic: %+v", p), log.String("stack", string(stack)))
				respondError(rw, http.StatusInternalServerError, ErrCodeInternal, "Internal error.", h.logger)
			}
		}()
		next.ServeHTTP(rw, r)
	})
}

func (h *handler) getCacheStats(rw http.ResponseWriter, r *http.Request) {
	stats, err := h.opts.Store.Stats(r.Context())
	if err != nil {
		respondInternalError(rw, err, h.logger)
		return
	}
	resp := CacheStatsResponse{Count: stats.Count, TotalSize: stats.TotalSize, HumanSize: stats.HumanSize()}
	if !stats.OldestTimestamp.IsZero() {
		resp.OldestTimestamp = &stats.OldestTimestamp
	}
	respondJSON(rw, http.StatusOK, resp, h.logger)
}

func (h *handler) clearCache(rw http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	pattern := r.URL.Query().Get("pattern")
	if prefix != "" && pattern != "" {
		respondError(rw, http.StatusBadRequest, ErrCodeBadRequest,
			`Only one of "prefix" and "pattern" query parameters may be specified.`, h.logger)
		return
	}

	var removed int
	var err error
	switch {
	case pattern != "":
		removed, err = h.opts.Store.ClearMatching(r.Context(), pattern)
	default:
		// An empty prefix matches every key.
		removed, err = h.opts.Store.ClearPrefix(r.Context(), prefix)
	}
	if err != nil {
		respondInternalError(rw, err, h.logger)
		return
	}
	h.logger.Info("cache cleared", log.String("prefix", prefix), log.String("pattern", pattern), log.Int("removed", removed))
	respondJSON(rw, http.StatusOK, CacheClearResponse{Removed: removed}, h.logger)
}

func (h *handler) listQueues(rw http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, len(h.queues))
	for name := range h.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	resp := make([]taskqueue.Stats, 0, len(names))
	for _, name := range names {
		resp = append(resp, h.queues[name].Stats())
	}
	respondJSON(rw, http.StatusOK, resp, h.logger)
}

func (h *handler) getQueue(rw http.ResponseWriter, r *http.Request) {
	q, ok := h.queues[chi.URLParam(r, "name")]
	if !ok {
		respondError(rw, http.StatusNotFound, ErrCodeNotFound, "Queue not found.", h.logger)
		return
	}
	respondJSON(rw, http.StatusOK, q.Stats(), h.logger)
}

func (h *handler) getQuota(rw http.ResponseWriter, _ *http.Request) {
	respondJSON(rw, http.StatusOK, makeQuotaState(h.opts.Signal.State(), h.opts.Clock.Now()), h.logger)
}

func (h *handler) setQuota(rw http.ResponseWriter, r *http.Request) {
	var req struct {
		Active            *bool `json:"active"`
		RetryAfterSeconds *int  `json:"retryAfterSeconds"`
	}
	if err := decodeRequestJSON(rw, r, &req); err != nil {
		respondError(rw, http.StatusBadRequest, ErrCodeBadRequest, err.Error(), h.logger)
		return
	}
	if req.Active == nil {
		respondError(rw, http.StatusBadRequest, ErrCodeBadRequest, `The "active" field is required.`, h.logger)
		return
	}
	var retryAfter time.Duration
	if req.RetryAfterSeconds != nil {
		if *req.RetryAfterSeconds < 0 || *req.RetryAfterSeconds > math.MaxInt32 {
			respondError(rw, http.StatusBadRequest, ErrCodeBadRequest,
				`The "retryAfterSeconds" field must be a non-negative number.`, h.logger)
			return
		}
		retryAfter = time.Duration(*req.RetryAfterSeconds) * time.Second
	}

	h.opts.Signal.Set(*req.Active, retryAfter)
	h.logger.Info("quota exceeded signal changed", log.Bool("active", *req.Active), log.Duration("retry_after", retryAfter))
	respondJSON(rw, http.StatusOK, makeQuotaState(h.opts.Signal.State(), h.opts.Clock.Now()), h.logger)
}

func (h *handler) clearQuota(rw http.ResponseWriter, _ *http.Request) {
	h.opts.Signal.Clear()
	h.logger.Info("quota exceeded signal cleared")
	rw.WriteHeader(http.StatusNoContent)
}

func makeQuotaState(st quota.State, now time.Time) QuotaState {
	resp := QuotaState{Active: st.Active}
	if st.Active && st.RetryAfter > 0 {
		secs := quota.RetryAfterSeconds(st.RetryAfter)
		resp.RetryAfterSeconds = &secs
		resp.RemainingSeconds = quota.RetryAfterSeconds(st.Remaining(now))
	}
	if !st.SetAt.IsZero() {
		setAt := st.SetAt
		resp.SetAt = &setAt
	}
	return resp
}
