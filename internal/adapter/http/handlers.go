// Package http implements the REST + WebSocket surface over the Queue
// Engine: queue/entry CRUD, system configuration, stats, and health.
package http

import (
	"errors"
	"net/http"

	"github.com/imq-dev/imq/internal/domain"
	"github.com/imq-dev/imq/internal/domain/queue"
	"github.com/imq-dev/imq/internal/domain/sysconfig"
	"github.com/imq-dev/imq/internal/metrics"
	"github.com/imq-dev/imq/internal/port/database"
	"github.com/imq-dev/imq/internal/service"
)

// Handlers holds every dependency the HTTP surface reads from or writes to.
type Handlers struct {
	Queue   *service.QueueEngine
	Store   database.Store
	Metrics *metrics.Sink
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) APIHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"github":   h.forgeHealth(r),
		"database": h.databaseHealth(r),
	})
}

func (h *Handlers) ForgeHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": h.forgeHealth(r)})
}

func (h *Handlers) DatabaseHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": h.databaseHealth(r)})
}

func (h *Handlers) forgeHealth(_ *http.Request) string {
	// Always reports "ok": neither the Forge Client's circuit breaker nor
	// the queue drivers' pause state is consulted here.
	return "ok"
}

func (h *Handlers) databaseHealth(r *http.Request) string {
	if _, err := h.Store.GetConfiguration(r.Context()); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return "unavailable"
	}
	return "ok"
}

// ---------------------------------------------------------------------------
// Queues
// ---------------------------------------------------------------------------

func (h *Handlers) ListQueues(w http.ResponseWriter, r *http.Request) {
	queues, err := h.Queue.ListQueues(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, queues)
}

func (h *Handlers) GetQueue(w http.ResponseWriter, r *http.Request) {
	q, err := h.Queue.GetQueue(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "queue not found")
		return
	}
	writeJSON(w, http.StatusOK, q)
}

type createQueueRequest struct {
	RepositoryFullName string `json:"repository_full_name"`
	BaseBranch         string `json:"base_branch"`
}

// CreateQueue pre-provisions a queue for a branch ahead of any webhook
// traffic; ordinary operation creates queues lazily on first admitted entry,
// this route exists for operators who want the driver armed in advance.
func (h *Handlers) CreateQueue(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[createQueueRequest](w, r, 0)
	if !ok {
		return
	}
	if !requireField(w, body.RepositoryFullName, "repository_full_name") || !requireField(w, body.BaseBranch, "base_branch") {
		return
	}
	repo, err := h.Store.GetRepositoryByFullName(r.Context(), body.RepositoryFullName)
	if err != nil {
		writeDomainError(w, err, "repository not found")
		return
	}
	q, err := h.Store.EnsureQueue(r.Context(), queue.Queue{RepositoryID: repo.ID, BaseBranch: body.BaseBranch})
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

func (h *Handlers) DeleteQueue(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteQueue(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "queue not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Queue entries
// ---------------------------------------------------------------------------

func (h *Handlers) ListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Queue.GetEntries(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "queue not found")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetEntry fetches a single entry by ID, used by the WS-reconnect resync
// flow to re-derive a trusted snapshot after a lossy subscription.
func (h *Handlers) GetEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := h.Store.GetEntry(r.Context(), urlParam(r, "entry_id"))
	if err != nil {
		writeDomainError(w, err, "entry not found")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type addEntryRequest struct {
	PRNumber int `json:"pr_number"`
}

func (h *Handlers) AddEntry(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[addEntryRequest](w, r, 0)
	if !ok {
		return
	}
	if body.PRNumber <= 0 {
		writeError(w, http.StatusBadRequest, "pr_number is required")
		return
	}
	entry, err := h.Queue.AddEntry(r.Context(), urlParam(r, "id"), body.PRNumber)
	if err != nil {
		writeDomainError(w, err, "queue or pull request not found")
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *Handlers) RemoveEntry(w http.ResponseWriter, r *http.Request) {
	if err := h.Queue.RemoveEntry(r.Context(), urlParam(r, "entry_id")); err != nil {
		writeDomainError(w, err, "entry not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type reorderRequest struct {
	EntryIDs []string `json:"entry_ids"`
}

func (h *Handlers) Reorder(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[reorderRequest](w, r, 0)
	if !ok {
		return
	}
	entries, err := h.Queue.Reorder(r.Context(), urlParam(r, "id"), body.EntryIDs)
	if err != nil {
		writeDomainError(w, err, "queue not found")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// ---------------------------------------------------------------------------
// System configuration
// ---------------------------------------------------------------------------

func (h *Handlers) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.Store.GetConfiguration(r.Context())
	if err != nil {
		writeDomainError(w, err, "configuration not found")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *Handlers) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[sysconfig.SystemConfiguration](w, r, 0)
	if !ok {
		return
	}
	if !requireField(w, body.TriggerLabel, "trigger_label") {
		return
	}
	body.ID = 1
	updated, err := h.Store.PutConfiguration(r.Context(), body)
	if err != nil {
		writeDomainError(w, err, "configuration not found")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handlers) ResetConfig(w http.ResponseWriter, r *http.Request) {
	reset, err := h.Store.PutConfiguration(r.Context(), sysconfig.Default("merge-queue"))
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reset)
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

func (h *Handlers) Stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Metrics.Summary())
}

func (h *Handlers) QueueStats(w http.ResponseWriter, r *http.Request) {
	status, ok := h.Queue.GetDriverStatus(urlParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "queue driver not found")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handlers) CheckStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Metrics.CheckOutcomes())
}

func (h *Handlers) GithubStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": h.forgeHealth(r)})
}
