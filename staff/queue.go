package staff

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Suhail-S/Hadoota-Masreya-CRM/shield"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/vtq"
)

func (a *API) queueDepth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pending, err := a.queue.Len(ctx)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	dead, err := a.queue.DeadLen(ctx)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, map[string]int{"pending": pending, "dead": dead})
}

// deadLetter is the JSON view of a vtq.DeadLetter. The payload is the raw
// provider body and is returned as-is.
type deadLetter struct {
	ID        string `json:"id"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error"`
	Payload   string `json:"payload"`
	CreatedAt int64  `json:"created_at"`
	FailedAt  int64  `json:"failed_at"`
}

func (a *API) deadLetters(w http.ResponseWriter, r *http.Request) {
	list, err := a.queue.DeadLetters(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, 500, err)
		return
	}
	out := make([]deadLetter, 0, len(list))
	for _, d := range list {
		out = append(out, deadLetter{
			ID:        d.ID,
			Attempts:  d.Attempts,
			LastError: d.LastError,
			Payload:   string(d.Payload),
			CreatedAt: d.CreatedAt.Unix(),
			FailedAt:  d.FailedAt.Unix(),
		})
	}
	writeJSON(w, 200, out)
}

func (a *API) requeue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := a.now()
	id := chi.URLParam(r, "id")

	err := a.queue.Requeue(ctx, id)
	a.audit(ctx, "requeue", id, nil, nil, err, start)
	switch {
	case errors.Is(err, vtq.ErrNotFound):
		a.metrics.Staff("requeue", "not_found")
		writeError(w, 404, err)
		return
	case err != nil:
		a.metrics.Staff("requeue", "error")
		shield.GetLogger(ctx).Error("staff: requeue failed", "job_id", id, "error", err)
		writeError(w, 500, err)
		return
	}
	a.metrics.Staff("requeue", "ok")
	shield.GetLogger(ctx).Info("staff: dead letter requeued", "job_id", id)
	writeJSON(w, 200, map[string]string{"status": "requeued", "id": id})
}
