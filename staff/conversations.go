package staff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Suhail-S/Hadoota-Masreya-CRM/bot"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/conversation"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/events"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/observability"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/shield"
)

func (a *API) list(w http.ResponseWriter, r *http.Request) {
	status := conversation.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, 400, fmt.Errorf("unknown status %q", status))
		return
	}
	f := conversation.ConversationFilter{
		Status:     status,
		AssignedTo: r.URL.Query().Get("assignee"),
		Limit:      queryInt(r, "limit", 50),
		Offset:     queryInt(r, "offset", 0),
	}
	list, err := a.store.ListConversations(r.Context(), f)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	if list == nil {
		list = []*conversation.Conversation{}
	}
	writeJSON(w, 200, map[string]any{
		"conversations": list,
		"limit":         f.Limit,
		"offset":        f.Offset,
	})
}

func (a *API) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conv, err := a.store.GetConversation(ctx, chi.URLParam(r, "id"))
	if err != nil {
		code, _ := storeStatus(err)
		writeError(w, code, err)
		return
	}
	cust, err := a.store.GetCustomer(ctx, conv.CustomerID)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	msgs, err := a.store.ListMessages(ctx, conv.ID, queryInt(r, "messages", DefaultMessageLimit))
	if err != nil {
		writeError(w, 500, err)
		return
	}
	if msgs == nil {
		msgs = []*conversation.Message{}
	}
	writeJSON(w, 200, map[string]any{
		"conversation":      conv,
		"customer":          cust,
		"messages":          msgs,
		"in_service_window": conv.InServiceWindow(a.now()),
	})
}

// history lists the audit entries recorded against one conversation.
func (a *API) history(w http.ResponseWriter, r *http.Request) {
	if a.auditor == nil {
		writeJSON(w, 200, []*observability.AuditEntry{})
		return
	}
	entries, err := a.auditor.Query(r.Context(), observability.AuditFilter{
		TargetID: chi.URLParam(r, "id"),
		Limit:    queryInt(r, "limit", 100),
	})
	if err != nil {
		writeError(w, 500, err)
		return
	}
	if entries == nil {
		entries = []*observability.AuditEntry{}
	}
	writeJSON(w, 200, entries)
}

func (a *API) takeOver(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := a.now()
	id := chi.URLParam(r, "id")

	var req struct {
		Assignee string `json:"assignee"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, 400, err)
		return
	}
	if req.Assignee == "" {
		req.Assignee = actor(ctx)
	}

	err := a.store.TakeOver(ctx, id, req.Assignee)
	a.finish(w, r, "takeover", id, req, err, start, events.TypeTakenOver)
}

func (a *API) release(w http.ResponseWriter, r *http.Request) {
	start := a.now()
	id := chi.URLParam(r, "id")

	err := a.releaseToBot(r.Context(), id)
	a.finish(w, r, "release", id, nil, err, start, events.TypeReleased)
}

// releaseToBot hands the conversation back and resets the customer to the
// idle state under the customer lock, so the worker cannot interleave a
// transition with the reset.
func (a *API) releaseToBot(ctx context.Context, id string) error {
	conv, err := a.store.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	blob, err := bot.Encode(bot.Idle())
	if err != nil {
		return err
	}
	unlock := a.store.LockCustomer(conv.CustomerPhone)
	defer unlock()
	return a.store.Release(ctx, id, string(bot.StateIdle), blob)
}

func (a *API) close(w http.ResponseWriter, r *http.Request) {
	start := a.now()
	id := chi.URLParam(r, "id")

	err := a.store.Close(r.Context(), id)
	a.finish(w, r, "close", id, nil, err, start, events.TypeClosed)
}

// finish completes a status change: audit, metrics, event and the response
// carrying the updated conversation.
func (a *API) finish(w http.ResponseWriter, r *http.Request, action, id string, params any, err error, start time.Time, eventType string) {
	ctx := r.Context()
	if err != nil {
		code, result := storeStatus(err)
		a.audit(ctx, action, id, params, nil, err, start)
		a.metrics.Staff(action, result)
		if code == 500 {
			shield.GetLogger(ctx).Error("staff: "+action+" failed", "conversation_id", id, "error", err)
		}
		writeError(w, code, err)
		return
	}

	conv, err := a.store.GetConversation(ctx, id)
	if err != nil {
		code, _ := storeStatus(err)
		writeError(w, code, err)
		return
	}
	a.audit(ctx, action, id, params, map[string]string{"status": string(conv.Status), "assigned_to": conv.AssignedTo}, nil, start)
	a.metrics.Staff(action, "ok")
	a.publish(ctx, eventType, conv)
	shield.GetLogger(ctx).Info("staff: "+action, "conversation_id", id, "status", conv.Status)
	writeJSON(w, 200, conv)
}

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	st, err := a.store.Stats(r.Context())
	if err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, st)
}
