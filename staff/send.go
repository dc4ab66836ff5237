package staff

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Suhail-S/Hadoota-Masreya-CRM/bot"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/conversation"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/shield"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/whatsapp"
)

var (
	errEmptySend     = errors.New("either text or template is required")
	errAmbiguousSend = errors.New("send text or template, not both")
	errOutsideWindow = errors.New("customer service window is closed; send a template")
)

// sendRequest is the body of POST /conversations/{id}/messages.
type sendRequest struct {
	Text     string             `json:"text,omitempty"`
	Template *whatsapp.Template `json:"template,omitempty"`
}

func (req sendRequest) outbound() (whatsapp.Outbound, error) {
	switch {
	case req.Text != "" && req.Template != nil:
		return nil, errAmbiguousSend
	case req.Template != nil:
		return *req.Template, nil
	case req.Text != "":
		return whatsapp.Text{Body: req.Text}, nil
	}
	return nil, errEmptySend
}

// send delivers a staff message through the channel client and logs it with
// sender=staff. Free-form text is refused once the service window closed.
func (a *API) send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := a.now()
	id := chi.URLParam(r, "id")
	log := shield.GetLogger(ctx).With("conversation_id", id)

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}
	msg, err := req.outbound()
	if err == nil {
		err = msg.Validate()
	}
	if err != nil {
		a.metrics.Staff("send", "rejected")
		writeError(w, 400, err)
		return
	}

	conv, err := a.store.GetConversation(ctx, id)
	if err == nil && conv.Status == conversation.StatusClosed {
		err = conversation.ErrClosed
	}
	if err != nil {
		code, result := storeStatus(err)
		a.metrics.Staff("send", result)
		a.audit(ctx, "send", id, req, nil, err, start)
		writeError(w, code, err)
		return
	}
	if _, isText := msg.(whatsapp.Text); isText && !conv.InServiceWindow(a.now()) {
		a.metrics.Staff("send", "outside_window")
		a.audit(ctx, "send", id, req, nil, errOutsideWindow, start)
		writeJSON(w, 409, map[string]any{
			"error":                  errOutsideWindow.Error(),
			"service_window_expires": conv.ServiceWindowExpires,
		})
		return
	}

	out, err := a.sender.Send(ctx, conv.CustomerPhone, msg)
	if err != nil {
		kind := whatsapp.KindOf(err)
		a.metrics.Outbound(msg.Kind(), string(conversation.SenderStaff), string(kind))
		a.metrics.Staff("send", "provider_error")
		a.audit(ctx, "send", id, req, nil, err, start)
		log.Warn("staff: send failed", "kind", kind, "error", err)
		writeJSON(w, 502, map[string]any{"error": providerMessage(err), "kind": kind})
		return
	}
	a.metrics.Outbound(msg.Kind(), string(conversation.SenderStaff), "ok")

	rec := bot.OutboundRecord(conv.ID, msg, out.MessageID, conversation.SenderStaff, actor(ctx))
	rec.Timestamp = a.now().UTC()
	if _, err := a.store.SaveMessage(ctx, rec); err != nil {
		// The customer already has the message; report success.
		log.Error("staff: save sent message failed", "provider_message_id", out.MessageID, "error", err)
	}

	a.metrics.Staff("send", "ok")
	a.audit(ctx, "send", id, req, map[string]string{"provider_message_id": out.MessageID}, nil, start)
	log.Info("staff: message sent", "kind", msg.Kind(), "provider_message_id", out.MessageID)
	writeJSON(w, 201, rec)
}

// providerMessage is the provider's own error text when there is one.
func providerMessage(err error) string {
	var api *whatsapp.APIError
	if errors.As(err, &api) && api.Message != "" {
		return api.Message
	}
	return err.Error()
}
