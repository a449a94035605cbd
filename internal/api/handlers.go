package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/LeventeLantos/cohort-sms/internal/cache"
	"github.com/LeventeLantos/cohort-sms/internal/scheduler"
)

// Interpreter is implemented by command.Interpreter.
type Interpreter interface {
	Interpret(ctx context.Context, body, sender, mediaURL string) (reply string, ok bool)
}

// Replier sends a reply back to the sender. Implemented by service.Broadcaster.
type Replier interface {
	Reply(ctx context.Context, to, from, body string) error
}

type Handler struct {
	interp  Interpreter
	replier Replier
	dedupe  cache.DeliveryDeduper
	purge   *scheduler.Scheduler
	log     *slog.Logger
}

// NewHandler wires the HTTP surface. dedupe and purge may be nil.
func NewHandler(interp Interpreter, replier Replier, dedupe cache.DeliveryDeduper, purge *scheduler.Scheduler, log *slog.Logger) *Handler {
	if dedupe == nil {
		dedupe = cache.NoopDeduper{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{interp: interp, replier: replier, dedupe: dedupe, purge: purge, log: log}
}

const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// inbound is one provider message, as posted by Twilio.
type inbound struct {
	Body      string
	From      string
	To        string
	MessageID string
	MediaURL  string
}

func parseInbound(r *http.Request) inbound {
	in := inbound{
		Body:      r.PostFormValue("Body"),
		From:      r.PostFormValue("From"),
		To:        r.PostFormValue("To"),
		MessageID: r.PostFormValue("MessageSid"),
	}
	if n, _ := strconv.Atoi(r.PostFormValue("NumMedia")); n > 0 {
		in.MediaURL = r.PostFormValue("MediaUrl0")
	}
	return in
}

// TwilioWebhook interprets an inbound message and sends any reply through the
// gateway. It always acknowledges with 200 so the provider does not redeliver.
//
// Processing is detached from the request context: a broadcast keeps going
// after the provider gives up on the webhook.
func (h *Handler) TwilioWebhook(w http.ResponseWriter, r *http.Request) {
	defer writeTwiML(w)

	if err := r.ParseForm(); err != nil {
		h.log.Warn("failed to parse webhook form", "error", err)
		return
	}
	in := parseInbound(r)
	log := h.log.With("message_sid", in.MessageID, "from", in.From)
	ctx := context.WithoutCancel(r.Context())

	// The sid is claimed before processing, so delivery is at-most-once: a
	// redelivery after a failed reply or a crash is dropped, never re-run.
	first, err := h.dedupe.FirstDelivery(ctx, in.MessageID)
	if err != nil {
		log.Warn("delivery dedupe unavailable, processing anyway", "error", err)
	} else if !first {
		log.Info("ignoring redelivered message")
		return
	}

	reply, ok := h.interp.Interpret(ctx, in.Body, in.From, in.MediaURL)
	if !ok || in.From == "" {
		return
	}
	if err := h.replier.Reply(ctx, in.From, in.To, reply); err != nil {
		log.Error("failed to send reply", "error", err)
	}
}

type testRequest struct {
	Message     string `json:"message"`
	PhoneNumber string `json:"phone_number"`
	MediaURL    string `json:"media_url"`
}

// TwilioTest runs the interpreter and returns the reply in the response body
// instead of sending it.
func (h *Handler) TwilioTest(w http.ResponseWriter, r *http.Request) {
	var req testRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json: " + err.Error()})
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		req = testRequest{
			Message:     r.PostFormValue("message"),
			PhoneNumber: r.PostFormValue("phone_number"),
			MediaURL:    r.PostFormValue("media_url"),
		}
	}

	reply, ok := h.interp.Interpret(r.Context(), req.Message, req.PhoneNumber, req.MediaURL)
	writeJSON(w, http.StatusOK, map[string]any{"response": reply, "replied": ok})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) PurgeStatus(w http.ResponseWriter, r *http.Request) {
	if h.purge == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false, "running": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled": true,
		"running": h.purge.IsRunning(),
		"lastRun": h.purge.LastRun(),
	})
}

func (h *Handler) PurgeStart(w http.ResponseWriter, r *http.Request) {
	if h.purge == nil {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "purge is not enabled"})
		return
	}
	h.purge.Start()
	writeJSON(w, http.StatusOK, map[string]any{"enabled": true, "running": h.purge.IsRunning()})
}

func (h *Handler) PurgeStop(w http.ResponseWriter, r *http.Request) {
	if h.purge == nil {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "purge is not enabled"})
		return
	}
	h.purge.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"enabled": true, "running": h.purge.IsRunning()})
}

func writeTwiML(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(emptyTwiML))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
