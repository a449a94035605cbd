package api

import "net/http"

func Router(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /twilio/webhook", h.TwilioWebhook)
	mux.HandleFunc("POST /twilio/test", h.TwilioTest)

	mux.HandleFunc("GET /v1/health", h.Health)

	mux.HandleFunc("GET /v1/purge/status", h.PurgeStatus)
	mux.HandleFunc("POST /v1/purge/start", h.PurgeStart)
	mux.HandleFunc("POST /v1/purge/stop", h.PurgeStop)

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("cohort-sms"))
	})

	return mux
}
