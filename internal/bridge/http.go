package bridge

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

const maxMessageBytes = 4 << 10

// ServeHTTP handles one completion message posted as a JSON body. A rejected
// origin is answered with 403; every other outcome is an Ack with 200.
func ServeHTTP(w http.ResponseWriter, r *http.Request, h Handler, cfg Config) {
	origin := r.Header.Get("Origin")
	if !OriginAllowed(origin, cfg.AllowedOrigins) {
		slog.Warn("bridge origin rejected", "origin", origin)
		writeAck(w, http.StatusForbidden, Ack{Reason: "origin_rejected"})
		return
	}

	var msg Message
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes)).Decode(&msg); err != nil {
		writeAck(w, http.StatusOK, Ack{Reason: ReasonInvalidMessage})
		return
	}
	writeAck(w, http.StatusOK, Dispatch(r.Context(), h, msg))
}

func writeAck(w http.ResponseWriter, status int, ack Ack) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ack)
}
