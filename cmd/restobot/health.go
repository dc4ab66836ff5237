package main

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Suhail-S/Hadoota-Masreya-CRM/observability"
)

// healthHandler reports database reachability and the worker heartbeat.
// A worker that has not beaten yet is "starting" and does not fail the check.
func healthHandler(db *sql.DB, stale time.Duration, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]any{"status": "ok"}

		if err := db.PingContext(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["db"] = err.Error()
		} else {
			body["db"] = "ok"
		}

		hb, err := observability.LatestHeartbeat(r.Context(), db, workerName, stale, now())
		switch {
		case err != nil:
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["worker"] = err.Error()
		case hb == nil:
			body["worker"] = "starting"
		case !hb.Alive:
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["worker"] = "stale"
			body["last_heartbeat"] = hb.Timestamp
		default:
			body["worker"] = "ok"
			body["last_heartbeat"] = hb.Timestamp
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}
}
