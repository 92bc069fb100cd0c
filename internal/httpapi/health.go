package httpapi

import (
	"net/http"
	"time"

	"optionsengine/internal/core"
)

func newHealthHandler(hm core.IHealthMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{
			"status": "healthy",
			"time":   time.Now().UTC(),
		}

		status := http.StatusOK
		if hm != nil {
			body["components"] = hm.GetStatus()
			if !hm.IsHealthy() {
				body["status"] = "unhealthy"
				status = http.StatusServiceUnavailable
			}
		}

		writeJSON(w, status, body)
	}
}
