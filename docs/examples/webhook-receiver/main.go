// Command webhook-receiver is a minimal endpoint for checkoutd organization
// webhooks. It verifies the delivery signature and logs each event.
//
//	export CHECKOUTD_WEBHOOK_SECRET="ckd_whsec_..."
//	go run .
//
// Register http://your-host:9000/webhook as the endpoint target_url.
package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"
)

const replayWindow = 5 * time.Minute

type event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	secret := os.Getenv("CHECKOUTD_WEBHOOK_SECRET")
	if secret == "" {
		logger.Error("CHECKOUTD_WEBHOOK_SECRET is required")
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", receive(secret, logger))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	logger.Info("listening", "addr", ":9000")
	if err := http.ListenAndServe(":9000", mux); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func receive(secret string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		ts, err := strconv.ParseInt(r.Header.Get("X-Checkoutd-Timestamp"), 10, 64)
		if err != nil {
			http.Error(w, "missing timestamp", http.StatusUnauthorized)
			return
		}
		if !verify(secret, r.Header.Get("X-Checkoutd-Signature"), ts, body, time.Now()) {
			logger.Warn("rejected delivery", "delivery_id", r.Header.Get("X-Checkoutd-Delivery-Id"))
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}

		var evt event
		if err := json.Unmarshal(body, &evt); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		// Deliveries are retried, so handlers should be idempotent on evt.ID.
		logger.Info("event received",
			"id", evt.ID,
			"type", evt.Type,
			"delivery_id", r.Header.Get("X-Checkoutd-Delivery-Id"),
			"bytes", len(evt.Data),
		)
		w.WriteHeader(http.StatusNoContent)
	}
}

// verify checks the hex HMAC-SHA256 of "{timestamp}.{body}".
func verify(secret, signature string, ts int64, body []byte, now time.Time) bool {
	if d := now.Sub(time.Unix(ts, 0)); d > replayWindow || d < -replayWindow {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10) + "."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
