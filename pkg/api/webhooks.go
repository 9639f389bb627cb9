package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/cachehub/mirror/pkg/apierr"
	"github.com/cachehub/mirror/pkg/types"
)

func (a *API) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	hooks, err := a.Metadata.ListWebhooks()
	if err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.Internal, "listing webhooks", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhooks": hooks})
}

func (a *API) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var wh types.Webhook
	if err := json.NewDecoder(r.Body).Decode(&wh); err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.BadRequest, "decoding webhook", err))
		return
	}
	if wh.URL == "" {
		apierr.WriteJSON(w, apierr.New(apierr.BadRequest, "url is required"))
		return
	}
	now := time.Now()
	wh.ID = uuid.NewString()
	wh.CreatedAt = now
	wh.UpdatedAt = now
	wh.Enabled = true
	if err := a.Metadata.CreateWebhook(&wh); err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.Internal, "creating webhook", err))
		return
	}
	writeJSON(w, http.StatusCreated, wh)
}

func (a *API) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.Metadata.DeleteWebhook(id); err != nil {
		apierr.WriteJSON(w, apierr.New(apierr.NotFound, "webhook not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTestWebhook fires a synthetic "test" event at the webhook's URL,
// signing the body with its secret the way real event deliveries will, and
// records the outcome as a WebhookDelivery.
func (a *API) handleTestWebhook(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	wh, err := a.Metadata.GetWebhook(id)
	if err != nil {
		apierr.WriteJSON(w, apierr.New(apierr.NotFound, "webhook not found"))
		return
	}

	delivery := a.deliver(r.Context(), wh, "test", map[string]any{"message": "test delivery"})
	writeJSON(w, http.StatusOK, delivery)
}

func (a *API) handleWebhookDeliveries(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	deliveries, err := a.Metadata.ListDeliveries(id, 50)
	if err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.Internal, "listing deliveries", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": deliveries})
}

// Notify fans event out to every enabled webhook subscribed to it (or to
// "*") and publishes the same payload on the in-process Bus under
// "event."+event, for the control API's long-poll callers. Used to wire
// the failover manager's OnSwap and the alert evaluator's OnAlert hooks at
// startup without either package importing pkg/api.
func (a *API) Notify(ctx context.Context, event string, payload any) {
	if a.Bus != nil {
		a.Bus.Publish("event."+event, Event{Topic: event, Payload: payload})
	}
	hooks, err := a.Metadata.ListWebhooks()
	if err != nil {
		return
	}
	for _, wh := range hooks {
		if !wh.Enabled || !subscribesTo(wh, event) {
			continue
		}
		go a.deliver(ctx, wh, event, payload)
	}
}

func subscribesTo(wh *types.Webhook, event string) bool {
	for _, e := range wh.Events {
		if e == event || e == "*" {
			return true
		}
	}
	return false
}

// deliver POSTs payload as JSON to wh.URL, signing the body with
// X-Mirror-Signature (HMAC-SHA256 over the raw body, hex-encoded) when the
// webhook carries a secret, then records a WebhookDelivery.
func (a *API) deliver(ctx context.Context, wh *types.Webhook, event string, payload any) types.WebhookDelivery {
	body, _ := json.Marshal(map[string]any{"event": event, "payload": payload})

	d := types.WebhookDelivery{
		ID:        uuid.NewString(),
		WebhookID: wh.ID,
		Event:     event,
		CreatedAt: time.Now(),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		d.Status = types.DeliveryFailed
		d.ErrorMessage = err.Error()
		_ = a.Metadata.RecordDelivery(&d)
		return d
	}
	req.Header.Set("Content-Type", "application/json")
	if wh.Secret != "" {
		mac := hmac.New(sha256.New, []byte(wh.Secret))
		mac.Write(body)
		req.Header.Set("X-Mirror-Signature", hex.EncodeToString(mac.Sum(nil)))
	}

	started := time.Now()
	resp, err := http.DefaultClient.Do(req)
	d.DurationMS = time.Since(started).Milliseconds()
	if err != nil {
		d.Status = types.DeliveryFailed
		d.ErrorMessage = err.Error()
		_ = a.Metadata.RecordDelivery(&d)
		return d
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	d.StatusCode = resp.StatusCode
	d.ResponseBody = string(respBody)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		d.Status = types.DeliverySuccess
	} else {
		d.Status = types.DeliveryFailed
	}
	_ = a.Metadata.RecordDelivery(&d)
	return d
}
