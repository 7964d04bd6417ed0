package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/SyzbaLinux/hustleprenureacademy/internal/models"
)

// processTimeout bounds the background handling of a single webhook event.
const processTimeout = 60 * time.Second

// graphWebhookEnvelope mirrors the Meta Graph API webhook payload, trimmed to
// the fields the bot consumes.
type graphWebhookEnvelope struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				MessagingProduct string                `json:"messaging_product"`
				Messages         []graphInboundMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type graphInboundMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"list_reply"`
	} `json:"interactive"`
}

// pesepayWebhookPayload is the result notification posted by the payment
// gateway when a transaction reaches a final state.
type pesepayWebhookPayload struct {
	ReferenceNumber   string `json:"referenceNumber"`
	TransactionStatus string `json:"transactionStatus"`
}

// whatsappWebhookHandler serves both halves of the Graph API webhook
// contract: the GET verification handshake and POST message delivery.
func (s *Server) whatsappWebhookHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.verifyWebhook(w, r)
	case http.MethodPost:
		s.receiveWebhook(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) verifyWebhook(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode != "subscribe" || token != s.verifyToken {
		slog.Debug("Server.verifyWebhook: verification rejected", "mode", mode)
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}
	slog.Info("Server.verifyWebhook: webhook verified")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(challenge))
}

// receiveWebhook acknowledges delivery immediately and processes the
// contained messages in the background; the channel retries the whole
// batch on anything but a fast 200, so even an unreadable payload is
// acknowledged rather than redelivered forever.
func (s *Server) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		slog.Error("Server.receiveWebhook: failed to read body", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	var envelope graphWebhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		slog.Error("Server.receiveWebhook: failed to decode envelope", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	for _, entry := range envelope.Entry {
		for _, change := range entry.Changes {
			for _, raw := range change.Value.Messages {
				msg := normalizeInbound(raw)
				go s.processInbound(msg)
			}
		}
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) processInbound(msg models.InboundMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Server.processInbound: panic recovered", "panic", rec, "from", msg.From)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()

	if err := s.router.HandleMessage(ctx, msg); err != nil {
		slog.Error("Server.processInbound: message handling failed", "error", err, "from", msg.From, "type", msg.Type)
	}
}

// normalizeInbound maps a raw Graph API message onto the envelope the
// router understands. Unsupported media types still flow through so the
// router can answer with guidance.
func normalizeInbound(raw graphInboundMessage) models.InboundMessage {
	ts, _ := strconv.ParseInt(raw.Timestamp, 10, 64)
	msg := models.InboundMessage{
		From:      raw.From,
		ID:        raw.ID,
		Timestamp: ts,
		Type:      models.MessageTypeOther,
	}

	switch raw.Type {
	case "text":
		msg.Type = models.MessageTypeText
		if raw.Text != nil {
			msg.Text = raw.Text.Body
		}
	case "interactive":
		if raw.Interactive == nil {
			break
		}
		msg.Type = models.MessageTypeInteractive
		reply := &models.InteractiveReply{Kind: raw.Interactive.Type}
		switch {
		case raw.Interactive.ButtonReply != nil:
			reply.ID = raw.Interactive.ButtonReply.ID
			reply.Title = raw.Interactive.ButtonReply.Title
		case raw.Interactive.ListReply != nil:
			reply.ID = raw.Interactive.ListReply.ID
			reply.Title = raw.Interactive.ListReply.Title
		}
		msg.Interactive = reply
	}
	return msg
}

// pesepayWebhookHandler ingests gateway result notifications. Settlement
// still runs through the normal reconciliation path so the status fences
// apply regardless of whether the poller or the webhook wins the race.
func (s *Server) pesepayWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload pesepayWebhookPayload
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&payload); err != nil {
		slog.Error("Server.pesepayWebhookHandler: failed to decode payload", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if payload.ReferenceNumber == "" {
		http.Error(w, "missing reference number", http.StatusBadRequest)
		return
	}

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("Server.pesepayWebhookHandler: panic recovered", "panic", rec, "reference", payload.ReferenceNumber)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		defer cancel()
		if err := s.commerce.ReconcileByReference(ctx, payload.ReferenceNumber, payload.TransactionStatus); err != nil {
			slog.Error("Server.pesepayWebhookHandler: reconciliation failed", "error", err, "reference", payload.ReferenceNumber)
		}
	}()

	w.WriteHeader(http.StatusOK)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
