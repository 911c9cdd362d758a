package relay

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ruteri/lockbox-recovery-protocol/interfaces"
)

// SenderHeader carries the sending peer's id on enqueue requests and the
// originating peer's id on dequeue responses. The relay needs it only for
// routing replies; authenticity lives in the payload's encryption layer.
const SenderHeader = "X-Lockbox-Sender"

// maxMessageSize bounds an enqueued payload. Protocol messages are small;
// anything past this is not one of ours.
const maxMessageSize = 1 << 20

// Handler processes the relay's HTTP API: peers POST encoded protocol
// messages to a recipient's mailbox and GET their own mailbox to drain
// it. The relay treats every payload as opaque bytes.
type Handler struct {
	mailboxes *Mailboxes
	log       *slog.Logger
}

// NewHandler creates a relay request handler over the given mailboxes.
func NewHandler(mailboxes *Mailboxes, log *slog.Logger) *Handler {
	return &Handler{mailboxes: mailboxes, log: log}
}

// RegisterRoutes attaches the relay API to the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/relay/{peer_id}", h.HandleEnqueue)
	r.Get("/api/relay/{peer_id}", h.HandleDequeue)
}

// HandleEnqueue queues a message for the recipient in the URL.
//
// URL format: POST /api/relay/{peer_id}
// Required header: X-Lockbox-Sender with the sending peer's id.
// Request body: the encoded protocol message, application/octet-stream.
func (h *Handler) HandleEnqueue(w http.ResponseWriter, r *http.Request) {
	to, err := interfaces.ParsePeerID(chi.URLParam(r, "peer_id"))
	if err != nil {
		http.Error(w, fmt.Errorf("invalid recipient: %w", err).Error(), http.StatusBadRequest)
		return
	}

	from, err := interfaces.ParsePeerID(r.Header.Get(SenderHeader))
	if err != nil {
		http.Error(w, fmt.Errorf("invalid sender header: %w", err).Error(), http.StatusBadRequest)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxMessageSize+1))
	if err != nil {
		http.Error(w, fmt.Errorf("could not read message: %w", err).Error(), http.StatusBadRequest)
		return
	}
	if len(payload) == 0 {
		http.Error(w, "empty message", http.StatusBadRequest)
		return
	}
	if len(payload) > maxMessageSize {
		http.Error(w, "message too large", http.StatusRequestEntityTooLarge)
		return
	}

	if err := h.mailboxes.Enqueue(to, from, payload); err != nil {
		if errors.Is(err, ErrMailboxFull) {
			http.Error(w, err.Error(), http.StatusTooManyRequests)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.log.Debug("Relayed message",
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.Int("size", len(payload)))

	w.WriteHeader(http.StatusAccepted)
}

// HandleDequeue returns the oldest message queued for the peer in the
// URL, or 204 when the mailbox is empty.
//
// URL format: GET /api/relay/{peer_id}
// Response: the encoded protocol message as application/octet-stream,
// with X-Lockbox-Sender naming the peer that sent it.
func (h *Handler) HandleDequeue(w http.ResponseWriter, r *http.Request) {
	peer, err := interfaces.ParsePeerID(chi.URLParam(r, "peer_id"))
	if err != nil {
		http.Error(w, fmt.Errorf("invalid peer id: %w", err).Error(), http.StatusBadRequest)
		return
	}

	from, payload, ok := h.mailboxes.Dequeue(peer)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set(SenderHeader, from.String())
	if _, err := w.Write(payload); err != nil {
		h.log.Error("Failed to write dequeued message", "err", err)
	}
}
