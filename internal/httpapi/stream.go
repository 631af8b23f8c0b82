package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/R3E-Network/vault_ledger/internal/events"
)

const (
	streamBuffer = 256
	writeWait    = 10 * time.Second
)

// stream upgrades to a websocket and pushes committed events, optionally
// filtered by ?account= and ?type=. Handlers run inside ledger operations,
// so delivery never blocks: a client that falls streamBuffer events behind
// is disconnected.
func (h *handler) stream(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	eventType := events.EventType(r.URL.Query().Get("type"))

	ch := make(chan events.Event, streamBuffer)
	overflow := make(chan struct{})
	var once sync.Once

	unsubscribe := h.svc.Events().SubscribeFiltered(func(e events.Event) bool {
		if account != "" && e.Account != account {
			return false
		}
		return eventType == "" || e.Type == eventType
	}, func(e events.Event) {
		select {
		case ch <- e:
		default:
			once.Do(func() { close(overflow) })
		}
	})
	defer unsubscribe()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// reader: consumes control frames and notices the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.ping)
	defer ticker.Stop()

	for {
		select {
		case e := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-overflow:
			msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "event stream overflow")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			h.log.WithField("account", account).Warn("event stream client too slow; disconnected")
			return
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
