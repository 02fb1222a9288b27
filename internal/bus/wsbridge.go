package bus

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rapidaai/hootenanny/pkg/commons"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const writeTimeout = 5 * time.Second

// WSBridge re-publishes the bus's event stream to external monitors over a
// websocket, matching IOPub's "subscribers receive the entire event stream
// and filter locally" contract.
type WSBridge struct {
	bus    *Bus
	logger commons.Logger
}

func NewWSBridge(bus *Bus, logger commons.Logger) *WSBridge {
	return &WSBridge{bus: bus, logger: logger}
}

// ServeHTTP upgrades the connection and streams events until the client
// disconnects or the bus shuts down.
func (b *WSBridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := b.bus.Subscribe()
	defer sub.Unsubscribe()

	// Drain client-initiated frames (pings, close) on a reader goroutine so
	// the connection's read deadline is serviced even though this bridge is
	// write-only from the bus's perspective.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				b.logger.Warnw("failed to marshal bus event", "error", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
