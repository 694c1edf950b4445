package signal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"
)

const (
	// Maximum time to write one frame before the connection is considered dead.
	relayWriteWait = 10 * time.Second

	// The relay pings periodically; if nothing arrives within pongWait the
	// read loop gives up and the bus closes.
	relayPongWait = 90 * time.Second

	// Signaling frames are small; SDP offers top out well under this.
	relayMaxMessageSize = 64 * 1024
)

// relayFrame is the outbound wire format. The relay stamps From on the way
// through, so senders never set it.
type relayFrame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Relay is a Bus backed by a websocket connection to the platform's
// signaling relay. One Relay per authenticated user.
type Relay struct {
	conn *websocket.Conn
	log  logging.LeveledLogger

	writeMu sync.Mutex

	*registry

	closeOnce sync.Once
	done      chan struct{}
}

// DialRelay connects to the relay at url, authenticating with the bearer
// token, and starts the read loop. The caller owns the returned Relay and
// must Close it.
func DialRelay(url, token string, lf logging.LoggerFactory) (*Relay, error) {
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	r := &Relay{
		conn:     conn,
		log:      lf.NewLogger("signal"),
		registry: newRegistry(),
		done:     make(chan struct{}),
	}

	conn.SetReadLimit(relayMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(relayPongWait))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(relayPongWait))
		r.writeMu.Lock()
		defer r.writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(relayWriteWait))
		return conn.WriteMessage(websocket.PongMessage, []byte(appData))
	})

	go r.readLoop()
	return r, nil
}

// Emit sends one event frame to the relay.
func (r *Relay) Emit(event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	buf, err := json.Marshal(relayFrame{Event: event, Payload: raw})
	if err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := r.conn.SetWriteDeadline(time.Now().Add(relayWriteWait)); err != nil {
		return err
	}
	return r.conn.WriteMessage(websocket.TextMessage, buf)
}

// Subscribe registers a handler for inbound events.
func (r *Relay) Subscribe(event string, h Handler) (cancel func()) {
	return r.subscribe(event, h)
}

// Done is closed when the read loop exits (connection lost or Close called).
func (r *Relay) Done() <-chan struct{} { return r.done }

// Close tears down the connection. Idempotent.
func (r *Relay) Close() error {
	r.closeOnce.Do(func() {
		r.writeMu.Lock()
		_ = r.conn.SetWriteDeadline(time.Now().Add(relayWriteWait))
		_ = r.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		r.writeMu.Unlock()
		_ = r.conn.Close()
	})
	return nil
}

// readLoop decodes inbound envelopes and dispatches them to subscribers
// until the connection drops.
func (r *Relay) readLoop() {
	defer func() {
		_ = r.conn.Close()
		close(r.done)
	}()

	for {
		_, raw, err := r.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				r.log.Warnf("relay connection lost: %v", err)
			}
			return
		}
		_ = r.conn.SetReadDeadline(time.Now().Add(relayPongWait))

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			r.log.Warnf("invalid relay frame: %v", err)
			continue
		}
		if env.Event == "" {
			continue
		}
		r.dispatch(env)
	}
}
