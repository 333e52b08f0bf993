package gateway

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
)

var (
	ErrConnClosed = errors.New("connection closed")
	ErrSlowClient = errors.New("send buffer full")
)

// Conn is the transport under a session. Read is called from one goroutine
// only; Send and Close may be called from any goroutine and never block.
type Conn interface {
	Read() ([]byte, error)
	Send(payload []byte) error
	Close() error
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the credential, not the origin, gates the connection
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Upgrade switches r to a websocket and starts its write loop.
func Upgrade(w http.ResponseWriter, r *http.Request, sendBuffer int) (*WSConn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewWSConn(ws, sendBuffer), nil
}

// WSConn queues outbound frames on a buffered channel drained by a single
// write loop, which also sends pings. The channel is never closed; done
// signals shutdown so a late Send cannot panic.
type WSConn struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func NewWSConn(ws *websocket.Conn, sendBuffer int) *WSConn {
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	c := &WSConn{
		ws:   ws,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// Read returns the next text frame. Binary frames are skipped.
func (c *WSConn) Read() ([]byte, error) {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return nil, ErrConnClosed
			default:
				return nil, err
			}
		}
		select {
		case <-c.done:
			return nil, ErrConnClosed
		default:
		}
		if mt == websocket.TextMessage {
			return data, nil
		}
	}
}

// Send enqueues payload. A client whose buffer is full is disconnected.
func (c *WSConn) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		c.closeWith(websocket.ClosePolicyViolation, "too slow")
		return ErrSlowClient
	}
}

func (c *WSConn) Close() error {
	c.closeWith(websocket.CloseNormalClosure, "")
	return nil
}

// closeWith marks the connection closed and returns at once. The close frame
// waits on gorilla's write lock, which a write loop stuck on a stalled socket
// holds for up to writeWait, so it is written from its own goroutine.
func (c *WSConn) closeWith(code int, reason string) {
	c.once.Do(func() {
		close(c.done)
		go func() {
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
			_ = c.ws.Close()
		}()
	})
}

func (c *WSConn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.closeWith(websocket.CloseGoingAway, "")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.closeWith(websocket.CloseGoingAway, "")
				return
			}
		}
	}
}

func (c *WSConn) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}
