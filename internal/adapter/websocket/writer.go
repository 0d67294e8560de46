package websocket

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/staffpulse/internal/adapter/metrics"
	"github.com/pscheid92/staffpulse/internal/domain"
)

const (
	writeDeadline     = 5 * time.Second
	messageBufferSize = 64
)

// clientWriter owns the write side of one WebSocket connection. Every write, including pings
// and the close frame, happens on its goroutine.
type clientWriter struct {
	connection   *websocket.Conn
	clock        clockwork.Clock
	metrics      *metrics.WebSocketMetrics
	pingInterval time.Duration
	sendChannel  chan []byte
	doneChannel  chan struct{}
	closeReason  string
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

var _ domain.Sender = (*clientWriter)(nil)

func newClientWriter(connection *websocket.Conn, clock clockwork.Clock, pingInterval time.Duration, m *metrics.WebSocketMetrics) *clientWriter {
	cw := &clientWriter{
		connection:   connection,
		clock:        clock,
		metrics:      m,
		pingInterval: pingInterval,
		sendChannel:  make(chan []byte, messageBufferSize),
		doneChannel:  make(chan struct{}),
	}
	cw.wg.Add(1)
	go cw.run()
	return cw
}

// Send queues frame without blocking. It returns false when the queue is full or the writer
// has stopped.
func (cw *clientWriter) Send(frame []byte) bool {
	select {
	case <-cw.doneChannel:
		return false
	default:
	}

	select {
	case cw.sendChannel <- frame:
		return true
	default:
		return false
	}
}

// Close stops the writer. A non-empty reason is sent to the client in a close frame.
// It does not wait for the writer goroutine.
func (cw *clientWriter) Close(reason string) {
	cw.stopOnce.Do(func() {
		cw.closeReason = reason
		close(cw.doneChannel)
	})
}

func (cw *clientWriter) Transport() domain.TransportKind {
	return domain.TransportWebSocket
}

// stop closes the writer and waits for its goroutine to exit.
func (cw *clientWriter) stop() {
	cw.Close("")
	cw.wg.Wait()
}

func (cw *clientWriter) run() {
	defer cw.wg.Done()
	defer func() { _ = cw.connection.Close() }()

	ticker := cw.clock.NewTicker(cw.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-cw.sendChannel:
			start := cw.clock.Now()
			cw.updateWriteDeadline()
			if err := cw.connection.WriteMessage(websocket.TextMessage, msg); err != nil {
				slog.Debug("WebSocket write failed, dropping connection", "remote_addr", cw.connection.RemoteAddr().String(), "error", err)
				if cw.metrics != nil {
					cw.metrics.WriteFailures.Inc()
				}
				return
			}
			if cw.metrics != nil {
				cw.metrics.MessageSendDuration.Observe(cw.clock.Since(start).Seconds())
			}

		case <-ticker.Chan():
			cw.updateWriteDeadline()
			if err := cw.connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Debug("WebSocket ping failed, dropping connection", "remote_addr", cw.connection.RemoteAddr().String(), "error", err)
				if cw.metrics != nil {
					cw.metrics.PingFailures.Inc()
				}
				return
			}

		case <-cw.doneChannel:
			if cw.closeReason != "" {
				closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, cw.closeReason)
				cw.updateWriteDeadline()
				_ = cw.connection.WriteMessage(websocket.CloseMessage, closeMsg)
			}
			return
		}
	}
}

func (cw *clientWriter) updateWriteDeadline() {
	_ = cw.connection.SetWriteDeadline(cw.clock.Now().Add(writeDeadline))
}
