package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"portal-duel-service/internal/domain"
	"portal-duel-service/internal/realtime"
	"portal-duel-service/pkg/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type inboundFrame struct {
	Action  string          `json:"action"` // subscribe, publish, presence_join, leave
	Channel string          `json:"channel"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Member  domain.Member   `json:"member,omitempty"`
}

type outboundFrame struct {
	Channel string          `json:"channel,omitempty"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ServeWS bridges one remote client into the broker. The client authenticates
// at upgrade time with its user id and bearer credential; private channel
// subscriptions are limited to the client's own channel.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	token := r.URL.Query().Get("token")
	if userID == "" || !s.tokens.Validate(userID, token) {
		http.Error(w, "unauthorized", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	metrics.WSConnections.Inc()
	defer metrics.WSConnections.Dec()

	bridge := newWSBridge(s, conn, userID)
	defer bridge.teardown()
	bridge.readLoop(r.Context())
}

// wsBridge owns the per-connection subscription set and the single writer
// goroutine that serializes outbound frames.
type wsBridge struct {
	server *Server
	conn   *websocket.Conn
	userID string

	send       chan outboundFrame
	done       chan struct{}
	writerDone chan struct{}

	mu       sync.Mutex
	streams  map[string]realtime.Stream
	presence map[string]string // presence channel -> member id
}

func newWSBridge(server *Server, conn *websocket.Conn, userID string) *wsBridge {
	b := &wsBridge{
		server:     server,
		conn:       conn,
		userID:     userID,
		send:       make(chan outboundFrame, 16),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
		streams:    make(map[string]realtime.Stream),
		presence:   make(map[string]string),
	}
	go b.writeLoop()
	return b
}

func (b *wsBridge) writeLoop() {
	defer close(b.writerDone)
	for {
		select {
		case frame := <-b.send:
			if err := b.conn.WriteJSON(frame); err != nil {
				b.server.log.Warn("ws write error", zap.Error(err))
				return
			}
		case <-b.done:
			return
		}
	}
}

func (b *wsBridge) readLoop(ctx context.Context) {
	for {
		var frame inboundFrame
		if err := b.conn.ReadJSON(&frame); err != nil {
			return
		}
		switch frame.Action {
		case "subscribe":
			b.subscribe(ctx, frame.Channel)
		case "publish":
			b.publish(ctx, frame)
		case "presence_join":
			b.joinPresence(ctx, frame)
		case "leave":
			b.leave(frame.Channel)
		default:
			b.sendError("unsupported action")
		}
	}
}

func (b *wsBridge) subscribe(ctx context.Context, channel string) {
	if channel == "" {
		b.sendError("missing channel")
		return
	}
	if realtime.IsPrivateChannel(channel) && channel != realtime.PrivateChannel(b.userID) {
		metrics.AuthRejections.Inc()
		b.sendError("channel subscription unauthorized")
		return
	}

	b.mu.Lock()
	if _, ok := b.streams[channel]; ok {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	stream, err := b.server.broker.Subscribe(ctx, channel)
	if err != nil {
		b.sendError("subscribe failed")
		return
	}
	b.track(channel, stream, "")
	go b.forward(channel, stream)
	b.confirm("subscribed", channel)
}

func (b *wsBridge) publish(ctx context.Context, frame inboundFrame) {
	if frame.Channel == "" || frame.Event == "" {
		b.sendError("missing channel or event")
		return
	}
	if err := b.server.broker.Publish(ctx, frame.Channel, frame.Event, frame.Payload); err != nil {
		b.sendError("publish failed")
	}
}

func (b *wsBridge) joinPresence(ctx context.Context, frame inboundFrame) {
	member := frame.Member
	if frame.Channel == "" || member.ID == "" {
		b.sendError("missing channel or member")
		return
	}
	snapshot, stream, err := b.server.broker.JoinPresence(ctx, frame.Channel, member)
	if err != nil {
		b.sendError("presence join failed")
		return
	}
	b.track(frame.Channel, stream, member.ID)

	payload, _ := json.Marshal(snapshot)
	b.deliver(outboundFrame{Channel: frame.Channel, Event: "presence.snapshot", Payload: payload})
	go b.forward(frame.Channel, stream)
}

func (b *wsBridge) leave(channel string) {
	b.mu.Lock()
	stream := b.streams[channel]
	delete(b.streams, channel)
	memberID := b.presence[channel]
	delete(b.presence, channel)
	b.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
	if memberID != "" {
		_ = b.server.broker.LeavePresence(context.Background(), channel, memberID)
	}
}

func (b *wsBridge) track(channel string, stream realtime.Stream, memberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams[channel] = stream
	if memberID != "" {
		b.presence[channel] = memberID
	}
}

func (b *wsBridge) forward(channel string, stream realtime.Stream) {
	for ev := range stream.Events() {
		b.deliver(outboundFrame{Channel: channel, Event: ev.Name, Payload: ev.Payload})
	}
}

func (b *wsBridge) deliver(frame outboundFrame) {
	select {
	case b.send <- frame:
	case <-b.done:
	}
}

func (b *wsBridge) confirm(event, channel string) {
	b.deliver(outboundFrame{Channel: channel, Event: event})
}

func (b *wsBridge) sendError(msg string) {
	payload, _ := json.Marshal(map[string]string{"message": msg})
	b.deliver(outboundFrame{Event: "error", Payload: payload})
}

func (b *wsBridge) teardown() {
	b.mu.Lock()
	streams := b.streams
	presence := b.presence
	b.streams = map[string]realtime.Stream{}
	b.presence = map[string]string{}
	b.mu.Unlock()

	for _, stream := range streams {
		_ = stream.Close()
	}
	for channel, memberID := range presence {
		_ = b.server.broker.LeavePresence(context.Background(), channel, memberID)
	}
	close(b.done)
	<-b.writerDone
}
