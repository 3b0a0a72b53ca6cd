package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/conversation"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/protocol"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/reliability"
)

const (
	wsWriteWait  = 10 * time.Second
	wsReadWait   = 120 * time.Second
	wsPingPeriod = 30 * time.Second
)

// handleWS pushes a state snapshot after every controller change and
// accepts client_control messages. Snapshots are coalesced: a slow client
// sees the latest state, never a backlog.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.clientConnected(1)
	defer s.clientConnected(-1)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	dirty := make(chan struct{}, 1)
	unsubscribe := s.controller.Subscribe(func(conversation.State) {
		select {
		case dirty <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	events := make(chan any, 32)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, cancel, conn, dirty, events)
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.queueEvent(events, protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_client_message",
				Source: "gateway",
				Detail: err.Error(),
			})
			continue
		}
		control, ok := parsed.(protocol.ClientControl)
		if !ok {
			continue
		}
		s.observeWS("inbound", string(control.Type))
		s.dispatch(ctx, control, events)
	}

	cancel()
	<-writerDone
}

func (s *Server) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, dirty <-chan struct{}, events <-chan any) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	var seq uint64
	write := func(msg any, typ protocol.MessageType) bool {
		raw, err := protocol.Encode(msg)
		if err != nil {
			s.logger.Error().Err(err).Str("type", string(typ)).Msg("encode websocket message")
			return true
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			cancel()
			return false
		}
		s.observeWS("outbound", string(typ))
		return true
	}
	snapshot := func() bool {
		seq++
		return write(protocol.StateSnapshot{
			Type:  protocol.TypeStateSnapshot,
			Seq:   seq,
			State: s.controller.State(),
		}, protocol.TypeStateSnapshot)
	}

	if !snapshot() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		case <-dirty:
			if !snapshot() {
				return
			}
		case ev := <-events:
			typ := protocol.TypeSystemEvent
			if _, ok := ev.(protocol.ErrorEvent); ok {
				typ = protocol.TypeErrorEvent
			}
			if !write(ev, typ) {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				cancel()
				return
			}
		}
	}
}

// dispatch runs quick actions inline. Actions that wait on the backend run
// in their own goroutine so a stop or toggle is never queued behind them.
func (s *Server) dispatch(ctx context.Context, msg protocol.ClientControl, events chan<- any) {
	fail := func(err error) {
		if err == nil || reliability.IsCancellation(err) {
			return
		}
		kind := reliability.Classify(err)
		s.queueEvent(events, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			RequestID: msg.RequestID,
			Code:      string(kind),
			Source:    "controller",
			Retryable: kind == reliability.KindTransport,
			Detail:    err.Error(),
		})
	}

	switch msg.Action {
	case protocol.ActionSetDraft:
		s.controller.SetDraft(msg.Text)
	case protocol.ActionSubmit:
		s.controller.SubmitAsync(msg.Text)
	case protocol.ActionStopSend:
		s.controller.StopSending()
	case protocol.ActionEdit:
		s.controller.EditAndResend()
	case protocol.ActionListen:
		fail(s.controller.SetListening(*msg.Enabled))
	case protocol.ActionReplyVoice:
		fail(s.controller.SetReplyWithVoice(*msg.Enabled))
	case protocol.ActionTogglePlayback:
		fail(s.controller.TogglePlayback(msg.TurnID))
	case protocol.ActionSelectChat:
		go func() { fail(s.controller.SelectChat(ctx, msg.ChatID)) }()
	case protocol.ActionCreateChat:
		go func() {
			_, err := s.controller.CreateChat(ctx)
			fail(err)
		}()
	case protocol.ActionSetModel:
		go func() { fail(s.controller.SetModel(ctx, msg.ModelID)) }()
	}
}

func (s *Server) queueEvent(events chan<- any, ev any) {
	select {
	case events <- ev:
	default:
		// Writes stay single-threaded; drop when the queue is saturated.
		s.observeWS("outbound_dropped", string(protocol.TypeErrorEvent))
	}
}

func (s *Server) observeWS(direction, typ string) {
	if s.metrics != nil {
		s.metrics.WSMessages.WithLabelValues(direction, typ).Inc()
	}
}

func (s *Server) clientConnected(delta float64) {
	if s.metrics != nil {
		s.metrics.ActiveClients.Add(delta)
	}
}
