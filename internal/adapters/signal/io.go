package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/duetcall/duet/internal/domain"
	"github.com/duetcall/duet/internal/protocol"
)

const writeWait = 5 * time.Second

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(ctl.Cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping error")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump owns the connection's inbound side. Its exit is the
// disconnect event: exactly one Disconnect call per connection, running
// the same cleanup as an explicit leave.
func (ctl *Controller) readPump(ctx context.Context, sid domain.SocketID, c *wsConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		c.Close()
		ctl.Orch.Disconnect(sid)
	}()

	c.conn.SetReadLimit(ctl.Cfg.ReadLimit)
	readWait := ctl.Cfg.PingPeriod + writeWait
	_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				return
			}
			ctl.handleFrame(sid, data)
		}
	}
}

// handleFrame dispatches one inbound envelope. Malformed frames and
// unknown events are logged and dropped; they never kill the connection.
func (ctl *Controller) handleFrame(sid domain.SocketID, data []byte) {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad frame")
		return
	}

	switch env.Event {
	case protocol.EventJoinRoom:
		var p protocol.JoinRoom
		if err := unmarshal(env.Data, &p, func() error { return p.Validate() }); err != nil {
			log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad join payload")
			return
		}
		ctl.Orch.Join(sid, p.RoomID)
	case protocol.EventLeaveRoom:
		var p protocol.LeaveRoom
		if err := unmarshal(env.Data, &p, func() error { return p.Validate() }); err != nil {
			log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad leave payload")
			return
		}
		ctl.Orch.Leave(sid, p.RoomID)
	case protocol.EventOffer, protocol.EventAnswer, protocol.EventICECandidate:
		var p protocol.Relay
		if err := unmarshal(env.Data, &p, func() error { return p.Validate(env.Event) }); err != nil {
			log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).
				Str("event", env.Event).Msg("bad relay payload")
			return
		}
		ctl.Orch.Relay(env.Event, sid, p)
	case protocol.EventChatMessage:
		var p protocol.ChatMessage
		if err := unmarshal(env.Data, &p, func() error { return p.Validate() }); err != nil {
			// Matches the guard semantics: a malformed chat is silent.
			log.Debug().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad chat payload")
			return
		}
		ctl.Orch.Chat(sid, p)
	default:
		log.Warn().Str("module", "signal").Str("event", env.Event).Msg("unknown signal")
	}
}

func unmarshal(data []byte, v any, validate func() error) error {
	if err := json.Unmarshal(data, v); err != nil {
		return err
	}
	return validate()
}
