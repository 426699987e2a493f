package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"forgeledger.ai/internal/forge"
	"forgeledger.ai/internal/protocol"
)

type Server struct {
	registry *forge.Registry
	log      *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(g *forge.Registry, logger *log.Logger) *Server {
	return &Server{
		registry: g,
		log:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if !s.handshake(conn) {
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		out := make(chan []byte, 16)

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				continue
			}
			switch base.Type {
			case protocol.TypeTurn:
				var turn protocol.TurnMsg
				if err := json.Unmarshal(msg, &turn); err != nil || turn.ProtocolVersion != protocol.Version {
					s.send(out, protocol.AckMsg{
						Type: protocol.TypeAck, ProtocolVersion: protocol.Version,
						AckFor: protocol.TypeTurn, Accepted: false, Code: protocol.ErrProtoBadRequest,
					})
					continue
				}
				resp := make(chan forge.TurnResult, 1)
				s.registry.Turns() <- forge.TurnRequest{Turn: turn, Resp: resp}
				res := <-resp
				if res.Code != "" {
					s.send(out, protocol.AckMsg{
						Type: protocol.TypeAck, ProtocolVersion: protocol.Version,
						AckFor: protocol.TypeTurn, Accepted: false, Code: res.Code,
					})
					continue
				}
				s.send(out, res.Status)

			case protocol.TypeControl:
				var ctl protocol.ControlMsg
				if err := json.Unmarshal(msg, &ctl); err != nil || ctl.ProtocolVersion != protocol.Version {
					s.send(out, protocol.AckMsg{
						Type: protocol.TypeAck, ProtocolVersion: protocol.Version,
						AckFor: protocol.TypeControl, Accepted: false, Code: protocol.ErrProtoBadRequest,
					})
					continue
				}
				resp := make(chan protocol.AckMsg, 1)
				s.registry.Controls() <- forge.ControlRequest{Msg: ctl, Resp: resp}
				s.send(out, <-resp)
			}
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) bool {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return false
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return false
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return false
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return false
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       s.registry.NewSessionID(),
		Economy:         s.registry.EconomyParams(),
	}
	b, err := json.Marshal(welcome)
	if err != nil {
		return false
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b) == nil
}

func (s *Server) send(out chan []byte, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Printf("ws: marshal: %v", err)
		return
	}
	select {
	case out <- b:
	default:
		// Slow host; drop the oldest queued frame to keep latest state flowing.
		select {
		case <-out:
		default:
		}
		select {
		case out <- b:
		default:
		}
	}
}
