package web

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/evanwires/sidekick/internal/model"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsReadLimit    = 4096
)

// wsInbound is one frame from a transcription feed: an utterance to append
// or an assist trigger.
type wsInbound struct {
	Type    string `json:"type"`
	Speaker string `json:"speaker,omitempty"`
	Text    string `json:"text,omitempty"`
	Seq     uint64 `json:"seq,omitempty"`
}

// handleWS streams engine events over a websocket and accepts
// utterance/assist frames from a transcription feed. A malformed frame is
// logged and skipped; the stream stays open.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, cancel := s.engine.Subscribe()
	defer cancel()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var frame wsInbound
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			s.handleWSFrame(r, frame)
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleWSFrame(r *http.Request, frame wsInbound) {
	switch frame.Type {
	case "utterance":
		speaker, err := model.ParseSpeaker(frame.Speaker)
		if err != nil {
			s.log.Warn().Err(err).Msg("websocket utterance frame dropped")
			return
		}
		if frame.Text == "" {
			s.log.Warn().Msg("websocket utterance frame has no text")
			return
		}
		if _, err := s.engine.AppendUtterance(speaker, frame.Text, frame.Seq); err != nil {
			s.log.Warn().Err(err).Uint64("seq", frame.Seq).Msg("websocket utterance rejected")
		}
	case "assist":
		if _, err := s.engine.RequestAssistance(r.Context()); err != nil {
			s.log.Warn().Err(err).Msg("websocket assist failed")
		}
	default:
		s.log.Warn().Str("type", frame.Type).Msg("unknown websocket frame type")
	}
}
