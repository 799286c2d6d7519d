package hub

import (
	"context"
	"encoding/json"
	"log"
)

const broadcastChannel = "broadcast"

// envelope carries a frame between hub instances over redis. Close marks a
// session-ended delivery that must also evict the group.
type envelope struct {
	SessionID string          `json:"sessionId"`
	Close     bool            `json:"close,omitempty"`
	Frame     json.RawMessage `json:"frame"`
}

// publish fans a frame out to the session group. With redis configured it
// goes through the broadcast channel so every hub instance delivers to its
// local members; without redis it is delivered directly.
func (s *Server) publish(ctx context.Context, sessionID string, frame []byte, closeGroup bool) {
	if s.rdb == nil {
		s.deliver(sessionID, frame, closeGroup)
		return
	}

	data, err := json.Marshal(envelope{SessionID: sessionID, Close: closeGroup, Frame: frame})
	if err != nil {
		log.Printf("karaoke-sync: marshal envelope: %v", err)
		return
	}
	if err := s.rdb.Publish(ctx, broadcastChannel, string(data)).Err(); err != nil {
		log.Printf("karaoke-sync: publish event: %v", err)
		// Local members still converge.
		s.deliver(sessionID, frame, closeGroup)
	}
}

// RunSubscriber consumes the broadcast channel and delivers frames to the
// local group. Blocks until the subscription closes.
func (s *Server) RunSubscriber(ctx context.Context) {
	sub := s.rdb.Subscribe(ctx, broadcastChannel)
	defer sub.Close()

	ch := sub.Channel()
	for msg := range ch {
		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			log.Printf("karaoke-sync: subscriber decode: %v", err)
			continue
		}
		s.deliver(env.SessionID, env.Frame, env.Close)
	}
}

func (s *Server) deliver(sessionID string, frame []byte, closeGroup bool) {
	if closeGroup {
		s.hub.CloseSession(sessionID, frame)
		return
	}
	s.hub.Broadcast(sessionID, frame)
}
