package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/sicyuan404/proxycast/internal/domain"
	"github.com/sicyuan404/proxycast/internal/jsonutil"
	"github.com/sicyuan404/proxycast/internal/pipeline"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsRequest is one inbound message over the message-based pipeline (§6
// "/v1/ws", "/ws": "same auth, same fingerprinting" as the REST routes).
type wsRequest struct {
	RequestID    string `json:"request_id,omitempty"`
	Format       string `json:"format"` // "openai" | "anthropic"
	Model        string `json:"model"`
	Body         json.RawMessage `json:"body"`
	Stream       bool   `json:"stream,omitempty"`
	Selector     string `json:"selector,omitempty"`
}

type wsResponse struct {
	RequestID string          `json:"request_id,omitempty"`
	Status    string          `json:"status"`
	Body      json.RawMessage `json:"body,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// handleWebSocket upgrades the connection and runs each inbound message
// through the pipeline, writing back a matching response frame. It also
// forwards the telemetry hub's log/request events for the life of the
// connection, mirroring the teacher's WebSocketHub broadcast behavior.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[httpapi] websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsubscribe := s.hub.Subscribe(32)
	defer unsubscribe()

	writeMu := make(chan struct{}, 1)
	writeMu <- struct{}{}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				if evt.Log == "" {
					continue
				}
				<-writeMu
				_ = conn.WriteJSON(map[string]any{"type": "log", "message": evt.Log})
				writeMu <- struct{}{}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req wsRequest
		if err := jsonutil.Unmarshal(raw, &req); err != nil {
			<-writeMu
			conn.WriteJSON(wsResponse{Status: "error", Error: "invalid json frame"})
			writeMu <- struct{}{}
			continue
		}

		format := domain.FormatOpenAI
		if req.Format == string(domain.FormatAnthropic) {
			format = domain.FormatAnthropic
		}

		pr := &pipeline.Request{
			RequestID:    req.RequestID,
			ClientFormat: format,
			Model:        req.Model,
			Body:         []byte(req.Body),
			Stream:       false, // streaming is expressed as repeated ws frames, not SSE, over this transport
		}
		if req.Selector != "" {
			if cred := s.resolveSelector(req.Selector); cred != nil {
				pr.ForcedCredentialUUID = cred.UUID
			} else {
				pr.ForcedProvider = domain.CredentialKind(req.Selector)
			}
		}

		var buf bytes.Buffer
		handleErr := s.pipe.Handle(ctx, &buf, pr)

		resp := wsResponse{RequestID: req.RequestID, Status: "completed", Body: buf.Bytes()}
		if handleErr != nil {
			resp.Status = "failed"
			resp.Error = handleErr.Error()
		}

		<-writeMu
		writeErr := conn.WriteJSON(resp)
		writeMu <- struct{}{}
		if writeErr != nil {
			return
		}
	}
}
