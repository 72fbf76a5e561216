package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hanifabd/rollcall/internal/config"
	"github.com/hanifabd/rollcall/internal/session"
	"github.com/hanifabd/rollcall/internal/store"
	"github.com/hanifabd/rollcall/internal/web/middleware"
)

// RecognitionHandler upgrades websocket connections and runs one
// recognition session per connection.
type RecognitionHandler struct {
	source   store.EnrollmentSource
	detector session.Detector
	embedder session.Embedder
	tuning   config.Tuning
	upgrader websocket.Upgrader
}

// NewRecognitionHandler creates a recognition websocket handler.
func NewRecognitionHandler(source store.EnrollmentSource, detector session.Detector, embedder session.Embedder, tuning config.Tuning) *RecognitionHandler {
	return &RecognitionHandler{
		source:   source,
		detector: detector,
		embedder: embedder,
		tuning:   tuning,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1 << 20, // frames arrive as base64 JPEG
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Non-browser clients send no Origin header.
				origin := r.Header.Get("Origin")
				return origin == "" || middleware.OriginAllowed(origin)
			},
		},
	}
}

// inboundMessage is one client message. Type is start, frame or stop.
type inboundMessage struct {
	Type       string   `json:"type"`
	Intakes    []string `json:"intakes"`
	Courses    []string `json:"courses"`
	Image      string   `json:"image"`
	CapturedAt int64    `json:"captured_at"` // unix milliseconds
}

// Serve handles one websocket connection. The single read loop guarantees
// at most one frame in flight per session: the next message is not read
// until the previous frame's events are flushed, and the client waits for
// the frame_processed ack before sending another frame, so overlapping
// frames are dropped on the client side rather than queued here.
func (h *RecognitionHandler) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	sess := session.New(h.detector, h.embedder, store.New(h.source), h.tuning)
	defer sess.Stop()
	log.Printf("recognition session %s connected from %s", connID, sanitizeForLog(r.RemoteAddr))

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("recognition session %s read failed: %v", connID, err)
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.writeError(conn, "invalid message")
			continue
		}

		switch msg.Type {
		case "start":
			h.handleStart(r, conn, sess, msg)
		case "frame":
			h.handleFrame(r, conn, sess, msg)
		case "stop":
			sess.Stop()
			h.write(conn, map[string]any{"type": "stopped"})
		default:
			h.writeError(conn, "unknown message type")
		}
	}
}

func (h *RecognitionHandler) handleStart(r *http.Request, conn *websocket.Conn, sess *session.Session, msg inboundMessage) {
	scope := store.Scope{Intakes: msg.Intakes, Courses: msg.Courses}
	count, err := sess.Start(r.Context(), scope)
	if err != nil {
		h.writeError(conn, err.Error())
		return
	}
	h.write(conn, map[string]any{"type": "started", "count": count})
}

func (h *RecognitionHandler) handleFrame(r *http.Request, conn *websocket.Conn, sess *session.Session, msg inboundMessage) {
	img, err := decodeImage(msg.Image)
	if err != nil {
		h.writeError(conn, "frame image must be base64 encoded")
		return
	}

	var capturedAt time.Time
	if msg.CapturedAt > 0 {
		capturedAt = time.UnixMilli(msg.CapturedAt)
	}

	for _, ev := range sess.ProcessFrame(r.Context(), img, capturedAt) {
		payload, err := eventPayload(ev)
		if err != nil {
			log.Printf("failed to encode %s event: %v", ev.Kind(), err)
			continue
		}
		h.write(conn, payload)
	}
}

// eventPayload flattens an event into its JSON object with the event kind
// as the type discriminator.
func eventPayload(ev session.Event) (map[string]any, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	payload := make(map[string]any)
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	payload["type"] = ev.Kind()
	return payload, nil
}

func (h *RecognitionHandler) write(conn *websocket.Conn, payload any) {
	if err := conn.WriteJSON(payload); err != nil {
		log.Printf("websocket write failed: %v", err)
	}
}

func (h *RecognitionHandler) writeError(conn *websocket.Conn, message string) {
	h.write(conn, map[string]string{"type": "error", "error": message})
}
