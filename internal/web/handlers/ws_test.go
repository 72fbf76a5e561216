package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hanifabd/rollcall/internal/config"
	"github.com/hanifabd/rollcall/internal/detect"
	"github.com/hanifabd/rollcall/internal/storage"
)

// dialRecognition starts the handler on a test server and opens a client
// connection to it.
func dialRecognition(t *testing.T, store *storage.Store, faces []detect.Observation, embedding []float32) *websocket.Conn {
	t.Helper()

	sidecar := setupMockSidecar(t, faces, embedding)
	client := detect.NewClient(sidecar.URL)
	handler := NewRecognitionHandler(store, client, client, config.DefaultTuning())

	server := httptest.NewServer(http.HandlerFunc(handler.Serve))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

// readMessage reads one JSON message from the connection.
func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read websocket message: %v", err)
	}
	msg := make(map[string]any)
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("failed to parse websocket message %q: %v", raw, err)
	}
	return msg
}

func writeMessage(t *testing.T, conn *websocket.Conn, msg map[string]any) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("failed to write websocket message: %v", err)
	}
}

func TestRecognition_FrameBeforeStart(t *testing.T) {
	conn := dialRecognition(t, openTestStore(t), nil, nil)

	writeMessage(t, conn, map[string]any{"type": "frame", "image": testPhotoBase64(t)})
	msg := readMessage(t, conn)
	if msg["type"] != "not_started" {
		t.Fatalf("expected not_started, got %v", msg)
	}
}

func TestRecognition_StartFrameStop(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	err := store.SaveEnrollment(ctx, storage.Enrollment{
		Intake: "2024", Course: "CS", StudentID: "42", Name: "Jane", Vector: []float32{1, 0, 0},
	})
	if err != nil {
		t.Fatalf("SaveEnrollment failed: %v", err)
	}

	faces := testFace()
	conn := dialRecognition(t, store, faces, []float32{1, 0, 0})

	writeMessage(t, conn, map[string]any{"type": "start", "intakes": []string{"2024"}, "courses": []string{"CS"}})
	msg := readMessage(t, conn)
	if msg["type"] != "started" || msg["count"].(float64) != 1 {
		t.Fatalf("expected started with count 1, got %v", msg)
	}

	writeMessage(t, conn, map[string]any{
		"type":        "frame",
		"image":       testPhotoBase64(t),
		"captured_at": time.Now().UnixMilli(),
	})

	msg = readMessage(t, conn)
	if msg["type"] != "recognition" {
		t.Fatalf("expected recognition event, got %v", msg)
	}
	if msg["student_id"] != "42" || msg["name"] != "Jane" {
		t.Errorf("recognized %v/%v, want 42/Jane", msg["student_id"], msg["name"])
	}

	msg = readMessage(t, conn)
	if msg["type"] != "frame_processed" {
		t.Fatalf("frame must end with frame_processed, got %v", msg)
	}

	writeMessage(t, conn, map[string]any{"type": "stop"})
	msg = readMessage(t, conn)
	if msg["type"] != "stopped" {
		t.Fatalf("expected stopped ack, got %v", msg)
	}

	// Frames after stop report not_started until the next start.
	writeMessage(t, conn, map[string]any{"type": "frame", "image": testPhotoBase64(t)})
	msg = readMessage(t, conn)
	if msg["type"] != "not_started" {
		t.Fatalf("expected not_started after stop, got %v", msg)
	}
}

func TestRecognition_InvalidMessage(t *testing.T) {
	conn := dialRecognition(t, openTestStore(t), nil, nil)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("failed to write: %v", err)
	}
	msg := readMessage(t, conn)
	if msg["type"] != "error" {
		t.Fatalf("expected error message, got %v", msg)
	}

	writeMessage(t, conn, map[string]any{"type": "bogus"})
	msg = readMessage(t, conn)
	if msg["type"] != "error" {
		t.Fatalf("expected error for unknown type, got %v", msg)
	}
}

func TestRecognition_StartWithEmptyScope(t *testing.T) {
	conn := dialRecognition(t, openTestStore(t), nil, nil)

	writeMessage(t, conn, map[string]any{"type": "start", "intakes": []string{}, "courses": []string{}})
	msg := readMessage(t, conn)
	if msg["type"] != "error" {
		t.Fatalf("expected error for empty scope, got %v", msg)
	}
}
