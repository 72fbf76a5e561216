package session

import "github.com/hanifabd/rollcall/internal/imaging"

// Event is one outbound message produced while processing a frame. The web
// layer serializes events onto the websocket with their Kind as the type
// discriminator.
type Event interface {
	Kind() string
}

// FrameProcessed acknowledges a fully handled frame. The client must wait
// for it before sending the next frame.
type FrameProcessed struct {
	Faces        int   `json:"faces"`
	ProcessingMs int64 `json:"processing_ms"`
}

func (FrameProcessed) Kind() string { return "frame_processed" }

// Recognition reports an accepted match for one face.
type Recognition struct {
	StudentID    string      `json:"student_id"`
	Name         string      `json:"name"`
	Similarity   float64     `json:"similarity"`
	Box          imaging.Box `json:"box"`
	ProcessingMs int64       `json:"processing_ms"`
	LatencyMs    int64       `json:"latency_ms"`
}

func (Recognition) Kind() string { return "recognition" }

// BelowThreshold reports the best candidate for a face whose similarity did
// not clear the acceptance threshold.
type BelowThreshold struct {
	StudentID  string      `json:"student_id"`
	Name       string      `json:"name"`
	Similarity float64     `json:"similarity"`
	Threshold  float64     `json:"threshold"`
	Box        imaging.Box `json:"box"`
}

func (BelowThreshold) Kind() string { return "below_threshold" }

// UnrecognizedFace reports a face that could not be embedded or matched.
type UnrecognizedFace struct {
	Box   imaging.Box `json:"box"`
	Error string      `json:"error"`
}

func (UnrecognizedFace) Kind() string { return "unrecognized_face" }

// NotStarted tells the client it sent a frame before starting the session.
type NotStarted struct{}

func (NotStarted) Kind() string { return "not_started" }
