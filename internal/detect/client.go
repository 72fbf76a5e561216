// Package detect talks to the external face detection and embedding sidecar.
// Both models are black boxes behind an HTTP API; this package only handles
// the wire format.
package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/hanifabd/rollcall/internal/imaging"
)

const defaultBaseURL = "http://localhost:8000"

// Observation is one candidate face region reported by the detector.
type Observation struct {
	Box        imaging.Box `json:"box"`
	Confidence float64     `json:"confidence"`
}

// Client computes face detections and embeddings using the sidecar service.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a sidecar client. An empty baseURL selects the default
// local sidecar address.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{},
	}
}

// detectResponse represents the response from the detection endpoint.
type detectResponse struct {
	FacesCount int           `json:"faces_count"`
	Faces      []Observation `json:"faces"`
}

// embedResponse represents the response from the embedding endpoint.
type embedResponse struct {
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model"`
}

// postMultipartImage constructs a multipart form with the image data and
// posts it to the given endpoint.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// Detect returns the candidate face regions in image. An image without
// faces yields an empty slice, not an error.
func (c *Client) Detect(ctx context.Context, image []byte) ([]Observation, error) {
	body, err := c.postMultipartImage(ctx, "/detect/face", image)
	if err != nil {
		return nil, err
	}

	var detResp detectResponse
	if err := json.Unmarshal(body, &detResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return detResp.Faces, nil
}

// Embed computes the embedding vector for a cropped face image.
func (c *Client) Embed(ctx context.Context, crop []byte) ([]float32, error) {
	body, err := c.postMultipartImage(ctx, "/embed/face", crop)
	if err != nil {
		return nil, err
	}

	var embResp embedResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(embResp.Embedding) == 0 {
		return nil, errors.New("empty embedding returned")
	}

	return embResp.Embedding, nil
}
