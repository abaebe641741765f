package domain

import (
	"context"
	"io"
)

// Disposition describes how a query should be treated by the assistant.
type Disposition string

const (
	DispositionDirect         Disposition = "direct"
	DispositionRecommendation Disposition = "recommendation"
	DispositionOutOfScope     Disposition = "out_of_scope"
	DispositionAmbiguous      Disposition = "ambiguous"
)

// GenerationRequest is the payload sent to the generation service.
// Context is rendered by the retrieval engine, never by the caller.
type GenerationRequest struct {
	SessionID   string      `json:"sessionId"`
	Message     string      `json:"message"`
	Context     string      `json:"context"`
	Disposition Disposition `json:"disposition"`
}

// GenerationClient opens a streaming generation call.
// The returned body yields `data: <json>\n\n` frames terminated by `data: [DONE]`.
// The caller must close the body.
type GenerationClient interface {
	Open(ctx context.Context, req GenerationRequest) (io.ReadCloser, error)
}
