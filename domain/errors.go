package domain

import (
	"errors"
	"fmt"
)

var (
	ErrBusy                = errors.New("session is busy with another operation")
	ErrNoImage             = errors.New("no room image uploaded")
	ErrUnknownStyle        = errors.New("unknown style")
	ErrNoPendingGeneration = errors.New("no pending generation")
	ErrUnsupportedImage    = errors.New("unsupported image")
	ErrEmptyMessage        = errors.New("message is empty")
	ErrSessionNotFound     = errors.New("session not found")
	ErrFeatureDisabled     = errors.New("feature disabled")
	ErrNoImageData         = errors.New("no image data returned")
	ErrMessageNotFound     = errors.New("message not found")
)

// AnalysisError is a failed or unparseable style recommendation. It is
// recovered locally and never shown to the user.
type AnalysisError struct {
	Err error
}

func (e *AnalysisError) Error() string { return fmt.Sprintf("analyze image: %v", e.Err) }
func (e *AnalysisError) Unwrap() error { return e.Err }

// GenerationError means the generator produced no usable image.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string { return fmt.Sprintf("generate image: %v", e.Err) }
func (e *GenerationError) Unwrap() error { return e.Err }

// ChatTransportError is a failure of the conversational call itself.
type ChatTransportError struct {
	Err error
}

func (e *ChatTransportError) Error() string { return fmt.Sprintf("chat transport: %v", e.Err) }
func (e *ChatTransportError) Unwrap() error { return e.Err }

// ToolReconciliationError is a tool whose action failed while the tool-call
// loop with the model was still closed.
type ToolReconciliationError struct {
	Tool string
	Err  error
}

func (e *ToolReconciliationError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}
func (e *ToolReconciliationError) Unwrap() error { return e.Err }
