package domain

import "context"

// Llm abstracts the generative model provider the design session talks to.
type Llm interface {
	// AnalyzeImage recommends up to three style ids from styles for the room
	// in img. Implementations fail soft: malformed output yields an empty
	// result, not an error.
	AnalyzeImage(ctx context.Context, img Image, styles []Style) ([]string, error)
	// GenerateImage edits img following instruction and returns the new image.
	// It fails with a *GenerationError when no image payload comes back.
	GenerateImage(ctx context.Context, img Image, instruction string) (Image, error)
	// NewChat opens a fresh conversation with the design tools attached.
	NewChat(ctx context.Context) (ChatSession, error)
}

// ChatSession is an opaque handle on a remote conversation. History lives
// with the provider; tool results must go back through the same handle.
type ChatSession interface {
	SendMessage(ctx context.Context, text string) (ChatResponse, error)
	SendToolResult(ctx context.Context, result ToolResult) (ChatResponse, error)
}

type ChatResponse struct {
	Text      string
	ToolCalls []ToolCall
}

// ToolCall is the closed set of actions the model may request. Adding a tool
// means adding a variant here and a case to the orchestrator's dispatch.
type ToolCall interface {
	ToolName() string
	CallID() string
	isToolCall()
}

const (
	ToolUpdateDesign   = "update_design"
	ToolSuggestPalette = "suggest_palette"
)

// UpdateDesign asks for a visual edit of the current room image.
type UpdateDesign struct {
	ID              string
	EditInstruction string
}

func (UpdateDesign) ToolName() string { return ToolUpdateDesign }
func (u UpdateDesign) CallID() string { return u.ID }
func (UpdateDesign) isToolCall()      {}

// SuggestPalette asks for a color palette to be shown to the user.
type SuggestPalette struct {
	ID     string
	Colors []PaletteColor
}

func (SuggestPalette) ToolName() string { return ToolSuggestPalette }
func (s SuggestPalette) CallID() string { return s.ID }
func (SuggestPalette) isToolCall()      {}

// ToolResult reports the outcome of a dispatched tool call.
type ToolResult struct {
	CallID string
	Name   string
	Result string
}

// Transcriber turns recorded speech into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Synthesizer turns text into encoded speech audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
