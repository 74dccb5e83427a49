package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/mi6Fsoc/reroom-prototype/domain"
	"github.com/mi6Fsoc/reroom-prototype/utils/log"
)

const (
	DefaultChatModel     = "gemini-3-pro-preview"
	DefaultImageModel    = "gemini-2.5-flash-image"
	DefaultAnalysisModel = "gemini-2.5-flash"
	DefaultTimeout       = 120 * time.Second

	maxSuggestedStyles = 3
)

type GeminiConfig struct {
	APIKey        string
	ChatModel     string
	ImageModel    string
	AnalysisModel string
	Timeout       time.Duration
}

func (c GeminiConfig) withDefaults() GeminiConfig {
	if c.ChatModel == "" {
		c.ChatModel = DefaultChatModel
	}
	if c.ImageModel == "" {
		c.ImageModel = DefaultImageModel
	}
	if c.AnalysisModel == "" {
		c.AnalysisModel = DefaultAnalysisModel
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// contentGenerator is the part of *genai.Models the client uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// chatSender is the part of *genai.Chat a chat session uses.
type chatSender interface {
	SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type GeminiClient struct {
	models contentGenerator
	chats  *genai.Chats
	cfg    GeminiConfig
}

func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &GeminiClient{
		models: client.Models,
		chats:  client.Chats,
		cfg:    cfg.withDefaults(),
	}, nil
}

// AnalyzeImage implements domain.Llm. Any failure is logged and reported as
// an empty recommendation.
func (g *GeminiClient) AnalyzeImage(ctx context.Context, img domain.Image, styles []domain.Style) ([]string, error) {
	ctx = log.WithOperation(ctx, "analyze_image")
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	contents := []*genai.Content{{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			imagePart(img),
			{Text: analysisPrompt(styles)},
		},
	}}
	resp, err := g.models.GenerateContent(ctx, g.cfg.AnalysisModel, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		log.WithCtx(ctx).Warn("Style analysis failed", zap.Error(&domain.AnalysisError{Err: err}))
		return []string{}, nil
	}

	ids, err := parseStyleIDs(resp.Text())
	if err != nil {
		log.WithCtx(ctx).Warn("Style analysis returned malformed output", zap.Error(&domain.AnalysisError{Err: err}))
		return []string{}, nil
	}
	return ids, nil
}

// GenerateImage implements domain.Llm. The first inline image in the
// response is the result.
func (g *GeminiClient) GenerateImage(ctx context.Context, img domain.Image, instruction string) (domain.Image, error) {
	ctx = log.WithOperation(ctx, "generate_image")
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	contents := []*genai.Content{{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			{Text: instruction},
			imagePart(img),
		},
	}}
	resp, err := g.models.GenerateContent(ctx, g.cfg.ImageModel, contents, nil)
	if err != nil {
		return domain.Image{}, &domain.GenerationError{Err: err}
	}

	out, ok := firstInlineImage(resp)
	if !ok {
		return domain.Image{}, &domain.GenerationError{Err: domain.ErrNoImageData}
	}
	log.WithCtx(ctx).Debug("Generated image", zap.Int("bytes", len(out.Data)), zap.String("mime_type", out.MIMEType))
	return out, nil
}

// NewChat implements domain.Llm.
func (g *GeminiClient) NewChat(ctx context.Context) (domain.ChatSession, error) {
	chat, err := g.chats.Create(ctx, g.cfg.ChatModel, &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemInstruction}}},
		Tools:             designTools(),
	}, nil)
	if err != nil {
		return nil, &domain.ChatTransportError{Err: fmt.Errorf("creating chat: %w", err)}
	}

	return &GeminiChatSession{chat: chat, timeout: g.cfg.Timeout}, nil
}

type GeminiChatSession struct {
	chat    chatSender
	timeout time.Duration
}

// SendMessage implements domain.ChatSession.
func (g *GeminiChatSession) SendMessage(ctx context.Context, text string) (domain.ChatResponse, error) {
	return g.send(ctx, genai.Part{Text: text})
}

// SendToolResult implements domain.ChatSession.
func (g *GeminiChatSession) SendToolResult(ctx context.Context, result domain.ToolResult) (domain.ChatResponse, error) {
	return g.send(ctx, genai.Part{
		FunctionResponse: &genai.FunctionResponse{
			ID:       result.CallID,
			Name:     result.Name,
			Response: map[string]any{"result": result.Result},
		},
	})
}

func (g *GeminiChatSession) send(ctx context.Context, part genai.Part) (domain.ChatResponse, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	resp, err := g.chat.SendMessage(ctx, part)
	if err != nil {
		return domain.ChatResponse{}, &domain.ChatTransportError{Err: err}
	}
	return toChatResponse(ctx, resp), nil
}

func toChatResponse(ctx context.Context, resp *genai.GenerateContentResponse) domain.ChatResponse {
	out := domain.ChatResponse{Text: resp.Text()}
	for _, fc := range resp.FunctionCalls() {
		call, err := decodeToolCall(fc)
		if err != nil {
			log.WithCtx(ctx).Warn("Dropping tool call", zap.Error(err))
			continue
		}
		out.ToolCalls = append(out.ToolCalls, call)
	}
	return out
}

func imagePart(img domain.Image) *genai.Part {
	return &genai.Part{InlineData: &genai.Blob{MIMEType: img.MIMEType, Data: img.Data}}
}

func firstInlineImage(resp *genai.GenerateContentResponse) (domain.Image, bool) {
	if resp == nil {
		return domain.Image{}, false
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			mime := part.InlineData.MIMEType
			if mime == "" {
				mime = "image/png"
			}
			return domain.Image{Data: part.InlineData.Data, MIMEType: mime}, true
		}
	}
	return domain.Image{}, false
}

func analysisPrompt(styles []domain.Style) string {
	var b strings.Builder
	b.WriteString("Analyze this room's architectural structure, lighting, and layout.\n")
	b.WriteString("From the following list of interior design styles, identify the 3 styles that would look best in this specific space.\n\n")
	b.WriteString("Available Styles:\n")
	for _, s := range styles {
		fmt.Fprintf(&b, "- %s (ID: %s)\n", s.Name, s.ID)
	}
	b.WriteString("\nReturn ONLY a raw JSON array of the 3 Style IDs (strings). Example: [\"mcm\", \"scandi\", \"industrial\"]")
	return b.String()
}

// parseStyleIDs reads a JSON array and keeps its non-empty string entries.
// Markdown code fences around the array are tolerated.
func parseStyleIDs(text string) ([]string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var raw []any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("decode style ids: %w", err)
	}

	ids := make([]string, 0, maxSuggestedStyles)
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			ids = append(ids, s)
		}
	}
	return ids, nil
}
