package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/mi6Fsoc/reroom-prototype/domain"
	"github.com/mi6Fsoc/reroom-prototype/utils/log"
)

const (
	MaxSuggestedStyles = 3

	WelcomeText            = "I've loaded your room! Analyzing the space to recommend some styles..."
	SuggestionsText        = "Based on your room's structure, I've highlighted a few styles above (marked as **Best**) that would look amazing here! You can click one to apply it, or tell me what you have in mind."
	NoSuggestionsText      = "Feel free to select a style above or describe how you'd like to transform the space."
	AnalysisFailedText     = "Ready! Select a style above or describe your ideas."
	StyleAppliedText       = "I've applied the **%s** style to your room with your custom instructions."
	StyleFailedText        = "Sorry, I encountered an error generating the style. Please try again."
	UpdatingDesignText     = "*Updating design: %s...*"
	NoImageToUpdateText    = "I couldn't find an image to update."
	ConnectionTroubleText  = "I'm having trouble connecting right now. Please try again."
	PaletteText            = "Here is a suggested color palette for you:"
	DesignUpdatedResult    = "Design updated successfully with the new image generated."
	DesignFailedResult     = "Design update failed. The image was not changed."
	NoImageResult          = "No room image is loaded, so the design could not be updated."
	MissingInstructionText = "No edit instruction was provided, so the design was not changed."
	PaletteShownResult     = "Palette displayed to user."
)

// DefaultInstruction is the editable prompt staged when a style is selected.
func DefaultInstruction(style domain.Style) string {
	return fmt.Sprintf("Redesign this room in %s style. %s. Keep the structural layout but change furniture, colors, and textures. Photorealistic, high quality.",
		style.Name, style.PromptFragment)
}

type DesignServiceDeps struct {
	Catalog  domain.StyleCatalog
	Llm      domain.Llm
	Codec    domain.ImageCodec
	Hasher   domain.Hasher
	Broker   domain.MessageBroker
	Sessions *SessionRegistry

	// Optional; voice operations fail with ErrFeatureDisabled when nil.
	Transcriber domain.Transcriber
	Synthesizer domain.Synthesizer
}

// DesignService orchestrates every design session: uploads, style
// application, tool-driven chat and reset. Each operation runs on a context
// detached from the caller so a dropped request never half-applies a step.
type DesignService struct {
	deps     DesignServiceDeps
	analyses *conc.WaitGroup
}

func NewDesignService(deps DesignServiceDeps) *DesignService {
	return &DesignService{deps: deps, analyses: conc.NewWaitGroup()}
}

// SessionView is the client-facing state of a session.
type SessionView struct {
	ID                string                    `json:"id"`
	Messages          []domain.ChatMessage      `json:"messages"`
	SuggestedStyleIDs []string                  `json:"suggested_style_ids"`
	LoadingState      domain.LoadingState       `json:"loading_state"`
	Pending           *domain.PendingGeneration `json:"pending,omitempty"`
	HasImage          bool                      `json:"has_image"`
	OriginalDigest    string                    `json:"original_digest,omitempty"`
	CurrentDigest     string                    `json:"current_digest,omitempty"`
	Seq               uint64                    `json:"seq"`
}

func (s *DesignService) Styles() []domain.Style {
	return s.deps.Catalog.List()
}

// CreateSession registers a new session whose events are published on the
// broker under its id.
func (s *DesignService) CreateSession(ctx context.Context) SessionView {
	session := s.deps.Sessions.Create()
	session.SetObserver(s.publish)
	log.WithCtx(log.WithSession(ctx, session.ID())).Info("Session created")
	return s.view(session)
}

// ActiveSessions reports how many sessions the registry holds.
func (s *DesignService) ActiveSessions() int {
	return s.deps.Sessions.Count()
}

func (s *DesignService) View(sessionID string) (SessionView, error) {
	session, err := s.deps.Sessions.Get(sessionID)
	if err != nil {
		return SessionView{}, err
	}
	return s.view(session), nil
}

// Upload normalizes raw, starts a fresh conversation around it and kicks off
// the style analysis. It returns before the analysis completes.
func (s *DesignService) Upload(ctx context.Context, sessionID string, raw []byte) (SessionView, error) {
	session, ctx, err := s.begin(ctx, sessionID, "upload", domain.LoadingUploading)
	if err != nil {
		return SessionView{}, err
	}
	defer session.SetLoadingState(domain.LoadingIdle)

	img, err := s.deps.Codec.Normalize(raw)
	if err != nil {
		return SessionView{}, err
	}

	// A missing chat is recreated on the next chat turn.
	chat, err := s.deps.Llm.NewChat(ctx)
	if err != nil {
		log.WithCtx(ctx).Warn("Creating chat session failed", zap.Error(err))
		chat = nil
	}

	epoch := session.LoadRoom(img, domain.ChatMessage{Role: domain.ModelRole, Text: WelcomeText}, chat)
	styles := s.deps.Catalog.List()
	s.analyses.Go(func() {
		s.analyze(ctx, session, epoch, img, styles)
	})

	log.WithCtx(ctx).Info("Room loaded", zap.Int("bytes", len(img.Data)))
	return s.finish(session), nil
}

func (s *DesignService) analyze(ctx context.Context, session *domain.Session, epoch uint64, img domain.Image, styles []domain.Style) {
	ctx = log.WithOperation(ctx, "analyze")

	note := domain.ChatMessage{Role: domain.ModelRole}
	var suggested []string

	ids, err := s.deps.Llm.AnalyzeImage(ctx, img, styles)
	switch {
	case err != nil:
		log.WithCtx(ctx).Warn("Style analysis failed", zap.Error(&domain.AnalysisError{Err: err}))
		note.Text = AnalysisFailedText
	default:
		suggested = s.filterSuggestions(ids)
		if len(suggested) > 0 {
			note.Text = SuggestionsText
		} else {
			note.Text = NoSuggestionsText
		}
	}

	if !session.SetSuggestedStyles(epoch, suggested, note) {
		log.WithCtx(ctx).Debug("Discarding analysis for a replaced room")
		return
	}
	log.WithCtx(ctx).Info("Styles suggested", zap.Strings("style_ids", suggested))
}

// filterSuggestions keeps catalog ids only, in order, without duplicates.
func (s *DesignService) filterSuggestions(ids []string) []string {
	out := make([]string, 0, MaxSuggestedStyles)
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if len(out) == MaxSuggestedStyles {
			break
		}
		if seen[id] {
			continue
		}
		if _, ok := s.deps.Catalog.Get(id); !ok {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// SelectStyle stages the style's default instruction for confirmation.
func (s *DesignService) SelectStyle(ctx context.Context, sessionID, styleID string) (domain.PendingGeneration, error) {
	session, err := s.deps.Sessions.Get(sessionID)
	if err != nil {
		return domain.PendingGeneration{}, err
	}
	style, ok := s.deps.Catalog.Get(styleID)
	if !ok {
		return domain.PendingGeneration{}, fmt.Errorf("%w: %s", domain.ErrUnknownStyle, styleID)
	}

	pending := domain.PendingGeneration{Style: style, Instruction: DefaultInstruction(style)}
	if err := session.StagePending(pending); err != nil {
		return domain.PendingGeneration{}, err
	}
	log.WithCtx(log.WithSession(ctx, sessionID)).Debug("Style staged", zap.String("style_id", style.ID))
	return pending, nil
}

func (s *DesignService) CancelGeneration(ctx context.Context, sessionID string) error {
	session, err := s.deps.Sessions.Get(sessionID)
	if err != nil {
		return err
	}
	if session.LoadingState() != domain.LoadingIdle {
		return domain.ErrBusy
	}
	if _, ok := session.Pending(); !ok {
		return domain.ErrNoPendingGeneration
	}
	session.SetPending(nil)
	return nil
}

// ConfirmGeneration applies the staged style to the current image. A blank
// instruction falls back to the staged default. Generation failures are
// reported in the transcript, not returned.
func (s *DesignService) ConfirmGeneration(ctx context.Context, sessionID, instruction string) (SessionView, error) {
	session, err := s.deps.Sessions.Get(sessionID)
	if err != nil {
		return SessionView{}, err
	}
	if _, ok := session.Pending(); !ok {
		return SessionView{}, domain.ErrNoPendingGeneration
	}

	session, ctx, err = s.begin(ctx, sessionID, "confirm", domain.LoadingGenerating)
	if err != nil {
		return SessionView{}, err
	}
	defer session.SetLoadingState(domain.LoadingIdle)

	pending, ok := session.Pending()
	if !ok {
		return SessionView{}, domain.ErrNoPendingGeneration
	}
	current, ok := session.Current()
	if !ok {
		session.SetPending(nil)
		return SessionView{}, domain.ErrNoImage
	}

	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		instruction = pending.Instruction
	}

	img, err := s.deps.Llm.GenerateImage(ctx, current, instruction)
	session.SetPending(nil)
	if err != nil {
		log.WithCtx(ctx).Error("Style generation failed", zap.String("style_id", pending.Style.ID), zap.Error(err))
		session.AppendMessage(domain.ChatMessage{Role: domain.ModelRole, Text: StyleFailedText, IsError: true})
		return s.finish(session), nil
	}

	session.SetCurrent(img)
	session.AppendMessage(domain.ChatMessage{
		Role: domain.ModelRole,
		Text: fmt.Sprintf(StyleAppliedText, pending.Style.Name),
	})
	log.WithCtx(ctx).Info("Style applied", zap.String("style_id", pending.Style.ID))
	return s.finish(session), nil
}

// SendChat runs one conversational turn, acting on at most one tool call.
func (s *DesignService) SendChat(ctx context.Context, sessionID, text string) (SessionView, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return SessionView{}, domain.ErrEmptyMessage
	}

	session, ctx, err := s.begin(ctx, sessionID, "chat", domain.LoadingChatting)
	if err != nil {
		return SessionView{}, err
	}
	defer session.SetLoadingState(domain.LoadingIdle)

	session.AppendMessage(domain.ChatMessage{Role: domain.UserRole, Text: text})

	if err := s.chatTurn(ctx, session, text); err != nil {
		log.WithCtx(ctx).Error("Chat turn failed", zap.Error(err))
		session.AppendMessage(domain.ChatMessage{Role: domain.ModelRole, Text: ConnectionTroubleText, IsError: true})
	}
	return s.finish(session), nil
}

// SendVoice transcribes audio and sends the transcript as a chat turn.
func (s *DesignService) SendVoice(ctx context.Context, sessionID string, audio []byte) (SessionView, error) {
	if s.deps.Transcriber == nil {
		return SessionView{}, domain.ErrFeatureDisabled
	}
	if _, err := s.deps.Sessions.Get(sessionID); err != nil {
		return SessionView{}, err
	}

	text, err := s.deps.Transcriber.Transcribe(log.WithSession(ctx, sessionID), audio)
	if err != nil {
		return SessionView{}, fmt.Errorf("transcribe: %w", err)
	}
	return s.SendChat(ctx, sessionID, text)
}

// Speak synthesizes the text of a transcript message.
func (s *DesignService) Speak(ctx context.Context, sessionID, messageID string) ([]byte, error) {
	if s.deps.Synthesizer == nil {
		return nil, domain.ErrFeatureDisabled
	}
	session, err := s.deps.Sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	msg, ok := session.Message(messageID)
	if !ok || strings.TrimSpace(msg.Text) == "" {
		return nil, domain.ErrMessageNotFound
	}
	return s.deps.Synthesizer.Synthesize(log.WithSession(ctx, sessionID), msg.Text)
}

// Reset returns the session to its pre-upload state.
func (s *DesignService) Reset(ctx context.Context, sessionID string) error {
	session, err := s.deps.Sessions.Get(sessionID)
	if err != nil {
		return err
	}
	if err := session.Reset(); err != nil {
		return err
	}
	log.WithCtx(log.WithSession(ctx, sessionID)).Info("Session reset")
	return nil
}

func (s *DesignService) CurrentImage(sessionID string) (domain.Image, error) {
	session, err := s.deps.Sessions.Get(sessionID)
	if err != nil {
		return domain.Image{}, err
	}
	img, ok := session.Current()
	if !ok {
		return domain.Image{}, domain.ErrNoImage
	}
	return img, nil
}

func (s *DesignService) OriginalImage(sessionID string) (domain.Image, error) {
	session, err := s.deps.Sessions.Get(sessionID)
	if err != nil {
		return domain.Image{}, err
	}
	img, ok := session.Original()
	if !ok {
		return domain.Image{}, domain.ErrNoImage
	}
	return img, nil
}

// Digest identifies an image payload, e.g. for download ETags.
func (s *DesignService) Digest(img domain.Image) string {
	return s.digest(img)
}

// Wait blocks until every in-flight style analysis has finished.
func (s *DesignService) Wait() {
	s.analyses.Wait()
}

// finish returns session to idle and reports its state. Operations also
// defer SetLoadingState(LoadingIdle) so a panic never leaves them busy.
func (s *DesignService) finish(session *domain.Session) SessionView {
	session.SetLoadingState(domain.LoadingIdle)
	return s.view(session)
}

func (s *DesignService) begin(ctx context.Context, sessionID, operation string, state domain.LoadingState) (*domain.Session, context.Context, error) {
	session, err := s.deps.Sessions.Get(sessionID)
	if err != nil {
		return nil, ctx, err
	}
	if err := session.Begin(state); err != nil {
		return nil, ctx, err
	}

	ctx = context.WithoutCancel(ctx)
	ctx = log.WithSession(ctx, sessionID)
	ctx = log.WithOperation(ctx, operation)
	return session, ctx, nil
}

func (s *DesignService) chatTurn(ctx context.Context, session *domain.Session, text string) error {
	chat := session.Chat()
	if chat == nil {
		var err error
		chat, err = s.deps.Llm.NewChat(ctx)
		if err != nil {
			return err
		}
		session.SetChat(chat)
	}

	resp, err := chat.SendMessage(ctx, text)
	if err != nil {
		return err
	}

	if len(resp.ToolCalls) == 0 {
		appendModelText(session, resp.Text)
		return nil
	}
	if len(resp.ToolCalls) > 1 {
		log.WithCtx(ctx).Warn("Ignoring extra tool calls", zap.Int("ignored", len(resp.ToolCalls)-1))
	}

	switch call := resp.ToolCalls[0].(type) {
	case domain.UpdateDesign:
		s.updateDesign(ctx, session, chat, call)
	case domain.SuggestPalette:
		s.suggestPalette(ctx, session, chat, call)
	default:
		log.WithCtx(ctx).Warn("Unhandled tool call", zap.String("tool", call.ToolName()))
		appendModelText(session, resp.Text)
	}
	return nil
}

func (s *DesignService) updateDesign(ctx context.Context, session *domain.Session, chat domain.ChatSession, call domain.UpdateDesign) {
	if call.EditInstruction == "" {
		s.reconcile(ctx, session, chat, call, MissingInstructionText, true)
		return
	}

	session.AppendMessage(domain.ChatMessage{
		Role: domain.ModelRole,
		Kind: domain.StatusMessage,
		Text: fmt.Sprintf(UpdatingDesignText, call.EditInstruction),
	})

	current, ok := session.Current()
	if !ok {
		s.reconcile(ctx, session, chat, call, NoImageResult, false)
		session.AppendMessage(domain.ChatMessage{Role: domain.ModelRole, Text: NoImageToUpdateText, IsError: true})
		return
	}

	session.SetLoadingState(domain.LoadingGenerating)
	img, err := s.deps.Llm.GenerateImage(ctx, current, call.EditInstruction)
	session.SetLoadingState(domain.LoadingChatting)

	result := DesignUpdatedResult
	if err != nil {
		log.WithCtx(ctx).Error("Design update failed",
			zap.Error(&domain.ToolReconciliationError{Tool: call.ToolName(), Err: err}))
		result = DesignFailedResult
	} else {
		session.SetCurrent(img)
	}
	s.reconcile(ctx, session, chat, call, result, true)
}

func (s *DesignService) suggestPalette(ctx context.Context, session *domain.Session, chat domain.ChatSession, call domain.SuggestPalette) {
	resp, err := chat.SendToolResult(ctx, domain.ToolResult{
		CallID: call.CallID(),
		Name:   call.ToolName(),
		Result: PaletteShownResult,
	})

	session.AppendMessage(domain.ChatMessage{
		Role:    domain.ModelRole,
		Kind:    domain.PaletteMessage,
		Text:    PaletteText,
		Palette: call.Colors,
	})

	if err != nil {
		s.reconciliationFailed(ctx, session, call, err)
		return
	}
	appendModelText(session, resp.Text)
}

// reconcile sends result for call back to the model and, when appendReply is
// set, appends the model's closing text.
func (s *DesignService) reconcile(ctx context.Context, session *domain.Session, chat domain.ChatSession, call domain.ToolCall, result string, appendReply bool) {
	resp, err := chat.SendToolResult(ctx, domain.ToolResult{
		CallID: call.CallID(),
		Name:   call.ToolName(),
		Result: result,
	})
	if err != nil {
		s.reconciliationFailed(ctx, session, call, err)
		return
	}
	if appendReply {
		appendModelText(session, resp.Text)
	}
}

func (s *DesignService) reconciliationFailed(ctx context.Context, session *domain.Session, call domain.ToolCall, err error) {
	log.WithCtx(ctx).Error("Sending tool result failed",
		zap.Error(&domain.ToolReconciliationError{Tool: call.ToolName(), Err: err}))
	session.AppendMessage(domain.ChatMessage{Role: domain.ModelRole, Text: ConnectionTroubleText, IsError: true})
}

func appendModelText(session *domain.Session, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	session.AppendMessage(domain.ChatMessage{Role: domain.ModelRole, Text: text})
}

func (s *DesignService) view(session *domain.Session) SessionView {
	snap := session.Snapshot()
	return SessionView{
		ID:                snap.ID,
		Messages:          snap.Messages,
		SuggestedStyleIDs: snap.SuggestedStyleIDs,
		LoadingState:      snap.LoadingState,
		Pending:           snap.Pending,
		HasImage:          !snap.Current.IsZero(),
		OriginalDigest:    s.digest(snap.Original),
		CurrentDigest:     s.digest(snap.Current),
		Seq:               snap.Seq,
	}
}

// digest is empty for a missing image.
func (s *DesignService) digest(img domain.Image) string {
	if img.IsZero() {
		return ""
	}
	return s.deps.Hasher.Hash(img.Data)
}

// publish forwards a session event to the broker, keyed by session id.
func (s *DesignService) publish(ev domain.SessionEvent) {
	if s.deps.Broker == nil {
		return
	}
	if ev.Type == domain.ImagesChanged {
		ev.OriginalDigest = s.digest(ev.Original)
		ev.CurrentDigest = s.digest(ev.Current)
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		log.With(zap.String("session_id", ev.SessionID)).Error("Encoding session event failed", zap.Error(err))
		return
	}

	ctx := log.WithSession(context.Background(), ev.SessionID)
	if err := s.deps.Broker.Publish(ctx, domain.SessionEventsTopic, ev.SessionID, payload); err != nil && !errors.Is(err, context.Canceled) {
		log.WithCtx(ctx).Warn("Publishing session event failed", zap.String("event", string(ev.Type)), zap.Error(err))
	}
}
