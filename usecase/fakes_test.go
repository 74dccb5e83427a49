package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/mi6Fsoc/reroom-prototype/adapters/hasher"
	"github.com/mi6Fsoc/reroom-prototype/domain"
	"github.com/mi6Fsoc/reroom-prototype/utils/log"
)

func init() {
	log.SetLogger(zap.NewNop())
}

var testStyles = []domain.Style{
	{ID: "mcm", Name: "Mid-Century Modern", PromptFragment: "Teak wood, organic curves"},
	{ID: "scandi", Name: "Scandinavian", PromptFragment: "Light wood, white walls"},
	{ID: "industrial", Name: "Industrial", PromptFragment: "Exposed brick, metal accents"},
	{ID: "boho", Name: "Bohemian", PromptFragment: "Layered textiles, plants"},
}

type staticCatalog []domain.Style

func (c staticCatalog) List() []domain.Style { return append([]domain.Style(nil), c...) }

func (c staticCatalog) Get(id string) (domain.Style, bool) {
	for _, s := range c {
		if s.ID == id {
			return s, true
		}
	}
	return domain.Style{}, false
}

// passCodec accepts any payload except "bad" and labels it PNG.
type passCodec struct{}

func (passCodec) Normalize(raw []byte) (domain.Image, error) {
	if len(raw) == 0 || string(raw) == "bad" {
		return domain.Image{}, domain.ErrUnsupportedImage
	}
	return domain.Image{Data: raw, MIMEType: "image/png"}, nil
}

type generateCall struct {
	Source      string
	Instruction string
}

type fakeLlm struct {
	mu sync.Mutex

	analyze  func(ctx context.Context, img domain.Image) ([]string, error)
	generate func(ctx context.Context, img domain.Image, instruction string) (domain.Image, error)

	chats      []*fakeChat
	newChatErr error
	generated  []generateCall
}

func (f *fakeLlm) AnalyzeImage(ctx context.Context, img domain.Image, _ []domain.Style) ([]string, error) {
	if f.analyze == nil {
		return []string{}, nil
	}
	return f.analyze(ctx, img)
}

func (f *fakeLlm) GenerateImage(ctx context.Context, img domain.Image, instruction string) (domain.Image, error) {
	f.mu.Lock()
	f.generated = append(f.generated, generateCall{Source: string(img.Data), Instruction: instruction})
	gen := f.generate
	f.mu.Unlock()

	if gen == nil {
		return domain.Image{Data: []byte(string(img.Data) + "+edit"), MIMEType: "image/png"}, nil
	}
	return gen(ctx, img, instruction)
}

// NewChat hands out the scripted chats in order, then empty ones.
func (f *fakeLlm) NewChat(context.Context) (domain.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.newChatErr != nil {
		return nil, f.newChatErr
	}
	for _, c := range f.chats {
		if !c.handedOut {
			c.handedOut = true
			return c, nil
		}
	}
	c := &fakeChat{handedOut: true}
	f.chats = append(f.chats, c)
	return c, nil
}

func (f *fakeLlm) generateCalls() []generateCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]generateCall(nil), f.generated...)
}

type fakeReply struct {
	resp domain.ChatResponse
	err  error
}

// fakeChat answers each send with the next scripted reply.
type fakeChat struct {
	mu        sync.Mutex
	handedOut bool
	replies   []fakeReply
	sent      []string
	results   []domain.ToolResult
}

func (c *fakeChat) next() (domain.ChatResponse, error) {
	if len(c.replies) == 0 {
		return domain.ChatResponse{}, nil
	}
	r := c.replies[0]
	c.replies = c.replies[1:]
	return r.resp, r.err
}

func (c *fakeChat) SendMessage(_ context.Context, text string) (domain.ChatResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	return c.next()
}

func (c *fakeChat) SendToolResult(_ context.Context, result domain.ToolResult) (domain.ChatResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, result)
	return c.next()
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f fakeTranscriber) Transcribe(context.Context, []byte) (string, error) { return f.text, f.err }

type fakeSynthesizer struct{}

func (fakeSynthesizer) Synthesize(_ context.Context, text string) ([]byte, error) {
	return []byte("mp3:" + text), nil
}

var errRemote = errors.New("remote unavailable")

type testEnv struct {
	svc       *DesignService
	llm       *fakeLlm
	sessionID string
}

func newTestEnv(t *testing.T, llm *fakeLlm, opts ...func(*DesignServiceDeps)) testEnv {
	t.Helper()

	registry := NewSessionRegistry(RegistryConfig{})
	t.Cleanup(registry.Shutdown)

	deps := DesignServiceDeps{
		Catalog:  staticCatalog(testStyles),
		Llm:      llm,
		Codec:    passCodec{},
		Hasher:   hasher.New(),
		Sessions: registry,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	svc := NewDesignService(deps)
	t.Cleanup(svc.Wait)

	view := svc.CreateSession(context.Background())
	return testEnv{svc: svc, llm: llm, sessionID: view.ID}
}

// upload loads a room and waits for its analysis.
func (e testEnv) upload(t *testing.T, data string) SessionView {
	t.Helper()
	if _, err := e.svc.Upload(context.Background(), e.sessionID, []byte(data)); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	e.svc.Wait()
	return e.view(t)
}

func (e testEnv) view(t *testing.T) SessionView {
	t.Helper()
	view, err := e.svc.View(e.sessionID)
	if err != nil {
		t.Fatalf("View() error = %v", err)
	}
	return view
}

func (e testEnv) current(t *testing.T) string {
	t.Helper()
	img, err := e.svc.CurrentImage(e.sessionID)
	if err != nil {
		t.Fatalf("CurrentImage() error = %v", err)
	}
	return string(img.Data)
}

func texts(msgs []domain.ChatMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

func lastMessage(t *testing.T, view SessionView) domain.ChatMessage {
	t.Helper()
	if len(view.Messages) == 0 {
		t.Fatal("transcript is empty")
	}
	return view.Messages[len(view.Messages)-1]
}
