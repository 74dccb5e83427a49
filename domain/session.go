package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	UserRole   Role = "user"
	ModelRole  Role = "model"
	SystemRole Role = "system"
)

type MessageKind string

const (
	TextMessage    MessageKind = "text"
	StatusMessage  MessageKind = "status"
	PaletteMessage MessageKind = "palette"
)

type PaletteColor struct {
	Name string `json:"name"`
	Hex  string `json:"hex"`
}

type ChatMessage struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Kind      MessageKind    `json:"kind"`
	Text      string         `json:"text"`
	Timestamp time.Time      `json:"timestamp"`
	Palette   []PaletteColor `json:"palette,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

type LoadingState string

const (
	LoadingIdle       LoadingState = "idle"
	LoadingUploading  LoadingState = "uploading"
	LoadingGenerating LoadingState = "generating"
	LoadingChatting   LoadingState = "chatting"
)

// PendingGeneration is a staged style application waiting for the user to
// confirm or edit its instruction.
type PendingGeneration struct {
	Style       Style  `json:"style"`
	Instruction string `json:"instruction"`
}

type EventType string

const (
	MessageAppended     EventType = "message"
	LoadingStateChanged EventType = "loading_state"
	ImagesChanged       EventType = "images"
	SuggestionsChanged  EventType = "suggestions"
	PendingChanged      EventType = "pending"
	SessionReset        EventType = "reset"
)

// SessionEvent describes one mutation of a Session.
type SessionEvent struct {
	Type              EventType          `json:"type"`
	SessionID         string             `json:"session_id"`
	Message           *ChatMessage       `json:"message,omitempty"`
	LoadingState      LoadingState       `json:"loading_state,omitempty"`
	SuggestedStyleIDs []string           `json:"suggested_style_ids,omitempty"`
	Pending           *PendingGeneration `json:"pending,omitempty"`
	OriginalDigest    string             `json:"original_digest,omitempty"`
	CurrentDigest     string             `json:"current_digest,omitempty"`
	Timestamp         time.Time          `json:"timestamp"`

	// Seq orders the events of one session. A snapshot with Seq n already
	// reflects every event up to n.
	Seq uint64 `json:"seq"`

	// Images carried by ImagesChanged, for observers that digest them.
	Original Image `json:"-"`
	Current  Image `json:"-"`
}

// SessionSnapshot is a copy of the session state at one instant.
type SessionSnapshot struct {
	ID                string
	Original          Image
	Current           Image
	Messages          []ChatMessage
	SuggestedStyleIDs []string
	LoadingState      LoadingState
	Pending           *PendingGeneration
	Seq               uint64
}

// Session is the authoritative state of one room-redesign conversation.
// It is mutated only by the design session orchestrator. Every mutation is
// reported to the observer after the lock is released.
type Session struct {
	mu        sync.Mutex
	id        string
	original  Image
	current   Image
	messages  []ChatMessage
	suggested []string
	loading   LoadingState
	pending   *PendingGeneration
	chat      ChatSession
	// epoch increments on every upload and reset; asynchronous work started
	// under an older epoch must not touch the session.
	epoch    uint64
	seq      uint64
	observer func(SessionEvent)
	now      func() time.Time
}

func NewSession(id string) *Session {
	return &Session{
		id:       id,
		messages: make([]ChatMessage, 0),
		loading:  LoadingIdle,
		now:      time.Now,
	}
}

func (s *Session) ID() string {
	return s.id
}

// SetObserver registers fn to receive every SessionEvent.
func (s *Session) SetObserver(fn func(SessionEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = fn
}

// Begin moves the session from idle to state. It fails with ErrBusy when
// another operation is in flight.
func (s *Session) Begin(state LoadingState) error {
	var err error
	s.update(func() []SessionEvent {
		if s.loading != LoadingIdle {
			err = ErrBusy
			return nil
		}
		s.loading = state
		return []SessionEvent{{Type: LoadingStateChanged, LoadingState: state}}
	})
	return err
}

func (s *Session) SetLoadingState(state LoadingState) {
	s.update(func() []SessionEvent {
		if s.loading == state {
			return nil
		}
		s.loading = state
		return []SessionEvent{{Type: LoadingStateChanged, LoadingState: state}}
	})
}

func (s *Session) LoadingState() LoadingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// AppendMessage adds msg to the transcript, filling in id, timestamp and
// kind when unset, and returns the stored message.
func (s *Session) AppendMessage(msg ChatMessage) ChatMessage {
	s.update(func() []SessionEvent {
		msg = s.appendLocked(msg)
		return []SessionEvent{messageEvent(msg)}
	})
	return msg
}

func (s *Session) appendLocked(msg ChatMessage) ChatMessage {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	if msg.Kind == "" {
		msg.Kind = TextMessage
	}
	s.messages = append(s.messages, msg)
	return msg
}

func (s *Session) SetImages(original, current Image) {
	s.update(func() []SessionEvent {
		s.original = original
		s.current = current
		return []SessionEvent{{Type: ImagesChanged, Original: original, Current: current}}
	})
}

// SetCurrent replaces the current image, keeping the original.
func (s *Session) SetCurrent(img Image) {
	s.update(func() []SessionEvent {
		s.current = img
		return []SessionEvent{{Type: ImagesChanged, Original: s.original, Current: img}}
	})
}

func (s *Session) Current() (Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, !s.current.IsZero()
}

func (s *Session) Original() (Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.original, !s.original.IsZero()
}

// LoadRoom starts a fresh design conversation around img: both image copies
// are set, the transcript becomes the single welcome message, chat replaces
// the previous conversation and suggestions and pending state are cleared.
// It returns the new epoch.
func (s *Session) LoadRoom(img Image, welcome ChatMessage, chat ChatSession) uint64 {
	var epoch uint64
	s.update(func() []SessionEvent {
		s.epoch++
		epoch = s.epoch
		s.original = img
		s.current = img
		s.messages = make([]ChatMessage, 0, 1)
		s.suggested = nil
		s.pending = nil
		s.chat = chat
		welcome = s.appendLocked(welcome)
		return []SessionEvent{
			{Type: SessionReset},
			{Type: ImagesChanged, Original: img, Current: img},
			messageEvent(welcome),
		}
	})
	return epoch
}

// SetSuggestedStyles stores ids and appends note, both only if no upload or
// reset happened since epoch. It reports whether the update was applied.
func (s *Session) SetSuggestedStyles(epoch uint64, ids []string, note ChatMessage) bool {
	applied := false
	s.update(func() []SessionEvent {
		if s.epoch != epoch {
			return nil
		}
		applied = true
		s.suggested = append([]string(nil), ids...)
		note = s.appendLocked(note)
		return []SessionEvent{
			{Type: SuggestionsChanged, SuggestedStyleIDs: append([]string(nil), ids...)},
			messageEvent(note),
		}
	})
	return applied
}

func (s *Session) SuggestedStyles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.suggested...)
}

func (s *Session) Chat() ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chat
}

func (s *Session) SetChat(chat ChatSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chat = chat
}

func (s *Session) Pending() (PendingGeneration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return PendingGeneration{}, false
	}
	return *s.pending, true
}

// StagePending stages p for confirmation. It fails with ErrBusy while an
// operation is in flight and with ErrNoImage before an upload.
func (s *Session) StagePending(p PendingGeneration) error {
	var err error
	s.update(func() []SessionEvent {
		if s.loading != LoadingIdle {
			err = ErrBusy
			return nil
		}
		if s.current.IsZero() {
			err = ErrNoImage
			return nil
		}
		staged := p
		s.pending = &staged
		return []SessionEvent{{Type: PendingChanged, Pending: &p}}
	})
	return err
}

// SetPending stages p, or clears the pending generation when p is nil.
func (s *Session) SetPending(p *PendingGeneration) {
	s.update(func() []SessionEvent {
		if p == nil && s.pending == nil {
			return nil
		}
		var staged *PendingGeneration
		if p != nil {
			cp := *p
			staged = &cp
		}
		s.pending = staged
		ev := SessionEvent{Type: PendingChanged}
		if staged != nil {
			cp := *staged
			ev.Pending = &cp
		}
		return []SessionEvent{ev}
	})
}

// Reset returns the session to its pre-upload state in one step. It fails
// with ErrBusy while an operation is in flight.
func (s *Session) Reset() error {
	var err error
	s.update(func() []SessionEvent {
		if s.loading != LoadingIdle {
			err = ErrBusy
			return nil
		}
		s.epoch++
		s.original = Image{}
		s.current = Image{}
		s.messages = make([]ChatMessage, 0)
		s.suggested = nil
		s.pending = nil
		s.chat = nil
		return []SessionEvent{{Type: SessionReset}}
	})
	return err
}

// Message looks up a transcript message by id.
func (s *Session) Message(id string) (ChatMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.messages {
		if msg.ID == id {
			return msg, true
		}
	}
	return ChatMessage{}, false
}

func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := SessionSnapshot{
		ID:                s.id,
		Original:          s.original,
		Current:           s.current,
		Messages:          append([]ChatMessage(nil), s.messages...),
		SuggestedStyleIDs: append([]string(nil), s.suggested...),
		LoadingState:      s.loading,
		Seq:               s.seq,
	}
	if s.pending != nil {
		p := *s.pending
		snap.Pending = &p
	}
	return snap
}

func (s *Session) update(fn func() []SessionEvent) {
	s.mu.Lock()
	events := fn()
	for i := range events {
		s.seq++
		events[i].Seq = s.seq
		events[i].SessionID = s.id
		events[i].Timestamp = s.now()
	}
	observer := s.observer
	s.mu.Unlock()

	if observer == nil {
		return
	}
	for _, ev := range events {
		observer(ev)
	}
}

func messageEvent(msg ChatMessage) SessionEvent {
	return SessionEvent{Type: MessageAppended, Message: &msg}
}
