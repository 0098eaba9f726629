// Package chat holds the session state machine and the completion
// orchestrator: the lifecycle from identity entry through naming to an
// active conversation, with the authoritative store and local cache kept
// in step after every mutation.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/calmind-app/calmind/internal/identity"
	"github.com/calmind-app/calmind/internal/localcache"
	"github.com/calmind-app/calmind/internal/persona"
	"github.com/calmind-app/calmind/internal/storage"
)

// State is the session lifecycle position. Operations outside the legal
// state are rejected defensively even though the UI should not offer them.
type State string

const (
	StateAwaitingIdentity      State = "awaiting_identity"
	StateAwaitingCompanionName State = "awaiting_companion_name"
	StateActive                State = "active"
)

var (
	// ErrWrongState rejects an operation that is not legal in the current
	// session state.
	ErrWrongState = errors.New("operation not allowed in current state")

	// ErrWipeNotConfirmed rejects a history wipe without a valid
	// confirmation token.
	ErrWipeNotConfirmed = errors.New("history wipe not confirmed")
)

// WipePhrase is the exact confirmation phrase a caller must present to
// build a valid wipe token.
const WipePhrase = "erase everything"

// WipeConfirmation gates DeleteHistory. It can only be built through
// ConfirmWipe, so a bare boolean from a dialog can never reach the store.
type WipeConfirmation struct {
	ok bool
}

// ConfirmWipe exchanges the confirmation phrase for a wipe token.
func ConfirmWipe(phrase string) (WipeConfirmation, error) {
	if strings.TrimSpace(phrase) != WipePhrase {
		return WipeConfirmation{}, ErrWipeNotConfirmed
	}
	return WipeConfirmation{ok: true}, nil
}

// Resolver resolves an email to a durable profile. Implemented by
// identity.Resolver.
type Resolver interface {
	Resolve(ctx context.Context, email, desiredName string) (storage.Profile, bool, error)
}

// HistoryStore is the slice of the authoritative store the session needs.
// Implemented by storage.Store.
type HistoryStore interface {
	AppendMessage(m storage.Message) error
	LoadHistory(owner string) ([]storage.Message, error)
	DeleteHistory(owner string) (int64, error)
	SetCompanionName(email, name string) error
}

// Cache is the ephemeral conversation mirror. Implemented by
// localcache.Cache.
type Cache interface {
	Load() (localcache.Snapshot, error)
	Save(localcache.Snapshot) error
	Clear() error
}

// Snapshot is the read-only view handed to the presentation layer.
type Snapshot struct {
	State         State             `json:"state"`
	Email         string            `json:"email,omitempty"`
	CompanionName string            `json:"companion_name"`
	History       []storage.Message `json:"history"`
	PendingReply  bool              `json:"pending_reply"`
	Unsynced      bool              `json:"unsynced"`
}

// Session drives one user's conversation. All collaborators are injected;
// nothing here is a process-wide singleton.
type Session struct {
	resolver Resolver
	store    HistoryStore
	cache    Cache
	orch     *Orchestrator
	now      func() time.Time
	newID    func() string

	mu            sync.Mutex
	state         State
	email         string
	companionName string
	history       []storage.Message
	pendingReply  bool
	unsynced      bool
}

// NewSession creates a Session in AwaitingIdentity.
func NewSession(resolver Resolver, store HistoryStore, cache Cache, orch *Orchestrator) *Session {
	return &Session{
		resolver: resolver,
		store:    store,
		cache:    cache,
		orch:     orch,
		now:      time.Now,
		newID:    uuid.NewString,
		state:    StateAwaitingIdentity,
	}
}

// Snapshot returns a copy of the current session view.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	hist := make([]storage.Message, len(s.history))
	copy(hist, s.history)
	return Snapshot{
		State:         s.state,
		Email:         s.email,
		CompanionName: persona.DisplayName(s.companionName),
		History:       hist,
		PendingReply:  s.pendingReply,
		Unsynced:      s.unsynced,
	}
}

// ResolveIdentity establishes the user's identity from an email, upserting
// the remote profile and seeding history. Legal only in AwaitingIdentity.
// When the identity store is unreachable the session degrades to
// local-only instead of blocking: cache seeds the state and the unsynced
// flag is raised until a remote call succeeds again.
func (s *Session) ResolveIdentity(ctx context.Context, email, desiredName string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAwaitingIdentity {
		return s.snapshotLocked(), ErrWrongState
	}

	p, existed, err := s.resolver.Resolve(ctx, email, desiredName)
	switch {
	case errors.Is(err, identity.ErrInvalidIdentity):
		return s.snapshotLocked(), err
	case errors.Is(err, identity.ErrStoreUnavailable):
		s.resolveDegradedLocked(email, desiredName, err)
		return s.snapshotLocked(), nil
	case err != nil:
		return s.snapshotLocked(), err
	}

	s.email = p.Email
	s.companionName = p.CompanionName

	// Remote is authoritative: a successful load replaces the cache.
	hist, herr := s.store.LoadHistory(p.Email)
	if herr != nil {
		slog.Warn("history load failed, falling back to local cache", "owner", p.Email, "error", herr)
		s.history = s.cachedHistoryLocked(p.Email)
		s.unsynced = true
	} else {
		s.history = hist
		s.unsynced = false
	}

	slog.Info("identity resolved", "owner", p.Email, "existed", existed, "name_known", p.CompanionName != "")

	if p.CompanionName != "" {
		s.enterActiveLocked()
	} else {
		s.state = StateAwaitingCompanionName
		s.saveCacheLocked()
	}
	return s.snapshotLocked(), nil
}

// resolveDegradedLocked seeds a local-only session from the cache when the
// identity store cannot be reached.
func (s *Session) resolveDegradedLocked(email, desiredName string, cause error) {
	norm := identity.Normalize(email)
	slog.Warn("identity store unavailable, continuing local-only", "owner", norm, "error", cause)

	s.email = norm
	s.unsynced = true
	s.companionName = strings.TrimSpace(desiredName)

	if snap, err := s.cache.Load(); err == nil && snap.Email == norm {
		s.history = snap.History
		if s.companionName == "" {
			s.companionName = snap.CompanionName
		}
	}

	if s.companionName != "" {
		s.enterActiveLocked()
	} else {
		s.state = StateAwaitingCompanionName
		s.saveCacheLocked()
	}
}

// Resume restores a previous session from the local cache, the way a page
// reload restores from browser storage. A cache without an email leaves
// the session at identity entry.
func (s *Session) Resume(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateAwaitingIdentity {
		s.mu.Unlock()
		return ErrWrongState
	}
	snap, err := s.cache.Load()
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("loading cache: %w", err)
	}
	if snap.Email == "" {
		return nil
	}

	_, err = s.ResolveIdentity(ctx, snap.Email, snap.CompanionName)
	return err
}

// SetCompanionName records the user's chosen name during onboarding.
// Legal only in AwaitingCompanionName; Begin completes the step.
func (s *Session) SetCompanionName(name string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAwaitingCompanionName {
		return s.snapshotLocked(), ErrWrongState
	}

	name = strings.TrimSpace(name)
	if name != "" {
		s.companionName = name
		if err := s.store.SetCompanionName(s.email, name); err != nil {
			slog.Warn("companion name not persisted remotely", "owner", s.email, "error", err)
			s.unsynced = true
		} else {
			s.unsynced = false
		}
	}
	s.saveCacheLocked()
	return s.snapshotLocked(), nil
}

// Begin moves the onboarded session into Active.
func (s *Session) Begin(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAwaitingCompanionName {
		return s.snapshotLocked(), ErrWrongState
	}
	if err := ctx.Err(); err != nil {
		return s.snapshotLocked(), err
	}
	s.enterActiveLocked()
	return s.snapshotLocked(), nil
}

// enterActiveLocked transitions to Active, seeding the deterministic
// greeting iff the history is empty so a resumed session never greets
// twice.
func (s *Session) enterActiveLocked() {
	s.state = StateActive
	if len(s.history) == 0 {
		greeting := storage.Message{
			ID:        s.newID(),
			Owner:     s.email,
			Sender:    storage.SenderCompanion,
			Body:      Greeting(s.companionName),
			CreatedAt: s.now(),
		}
		s.history = append(s.history, greeting)
		s.appendRemoteLocked(greeting)
	}
	s.saveCacheLocked()
}

// Greeting is the deterministic first message the companion sends into an
// empty conversation.
func Greeting(companionName string) string {
	return fmt.Sprintf("Hi, I'm %s. This is a quiet place for heavy thoughts. What's on your mind?",
		persona.DisplayName(companionName))
}

// SendMessage runs one conversational turn: append the user's message
// (locally, to cache, and remotely best-effort), mark a reply pending,
// ask the orchestrator, then append the companion's reply or fallback.
// Whitespace-only input is a no-op with no store call. The lock is
// released around the completion call so snapshots taken meanwhile see the
// user's message and the pending flag.
func (s *Session) SendMessage(ctx context.Context, text string) (Snapshot, error) {
	s.mu.Lock()
	if s.state != StateActive {
		defer s.mu.Unlock()
		return s.snapshotLocked(), ErrWrongState
	}

	text = strings.TrimSpace(text)
	if text == "" {
		defer s.mu.Unlock()
		return s.snapshotLocked(), nil
	}

	userMsg := storage.Message{
		ID:        s.newID(),
		Owner:     s.email,
		Sender:    storage.SenderUser,
		Body:      text,
		CreatedAt: s.now(),
	}
	s.history = append(s.history, userMsg)
	s.appendRemoteLocked(userMsg)
	s.saveCacheLocked()
	s.pendingReply = true

	owner := s.email
	name := s.companionName
	hist := make([]storage.Message, len(s.history))
	copy(hist, s.history)
	s.mu.Unlock()

	reply := s.orch.Reply(ctx, name, hist)

	s.mu.Lock()
	defer s.mu.Unlock()

	// The session may have been signed out while the reply was in flight;
	// a stale reply is dropped rather than appended to someone else's
	// timeline.
	if s.state != StateActive || s.email != owner {
		s.pendingReply = false
		return s.snapshotLocked(), nil
	}

	replyMsg := storage.Message{
		ID:        s.newID(),
		Owner:     owner,
		Sender:    storage.SenderCompanion,
		Body:      reply,
		CreatedAt: s.now(),
	}
	s.history = append(s.history, replyMsg)
	s.appendRemoteLocked(replyMsg)
	s.saveCacheLocked()
	s.pendingReply = false

	return s.snapshotLocked(), nil
}

// RenameCompanion changes the companion's display name mid-conversation.
func (s *Session) RenameCompanion(name string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return s.snapshotLocked(), ErrWrongState
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return s.snapshotLocked(), nil
	}

	s.companionName = name
	if err := s.store.SetCompanionName(s.email, name); err != nil {
		slog.Warn("companion rename not persisted remotely", "owner", s.email, "error", err)
		s.unsynced = true
	} else {
		s.unsynced = false
	}
	s.saveCacheLocked()
	return s.snapshotLocked(), nil
}

// ClearScreen wipes the displayed history only. Remote rows are untouched
// and reappear on the next sign-in.
func (s *Session) ClearScreen() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return s.snapshotLocked(), ErrWrongState
	}
	s.history = nil
	s.saveCacheLocked()
	return s.snapshotLocked(), nil
}

// DeleteHistory irreversibly removes every stored message for the current
// owner, remote and local. The session stays Active with an empty
// timeline. Unlike ordinary appends, a store failure here is surfaced:
// the user asked for their data to be erased and must know if it was not.
func (s *Session) DeleteHistory(confirm WipeConfirmation) (int64, error) {
	if !confirm.ok {
		return 0, ErrWipeNotConfirmed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return 0, ErrWrongState
	}

	n, err := s.store.DeleteHistory(s.email)
	if err != nil {
		slog.Error("history wipe failed", "owner", s.email, "error", err)
		return 0, fmt.Errorf("deleting history: %w", err)
	}

	s.history = nil
	s.unsynced = false
	s.saveCacheLocked()
	slog.Info("history wiped", "owner", s.email, "deleted", n)
	return n, nil
}

// SignOut restarts the lifecycle: back to AwaitingIdentity with the local
// cache cleared. Remote rows are untouched.
func (s *Session) SignOut() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.cache.Clear(); err != nil {
		slog.Warn("cache clear failed on sign-out", "error", err)
	}
	s.state = StateAwaitingIdentity
	s.email = ""
	s.companionName = ""
	s.history = nil
	s.pendingReply = false
	s.unsynced = false
	return s.snapshotLocked()
}

// cachedHistoryLocked returns the cached history iff the cache belongs to
// owner; a stranger's cache is never replayed into a session.
func (s *Session) cachedHistoryLocked(owner string) []storage.Message {
	snap, err := s.cache.Load()
	if err != nil || snap.Email != owner {
		return nil
	}
	return snap.History
}

// appendRemoteLocked writes a message row best-effort. Failure is
// non-fatal: the message stays in local history and the session is marked
// unsynced until a remote write lands again.
func (s *Session) appendRemoteLocked(m storage.Message) {
	if err := s.store.AppendMessage(m); err != nil {
		slog.Warn("message not persisted remotely", "owner", m.Owner, "sender", m.Sender, "error", err)
		s.unsynced = true
		return
	}
	s.unsynced = false
}

func (s *Session) saveCacheLocked() {
	snap := localcache.Snapshot{
		Email:         s.email,
		CompanionName: s.companionName,
		History:       s.history,
	}
	if err := s.cache.Save(snap); err != nil {
		slog.Warn("cache write failed", "error", err)
	}
}
