// Package session holds per-user conversation state for one traversal of
// the intake form.
package session

import (
	"context"
	"sync"

	"github.com/looplab/fsm"
)

// Stages of the intake form, in traversal order.
const (
	StageCity     = "city"
	StagePoint    = "point"
	StageDate     = "date"
	StageUpload   = "upload"
	StageSupplier = "supplier"
	StageInvoice  = "invoice"
)

// Stage machine transitions. City selection branches on whether the chosen
// city carries a point list, so it is two events with distinct destinations.
const (
	EventCityDirect   = "choose_city_direct"
	EventCityBranch   = "choose_city_branch"
	EventPoint        = "choose_point"
	EventDate         = "choose_date"
	EventFinishUpload = "finish_upload"
	EventSupplier     = "set_supplier"
	EventBackToCity   = "back_to_city"
	EventBackToPoint  = "back_to_point"
)

// Artifact is an opaque reference to a photograph still held by the chat
// platform, pending transfer to remote storage.
type Artifact struct {
	FileID string
}

// Answers collects the fields gathered as the form advances. A field is the
// empty string until its stage has been passed.
type Answers struct {
	City     string
	Point    string
	Date     string
	Supplier string
	Invoice  string
}

// Session is the conversation state of a single user identity. Mu serializes
// event handling for the user; distinct sessions are independent.
type Session struct {
	Mu sync.Mutex

	UserID    string
	Answers   Answers
	Artifacts []Artifact

	// LastRenderKey fingerprints the most recent option render, so an
	// identical re-render can be suppressed instead of hitting the transport.
	LastRenderKey string

	machine *fsm.FSM
}

// New returns a fresh session at the city stage.
func New(userID string) *Session {
	return &Session{UserID: userID, machine: newMachine()}
}

func newMachine() *fsm.FSM {
	return fsm.NewFSM(
		StageCity,
		fsm.Events{
			{Name: EventCityDirect, Src: []string{StageCity}, Dst: StageDate},
			{Name: EventCityBranch, Src: []string{StageCity}, Dst: StagePoint},
			{Name: EventPoint, Src: []string{StagePoint}, Dst: StageDate},
			{Name: EventDate, Src: []string{StageDate}, Dst: StageUpload},
			{Name: EventFinishUpload, Src: []string{StageUpload}, Dst: StageSupplier},
			{Name: EventSupplier, Src: []string{StageSupplier}, Dst: StageInvoice},
			{Name: EventBackToCity, Src: []string{StagePoint, StageDate}, Dst: StageCity},
			{Name: EventBackToPoint, Src: []string{StageDate}, Dst: StagePoint},
		},
		fsm.Callbacks{},
	)
}

// Stage returns the current stage of the form.
func (s *Session) Stage() string { return s.machine.Current() }

// Fire advances the stage machine by one transition event.
func (s *Session) Fire(ctx context.Context, event string) error {
	return s.machine.Event(ctx, event)
}

// Reset discards all accumulated state and returns the session to the city
// stage. The caller must hold Mu.
func (s *Session) Reset() {
	s.Answers = Answers{}
	s.Artifacts = nil
	s.LastRenderKey = ""
	s.machine.SetState(StageCity)
}

// Store is the keyed conversation state store: one session per user
// identity, created lazily on first use, memory-only.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore returns an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Get returns the session for the user identity, creating it when absent.
func (st *Store) Get(userID string) *Session {
	st.mu.RLock()
	s, ok := st.sessions[userID]
	st.mu.RUnlock()
	if ok {
		return s
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok = st.sessions[userID]; ok {
		return s
	}
	s = New(userID)
	st.sessions[userID] = s
	return s
}

// Len reports the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
