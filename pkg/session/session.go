package session

import (
	"sync"
	"sync/atomic"
)

// AudioParams describes the PCM format negotiated for one audio direction.
type AudioParams struct {
	Format        string
	SampleRate    int
	Channels      int
	FrameDuration int // milliseconds
}

// Params carries the server-issued session parameters from a hello reply.
type Params struct {
	ID         string
	Server     string
	Port       int
	Encryption string
	Key        []byte
	Nonce      []byte // 16-byte nonce template
	Audio      AudioParams
}

// Display receives short text events (state names, utterances) for
// presentation. No acknowledgment is expected.
type Display interface {
	ShowText(text string)
}

// Session is the single mutable aggregate for one interaction cycle. It is
// created once at process start and reused across cycles; Terminate clears
// the session-scoped fields without destroying the object.
//
// The dispatch path mutates the session; the UDP receive loop only reads
// status and key material. All fields except seq are guarded by mu. The
// sequence counter is bumped from the audio send path on every frame, so it
// is accessed via sync/atomic instead of taking mu per packet.
type Session struct {
	display Display

	seq atomic.Uint32

	mu         sync.RWMutex
	state      Status
	id         string
	server     string
	port       int
	encryption string
	key        []byte
	nonce      []byte
	audio      AudioParams
}

// New creates a session in the Unknown state. display may be nil.
func New(display Display) *Session {
	return &Session{display: display}
}

// State returns the current status.
func (s *Session) State() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// ID returns the negotiated session id, or "" when no session is active.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Endpoint returns the negotiated UDP endpoint.
func (s *Session) Endpoint() (server string, port int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.server, s.port
}

// Keys returns copies of the session key and nonce template. Both are nil
// when no session is active.
func (s *Session) Keys() (key, nonce []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.key != nil {
		key = append([]byte(nil), s.key...)
	}
	if s.nonce != nil {
		nonce = append([]byte(nil), s.nonce...)
	}
	return key, nonce
}

// AudioParams returns the server-announced audio parameters.
func (s *Session) AudioParams() AudioParams {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audio
}

// SetState applies an administrative transition (Starting, Connecting,
// Upgrading, FatalError and friends) unconditionally.
func (s *Session) SetState(st Status) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.show(st)
}

// AdoptHello installs the server-issued session parameters. Key and nonce
// are copied.
func (s *Session) AdoptHello(p Params) {
	s.mu.Lock()
	s.id = p.ID
	s.server = p.Server
	s.port = p.Port
	s.encryption = p.Encryption
	s.key = append([]byte(nil), p.Key...)
	s.nonce = append([]byte(nil), p.Nonce...)
	s.audio = p.Audio
	s.mu.Unlock()
}

// BeginListening transitions to Listening. Legal from Idle (wake word or
// auto-listen resume) and from Speaking (after the settle delay that follows
// a tts stop). Any other request is ignored.
func (s *Session) BeginListening() bool {
	return s.transition(StatusListening, StatusIdle, StatusSpeaking)
}

// BeginSpeaking transitions to Speaking on a tts start. Legal from Idle and
// Listening; a start received while already Speaking is a no-op.
func (s *Session) BeginSpeaking() bool {
	return s.transition(StatusSpeaking, StatusIdle, StatusListening)
}

// StopSpeaking reports whether a tts stop should take effect. It fires only
// while Speaking and does not change state itself: the caller announces
// auto-listening, waits out the settle delay and then calls BeginListening.
func (s *Session) StopSpeaking() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StatusSpeaking
}

// Terminate clears all session-scoped fields (id, endpoint, key material,
// audio params, sequence counter) and returns to Idle. It is idempotent and
// is the single cancellation point for the data plane: the caller must close
// the audio link before or together with this call.
func (s *Session) Terminate() {
	s.mu.Lock()
	s.id = ""
	s.server = ""
	s.port = 0
	s.encryption = ""
	s.key = nil
	s.nonce = nil
	s.audio = AudioParams{}
	s.state = StatusIdle
	s.mu.Unlock()
	s.seq.Store(0)
	s.show(StatusIdle)
}

// NextSequence returns the next outbound packet sequence number. The counter
// is strictly monotonic per session, starts at 1, and is reset by Terminate.
func (s *Session) NextSequence() uint32 {
	return s.seq.Add(1)
}

func (s *Session) transition(to Status, from ...Status) bool {
	s.mu.Lock()
	ok := false
	for _, f := range from {
		if s.state == f {
			ok = true
			break
		}
	}
	if ok {
		s.state = to
	}
	s.mu.Unlock()
	if ok {
		s.show(to)
	}
	return ok
}

func (s *Session) show(st Status) {
	if s.display != nil {
		s.display.ShowText(st.String())
	}
}
