// Package session implements the vDC API session state machine: one
// TCP connection, AWAITING_HELLO -> ACTIVE -> CLOSED, message-id
// allocation and correlation of outgoing requests to their responses.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/digitalstrom/vdchost/pkg/dsuid"
	"github.com/digitalstrom/vdchost/pkg/vdcapi"
)

// SupportedAPIVersion is the minimum vDC API version this host accepts.
const SupportedAPIVersion = 2

// DefaultRequestTimeout bounds how long SendRequest waits for a reply.
const DefaultRequestTimeout = 30 * time.Second

// State is a session's position in the AWAITING_HELLO/ACTIVE/CLOSED
// state machine.
type State int

const (
	AwaitingHello State = iota
	Active
	Closed
)

func (s State) String() string {
	switch s {
	case Active:
		return "ACTIVE"
	case Closed:
		return "CLOSED"
	default:
		return "AWAITING_HELLO"
	}
}

// Handler reacts to messages the session state machine does not
// handle internally: GetProperty/SetProperty requests, scene and
// control notifications, and generic requests.
type Handler interface {
	HandleMessage(sess *Session, msg *vdcapi.Message)
}

// Session wraps one TCP connection and runs the vDC API protocol over it.
type Session struct {
	conn      net.Conn
	hostDSUID dsuid.DsUid
	handler   Handler

	mu              sync.Mutex
	state           State
	vdsmDSUID       dsuid.DsUid
	apiVersion      int
	lastKnownID     uint32
	pendingRequests map[uint32]chan *vdcapi.Message
	pingCount       int

	closeOnce sync.Once
	closed    chan struct{}

	onActive func(*Session)
}

// New creates a session wrapping conn. handler receives every message
// the state machine does not resolve on its own.
func New(conn net.Conn, hostDSUID dsuid.DsUid, handler Handler) *Session {
	return &Session{
		conn:            conn,
		hostDSUID:       hostDSUID,
		handler:         handler,
		state:           AwaitingHello,
		pendingRequests: make(map[uint32]chan *vdcapi.Message),
		closed:          make(chan struct{}),
	}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// VdsmDSUID returns the peer vdSM's dSUID, valid once ACTIVE.
func (s *Session) VdsmDSUID() dsuid.DsUid {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vdsmDSUID
}

// PingCount returns how many Ping messages this session has answered.
func (s *Session) PingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingCount
}

// RemoteAddr exposes the peer address for logging.
func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// OnActive registers a callback fired every time hello completes and
// the session (re-)enters ACTIVE, including on an implicit re-hello.
// It runs on its own goroutine, started after the hello response is
// written, so it may send requests and wait for their responses.
func (s *Session) OnActive(fn func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onActive = fn
}

// Run drives the receive loop until the connection closes, the
// context is cancelled, or a framing/protocol error occurs. It always
// returns with the session CLOSED and all pending requests cancelled.
func (s *Session) Run(ctx context.Context) error {
	defer s.teardown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		payload, err := vdcapi.ReadFrame(s.conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("session: read: %w", err)
		}

		msg, err := vdcapi.Decode(payload)
		if err != nil {
			log.Warn().Err(err).Msg("session: dropping undecodable message")
			continue
		}

		s.dispatch(msg)

		if s.State() == Closed {
			return nil
		}
	}
}

func (s *Session) dispatch(msg *vdcapi.Message) {
	if msg.MessageID > 0 {
		s.trackMessageID(msg.MessageID)
	}

	if msg.Kind == vdcapi.GenericResponse && msg.MessageID > 0 {
		if s.completePending(msg.MessageID, msg) {
			return
		}
	}

	if msg.Kind == vdcapi.VdsmRequestHello {
		s.handleHello(msg)
		return
	}

	if s.State() == AwaitingHello {
		s.sendError(msg.MessageID, vdcapi.ErrServiceNotAvailable)
		return
	}

	switch msg.Kind {
	case vdcapi.VdsmSendPing:
		s.handlePing(msg)
	case vdcapi.VdsmSendBye:
		s.handleBye(msg)
	default:
		if s.handler != nil {
			s.handler.HandleMessage(s, msg)
		}
	}
}

func (s *Session) handleHello(msg *vdcapi.Message) {
	if msg.Hello == nil {
		s.sendError(msg.MessageID, vdcapi.ErrMissingData)
		return
	}
	if msg.Hello.APIVersion < SupportedAPIVersion {
		s.sendError(msg.MessageID, vdcapi.ErrIncompatibleAPI)
		s.mu.Lock()
		s.state = Closed
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	wasActive := s.state == Active
	s.vdsmDSUID = msg.Hello.DSUID
	s.apiVersion = msg.Hello.APIVersion
	s.state = Active
	s.mu.Unlock()

	if wasActive {
		log.Info().Str("vdsm", msg.Hello.DSUID.String()).Msg("session: re-hello, resetting vdSM identity")
	}

	s.sendRaw(&vdcapi.Message{
		Kind:          vdcapi.VdcResponseHello,
		MessageID:     msg.MessageID,
		HelloResponse: &vdcapi.HelloResponseMsg{DSUID: s.hostDSUID},
	})

	s.mu.Lock()
	onActive := s.onActive
	s.mu.Unlock()
	if onActive != nil {
		go onActive(s)
	}
}

func (s *Session) handlePing(msg *vdcapi.Message) {
	s.mu.Lock()
	s.pingCount++
	s.mu.Unlock()

	target := s.hostDSUID
	if msg.Ping != nil && !msg.Ping.DSUID.IsEmpty() {
		target = msg.Ping.DSUID
	}
	s.sendRaw(&vdcapi.Message{
		Kind: vdcapi.VdcSendPong,
		Pong: &vdcapi.PongMsg{DSUID: target},
	})
}

func (s *Session) handleBye(msg *vdcapi.Message) {
	s.sendRaw(&vdcapi.Message{
		Kind:            vdcapi.GenericResponse,
		MessageID:       msg.MessageID,
		GenericResponse: &vdcapi.GenericResponseMsg{Code: vdcapi.ErrOK},
	})
	s.mu.Lock()
	s.state = Closed
	s.mu.Unlock()
}

func (s *Session) sendError(messageID uint32, code vdcapi.ResultCode) {
	s.sendRaw(&vdcapi.Message{
		Kind:            vdcapi.GenericResponse,
		MessageID:       messageID,
		GenericResponse: &vdcapi.GenericResponseMsg{Code: code},
	})
}

// trackMessageID records the highest message id seen from the peer.
func (s *Session) trackMessageID(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id > s.lastKnownID {
		s.lastKnownID = id
	}
}

func (s *Session) nextMessageID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastKnownID++
	return s.lastKnownID
}

func (s *Session) completePending(id uint32, msg *vdcapi.Message) bool {
	s.mu.Lock()
	ch, ok := s.pendingRequests[id]
	if ok {
		delete(s.pendingRequests, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	ch <- msg
	return true
}

// SendRequest allocates a message id, writes msg, and blocks until the
// correlated response arrives or timeout elapses. Returns an error if
// the session is not ACTIVE.
func (s *Session) SendRequest(ctx context.Context, msg *vdcapi.Message, timeout time.Duration) (*vdcapi.Message, error) {
	if s.State() != Active {
		return nil, errors.New("session: not active")
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	id := s.nextMessageID()
	msg.MessageID = id

	ch := make(chan *vdcapi.Message, 1)
	s.mu.Lock()
	s.pendingRequests[id] = ch
	s.mu.Unlock()

	if err := s.writeMessage(msg); err != nil {
		s.mu.Lock()
		delete(s.pendingRequests, id)
		s.mu.Unlock()
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		s.mu.Lock()
		delete(s.pendingRequests, id)
		s.mu.Unlock()
		return nil, fmt.Errorf("session: request %d timed out", id)
	case <-s.closed:
		return nil, errors.New("session: closed while awaiting response")
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pendingRequests, id)
		s.mu.Unlock()
		return nil, ctx.Err()
	}
}

// SendNotification writes msg with message_id=0 and requires ACTIVE.
func (s *Session) SendNotification(msg *vdcapi.Message) error {
	if s.State() != Active {
		return errors.New("session: not active")
	}
	msg.MessageID = 0
	return s.writeMessage(msg)
}

// Reply writes msg as-is, preserving whatever message id the caller
// set — used to answer a correlated request (GetProperty, SetProperty,
// ...) forwarded to Handler.HandleMessage, where the reply must carry
// the same message id the vdSM's request used. Requires ACTIVE.
func (s *Session) Reply(msg *vdcapi.Message) error {
	if s.State() != Active {
		return errors.New("session: not active")
	}
	return s.writeMessage(msg)
}

// sendRaw writes msg unconditionally (used for hello/ping/bye replies
// that must work before the session reaches ACTIVE).
func (s *Session) sendRaw(msg *vdcapi.Message) {
	if err := s.writeMessage(msg); err != nil {
		log.Warn().Err(err).Msg("session: failed to send reply")
	}
}

func (s *Session) writeMessage(msg *vdcapi.Message) error {
	payload, err := vdcapi.Encode(msg)
	if err != nil {
		return err
	}
	return vdcapi.WriteFrame(s.conn, payload)
}

// Close terminates the session and its underlying connection.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
	return s.conn.Close()
}

func (s *Session) teardown() {
	s.mu.Lock()
	s.state = Closed
	pending := s.pendingRequests
	s.pendingRequests = make(map[uint32]chan *vdcapi.Message)
	s.mu.Unlock()

	for id, ch := range pending {
		close(ch)
		_ = id
	}

	s.closeOnce.Do(func() {
		close(s.closed)
	})
	_ = s.conn.Close()
}
