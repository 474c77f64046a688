// Package host runs the vdc host's TCP server: it accepts exactly one
// vdSM connection at a time, drives the session state machine, and
// resolves GetProperty/SetProperty/scene/output-channel traffic
// against the entity tree.
package host

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/digitalstrom/vdchost/internal/audit"
	"github.com/digitalstrom/vdchost/internal/dnssd"
	"github.com/digitalstrom/vdchost/internal/entity"
	"github.com/digitalstrom/vdchost/internal/eventbus"
	"github.com/digitalstrom/vdchost/internal/session"
	"github.com/digitalstrom/vdchost/pkg/vdcapi"
)

// Runtime owns the TCP listener and the single active session, and
// implements session.Handler to resolve messages the session state
// machine forwards instead of handling internally.
type Runtime struct {
	host       *entity.VdcHost
	advertiser *dnssd.Advertiser
	name       string

	events  *eventbus.Bus
	auditDB *audit.Store

	mu       sync.Mutex
	listener net.Listener
	sess     *session.Session
}

// New creates a runtime serving the given entity tree.
func New(h *entity.VdcHost) *Runtime {
	return &Runtime{host: h}
}

// SetAdvertiser enables DNS-SD announcement: name is advertised as the
// friendly service instance name once the server starts listening.
func (r *Runtime) SetAdvertiser(a *dnssd.Advertiser, name string) {
	r.advertiser = a
	r.name = name
}

// SetEventSink wires the lifecycle-event bus and audit log. Either may
// be nil; emit becomes a no-op for whichever side is unset.
func (r *Runtime) SetEventSink(bus *eventbus.Bus, auditDB *audit.Store) {
	r.events = bus
	r.auditDB = auditDB
}

// emit publishes a lifecycle event to the event bus and, if an audit
// log is configured, records it there too. Never blocks the caller
// for long: Publish logs its own errors, and the audit insert runs
// against a short timeout.
func (r *Runtime) emit(kind, dsuid, description string, details map[string]interface{}) {
	if r.events != nil {
		r.events.Publish(eventbus.Event{Kind: kind, DSUID: dsuid, Details: details})
	}
	if r.auditDB == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.auditDB.Record(ctx, &audit.Event{DSUID: dsuid, Kind: kind, Description: description, Details: details}); err != nil {
		log.Warn().Err(err).Msg("host: failed to record audit event")
	}
}

// Addr returns the listener's bound address, or nil if not listening.
// Useful for tests that bind to port 0 and need the actual port chosen.
func (r *Runtime) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// IsServing reports whether the TCP listener is currently active.
func (r *Runtime) IsServing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listener != nil
}

// Session returns the currently active session, or nil.
func (r *Runtime) Session() *session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess
}

// Start binds bindAddr:port and begins accepting connections in the
// background. It returns once the listener is bound. When announce is
// true and an advertiser was set via SetAdvertiser, the host is also
// published over DNS-SD.
func (r *Runtime) Start(ctx context.Context, bindAddr string, port int, announce bool) error {
	r.mu.Lock()
	if r.listener != nil {
		r.mu.Unlock()
		log.Debug().Msg("host: already listening, skipping start")
		return nil
	}
	r.mu.Unlock()

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", bindAddr, port))
	if err != nil {
		return fmt.Errorf("host: listen: %w", err)
	}

	r.mu.Lock()
	r.listener = ln
	r.mu.Unlock()

	log.Info().Str("addr", ln.Addr().String()).Msg("host: tcp server listening")
	go r.acceptLoop(ctx)

	if announce && r.advertiser != nil {
		if err := r.advertiser.Announce(r.name, r.host.Common.DSUID.String(), port); err != nil {
			log.Warn().Err(err).Msg("host: dns-sd announcement failed, continuing without it")
		}
	}
	return nil
}

// Stop flushes any pending auto-save, closes the active session, the
// listener, and withdraws any DNS-SD announcement.
func (r *Runtime) Stop() error {
	_ = r.host.Flush()
	r.closeSession()

	r.mu.Lock()
	ln := r.listener
	r.listener = nil
	r.mu.Unlock()

	if r.advertiser != nil {
		r.advertiser.Unannounce()
	}

	if ln == nil {
		return nil
	}
	log.Info().Msg("host: tcp server stopped")
	return ln.Close()
}

func (r *Runtime) acceptLoop(ctx context.Context) {
	for {
		r.mu.Lock()
		ln := r.listener
		r.mu.Unlock()
		if ln == nil {
			return
		}

		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warn().Err(err).Msg("host: accept error")
			continue
		}

		go r.handleConnection(ctx, conn)
	}
}

func (r *Runtime) handleConnection(ctx context.Context, conn net.Conn) {
	log.Info().Str("remote", conn.RemoteAddr().String()).Msg("host: new connection")

	// Only one session at a time: a new connection always displaces
	// whatever session is currently active.
	r.closeSession()

	sess := session.New(conn, r.host.Common.DSUID, r)
	sess.OnActive(r.onSessionActive)

	r.mu.Lock()
	r.sess = sess
	r.mu.Unlock()
	r.host.SetSession(sess)
	r.emit(eventbus.KindSession, r.host.Common.DSUID.String(), "vdsm connected", map[string]interface{}{
		"remote": conn.RemoteAddr().String(),
	})

	if err := sess.Run(ctx); err != nil {
		log.Warn().Err(err).Msg("host: session error")
	}

	r.mu.Lock()
	if r.sess == sess {
		r.sess = nil
	}
	r.mu.Unlock()

	r.host.ResetAnnouncement()
	r.emit(eventbus.KindSession, sess.VdsmDSUID().String(), "vdsm disconnected", nil)
	log.Info().Str("vdsm", sess.VdsmDSUID().String()).Msg("host: session cleaned up")
}

// onSessionActive fires once a session completes (or repeats) hello.
// It (re-)announces every vDC and its devices, matching the vdSM's
// expectation that announcement follows immediately after hello.
func (r *Runtime) onSessionActive(sess *session.Session) {
	count, err := r.host.AnnounceVdcs()
	if err != nil {
		log.Warn().Err(err).Msg("host: failed to announce vdcs")
		return
	}
	r.emit(eventbus.KindAnnounce, r.host.Common.DSUID.String(), "vdcs announced", map[string]interface{}{
		"count": count,
	})
	log.Info().Int("announced", count).Msg("host: vdcs announced after hello")
}

func (r *Runtime) closeSession() {
	r.mu.Lock()
	sess := r.sess
	r.sess = nil
	r.mu.Unlock()
	if sess == nil {
		return
	}
	log.Info().Str("vdsm", sess.VdsmDSUID().String()).Msg("host: closing existing session")
	_ = sess.Close()
}

// HandleMessage implements session.Handler: routes GetProperty and
// SetProperty to the addressed entity, and scene/channel notifications
// to the addressed vdSD's output. Announcing the vDCs after hello is
// done by onSessionActive, not here.
func (r *Runtime) HandleMessage(sess *session.Session, msg *vdcapi.Message) {
	switch msg.Kind {
	case vdcapi.VdsmRequestGetProperty:
		r.handleGetProperty(sess, msg)
	case vdcapi.VdsmRequestSetProperty:
		r.handleSetProperty(sess, msg)
	case vdcapi.VdsmNotificationCallScene:
		r.handleCallScene(msg)
	case vdcapi.VdsmNotificationSaveScene:
		r.handleSaveScene(msg)
	case vdcapi.VdsmNotificationUndoScene:
		r.handleUndoScene(msg)
	case vdcapi.VdsmNotificationSetLocalPrio:
		r.handleSetLocalPrio(msg)
	case vdcapi.VdsmNotificationCallMinScene:
		r.handleCallMinScene(msg)
	case vdcapi.VdsmNotificationSetOutputChannelValue:
		r.handleSetOutputChannelValue(msg)
	case vdcapi.VdsmNotificationDimChannel:
		log.Debug().Msg("host: dimChannel received, ramping is handled device-side")
	case vdcapi.VdsmNotificationIdentify:
		log.Info().Msg("host: identify requested")
	case vdcapi.VdsmNotificationSetControlValue:
		log.Debug().Str("name", msg.SetControlValue.Name).Float64("value", msg.SetControlValue.Value).Msg("host: setControlValue received")
	case vdcapi.VdsmSendRemove:
		r.handleRemove(sess, msg)
	default:
		log.Debug().Int("kind", int(msg.Kind)).Msg("host: unhandled message kind")
	}
}

func (r *Runtime) resolveProperties(id string) (map[string]interface{}, bool) {
	if id == r.host.Common.DSUID.String() {
		return r.host.Properties(), true
	}
	if vdc := r.host.VdcByDSUID(id); vdc != nil {
		return vdc.Properties(), true
	}
	if vd := r.host.VdsdByDSUID(id); vd != nil {
		return vd.Properties(), true
	}
	return nil, false
}

func (r *Runtime) handleGetProperty(sess *session.Session, msg *vdcapi.Message) {
	req := msg.GetPropertyRequest
	if req == nil {
		r.replyError(sess, msg.MessageID, vdcapi.ErrMissingData, "")
		return
	}
	target := req.DSUID.String()
	props, ok := r.resolveProperties(target)
	if !ok {
		r.replyError(sess, msg.MessageID, vdcapi.ErrNotFound, fmt.Sprintf("entity %s not found", target))
		return
	}

	elements := vdcapi.MatchQuery(props, req.Query)
	r.reply(sess, &vdcapi.Message{
		Kind:                vdcapi.VdcResponseGetProperty,
		MessageID:           msg.MessageID,
		GetPropertyResponse: &vdcapi.GetPropertyResponseMsg{Properties: elements},
	})
}

func (r *Runtime) handleSetProperty(sess *session.Session, msg *vdcapi.Message) {
	req := msg.SetPropertyRequest
	if req == nil {
		r.replyError(sess, msg.MessageID, vdcapi.ErrMissingData, "")
		return
	}
	target := req.DSUID.String()
	incoming := vdcapi.ElementsToDict(req.Properties)

	switch {
	case target == r.host.Common.DSUID.String():
		if name, ok := incoming["name"].(string); ok {
			r.host.Common.Name = name
			r.host.ScheduleAutoSave()
		}
	case r.host.VdcByDSUID(target) != nil:
		vdc := r.host.VdcByDSUID(target)
		if name, ok := incoming["name"].(string); ok {
			vdc.Common.Name = name
		}
		if zone, ok := incoming["zoneID"].(float64); ok {
			vdc.ZoneID = int(zone)
		}
		vdc.ScheduleAutoSave()
	default:
		r.replyError(sess, msg.MessageID, vdcapi.ErrNotFound, fmt.Sprintf("entity %s not found", target))
		return
	}

	r.reply(sess, &vdcapi.Message{
		Kind:            vdcapi.GenericResponse,
		MessageID:       msg.MessageID,
		GenericResponse: &vdcapi.GenericResponseMsg{Code: vdcapi.ErrOK},
	})
}

func (r *Runtime) handleCallScene(msg *vdcapi.Message) {
	n := msg.CallScene
	if n == nil {
		return
	}
	vd := r.host.VdsdByDSUID(n.DSUID.String())
	if vd == nil || vd.Output() == nil {
		return
	}
	vd.Output().CallScene(n.Scene)
	r.emit(eventbus.KindScene, n.DSUID.String(), "scene called", map[string]interface{}{"scene": n.Scene})
}

func (r *Runtime) handleSaveScene(msg *vdcapi.Message) {
	n := msg.SaveScene
	if n == nil {
		return
	}
	vd := r.host.VdsdByDSUID(n.DSUID.String())
	if vd == nil || vd.Output() == nil {
		return
	}
	vd.Output().SaveScene(n.Scene)
	r.emit(eventbus.KindScene, n.DSUID.String(), "scene saved", map[string]interface{}{"scene": n.Scene})
}

func (r *Runtime) handleUndoScene(msg *vdcapi.Message) {
	n := msg.UndoScene
	if n == nil {
		return
	}
	vd := r.host.VdsdByDSUID(n.DSUID.String())
	if vd == nil || vd.Output() == nil {
		return
	}
	vd.Output().UndoScene()
	r.emit(eventbus.KindScene, n.DSUID.String(), "scene undone", nil)
}

func (r *Runtime) handleSetLocalPrio(msg *vdcapi.Message) {
	n := msg.SetLocalPrio
	if n == nil {
		return
	}
	vd := r.host.VdsdByDSUID(n.DSUID.String())
	if vd == nil || vd.Output() == nil {
		return
	}
	vd.Output().LocalPriority = true
}

func (r *Runtime) handleCallMinScene(msg *vdcapi.Message) {
	n := msg.CallMinScene
	if n == nil {
		return
	}
	vd := r.host.VdsdByDSUID(n.DSUID.String())
	if vd == nil || vd.Output() == nil {
		return
	}
	vd.Output().CallScene(int(vdcapi.ScenePreset0))
}

func (r *Runtime) handleSetOutputChannelValue(msg *vdcapi.Message) {
	n := msg.SetOutputChannelValue
	if n == nil {
		return
	}
	vd := r.host.VdsdByDSUID(n.DSUID.String())
	if vd == nil || vd.Output() == nil {
		return
	}
	vd.Output().SetOutputChannelValue(n.Channel, n.Value, n.Apply)
}

func (r *Runtime) handleRemove(sess *session.Session, msg *vdcapi.Message) {
	n := msg.Remove
	if n == nil {
		r.replyError(sess, msg.MessageID, vdcapi.ErrMissingData, "")
		return
	}
	log.Info().Str("dsuid", n.DSUID.String()).Msg("host: remove requested, no structural change applied")
	r.reply(sess, &vdcapi.Message{
		Kind:            vdcapi.GenericResponse,
		MessageID:       msg.MessageID,
		GenericResponse: &vdcapi.GenericResponseMsg{Code: vdcapi.ErrOK},
	})
}

func (r *Runtime) reply(sess *session.Session, msg *vdcapi.Message) {
	if err := sess.Reply(msg); err != nil {
		log.Warn().Err(err).Msg("host: failed to send reply")
	}
}

func (r *Runtime) replyError(sess *session.Session, messageID uint32, code vdcapi.ResultCode, description string) {
	r.reply(sess, &vdcapi.Message{
		Kind:            vdcapi.GenericResponse,
		MessageID:       messageID,
		GenericResponse: &vdcapi.GenericResponseMsg{Code: code, Description: description},
	})
}
