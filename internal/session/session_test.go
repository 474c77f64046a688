package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitalstrom/vdchost/pkg/dsuid"
	"github.com/digitalstrom/vdchost/pkg/vdcapi"
)

type recordingHandler struct {
	messages chan *vdcapi.Message
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{messages: make(chan *vdcapi.Message, 8)}
}

func (h *recordingHandler) HandleMessage(sess *Session, msg *vdcapi.Message) {
	h.messages <- msg
}

func pipePair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})
	return server, client
}

func writeMsg(t *testing.T, conn net.Conn, msg *vdcapi.Message) {
	t.Helper()
	payload, err := vdcapi.Encode(msg)
	require.NoError(t, err)
	require.NoError(t, vdcapi.WriteFrame(conn, payload))
}

func readMsg(t *testing.T, conn net.Conn) *vdcapi.Message {
	t.Helper()
	payload, err := vdcapi.ReadFrame(conn)
	require.NoError(t, err)
	msg, err := vdcapi.Decode(payload)
	require.NoError(t, err)
	return msg
}

func TestHelloTransitionsToActive(t *testing.T) {
	server, client := pipePair(t)
	hostID := dsuid.Random(0)
	vdsmID := dsuid.Random(0)

	sess := New(server, hostID, newRecordingHandler())
	go func() { _ = sess.Run(context.Background()) }()

	writeMsg(t, client, &vdcapi.Message{
		Kind:      vdcapi.VdsmRequestHello,
		MessageID: 1,
		Hello:     &vdcapi.HelloMsg{APIVersion: SupportedAPIVersion, DSUID: vdsmID},
	})

	reply := readMsg(t, client)
	assert.Equal(t, vdcapi.VdcResponseHello, reply.Kind)
	require.NotNil(t, reply.HelloResponse)
	assert.Equal(t, hostID, reply.HelloResponse.DSUID)

	assert.Eventually(t, func() bool { return sess.State() == Active }, time.Second, time.Millisecond)
	assert.Equal(t, vdsmID, sess.VdsmDSUID())
}

func TestHelloIncompatibleAPICloses(t *testing.T) {
	server, client := pipePair(t)
	sess := New(server, dsuid.Random(0), newRecordingHandler())
	go func() { _ = sess.Run(context.Background()) }()

	writeMsg(t, client, &vdcapi.Message{
		Kind:      vdcapi.VdsmRequestHello,
		MessageID: 1,
		Hello:     &vdcapi.HelloMsg{APIVersion: 1, DSUID: dsuid.Random(0)},
	})

	reply := readMsg(t, client)
	assert.Equal(t, vdcapi.GenericResponse, reply.Kind)
	require.NotNil(t, reply.GenericResponse)
	assert.Equal(t, vdcapi.ErrIncompatibleAPI, reply.GenericResponse.Code)

	assert.Eventually(t, func() bool { return sess.State() == Closed }, time.Second, time.Millisecond)
}

func TestMessageBeforeHelloGetsServiceNotAvailable(t *testing.T) {
	server, client := pipePair(t)
	sess := New(server, dsuid.Random(0), newRecordingHandler())
	go func() { _ = sess.Run(context.Background()) }()

	writeMsg(t, client, &vdcapi.Message{
		Kind:      vdcapi.VdsmRequestGetProperty,
		MessageID: 7,
		GetPropertyRequest: &vdcapi.GetPropertyRequestMsg{
			DSUID: dsuid.Random(0),
		},
	})

	reply := readMsg(t, client)
	assert.Equal(t, vdcapi.GenericResponse, reply.Kind)
	assert.Equal(t, uint32(7), reply.MessageID)
	require.NotNil(t, reply.GenericResponse)
	assert.Equal(t, vdcapi.ErrServiceNotAvailable, reply.GenericResponse.Code)

	assert.Equal(t, AwaitingHello, sess.State())
}

func activate(t *testing.T, sess *Session, client net.Conn) {
	t.Helper()
	writeMsg(t, client, &vdcapi.Message{
		Kind:      vdcapi.VdsmRequestHello,
		MessageID: 1,
		Hello:     &vdcapi.HelloMsg{APIVersion: SupportedAPIVersion, DSUID: dsuid.Random(0)},
	})
	_ = readMsg(t, client)
	require.Eventually(t, func() bool { return sess.State() == Active }, time.Second, time.Millisecond)
}

func TestPingIncrementsCountAndRepliesPong(t *testing.T) {
	server, client := pipePair(t)
	sess := New(server, dsuid.Random(0), newRecordingHandler())
	go func() { _ = sess.Run(context.Background()) }()
	activate(t, sess, client)

	writeMsg(t, client, &vdcapi.Message{Kind: vdcapi.VdsmSendPing, Ping: &vdcapi.PingMsg{}})

	reply := readMsg(t, client)
	assert.Equal(t, vdcapi.VdcSendPong, reply.Kind)
	assert.Equal(t, 1, sess.PingCount())
}

func TestByeAcknowledgesAndCloses(t *testing.T) {
	server, client := pipePair(t)
	sess := New(server, dsuid.Random(0), newRecordingHandler())
	go func() { _ = sess.Run(context.Background()) }()
	activate(t, sess, client)

	writeMsg(t, client, &vdcapi.Message{Kind: vdcapi.VdsmSendBye, MessageID: 9, Bye: &vdcapi.ByeMsg{}})

	reply := readMsg(t, client)
	assert.Equal(t, vdcapi.GenericResponse, reply.Kind)
	assert.Equal(t, uint32(9), reply.MessageID)

	assert.Eventually(t, func() bool { return sess.State() == Closed }, time.Second, time.Millisecond)
}

func TestUnhandledMessageForwardsToHandler(t *testing.T) {
	server, client := pipePair(t)
	handler := newRecordingHandler()
	sess := New(server, dsuid.Random(0), handler)
	go func() { _ = sess.Run(context.Background()) }()
	activate(t, sess, client)

	target := dsuid.Random(0)
	writeMsg(t, client, &vdcapi.Message{
		Kind:      vdcapi.VdsmRequestGetProperty,
		MessageID: 2,
		GetPropertyRequest: &vdcapi.GetPropertyRequestMsg{
			DSUID: target,
			Query: []vdcapi.PropertyElement{{Name: "name"}},
		},
	})

	select {
	case msg := <-handler.messages:
		require.NotNil(t, msg.GetPropertyRequest)
		assert.Equal(t, target, msg.GetPropertyRequest.DSUID)
	case <-time.After(time.Second):
		t.Fatal("handler did not receive forwarded message")
	}
}

func TestSendRequestCorrelatesResponse(t *testing.T) {
	server, client := pipePair(t)
	sess := New(server, dsuid.Random(0), newRecordingHandler())
	go func() { _ = sess.Run(context.Background()) }()
	activate(t, sess, client)

	done := make(chan *vdcapi.Message, 1)
	go func() {
		resp, err := sess.SendRequest(context.Background(), &vdcapi.Message{
			Kind: vdcapi.VdcSendAnnounceDevice,
			AnnounceDevice: &vdcapi.AnnounceDeviceMsg{
				DSUID: dsuid.Random(0),
			},
		}, time.Second)
		require.NoError(t, err)
		done <- resp
	}()

	req := readMsg(t, client)
	assert.Equal(t, vdcapi.VdcSendAnnounceDevice, req.Kind)
	require.NotZero(t, req.MessageID)

	writeMsg(t, client, &vdcapi.Message{
		Kind:            vdcapi.GenericResponse,
		MessageID:       req.MessageID,
		GenericResponse: &vdcapi.GenericResponseMsg{Code: vdcapi.ErrOK},
	})

	select {
	case resp := <-done:
		require.NotNil(t, resp.GenericResponse)
		assert.Equal(t, vdcapi.ErrOK, resp.GenericResponse.Code)
	case <-time.After(time.Second):
		t.Fatal("SendRequest did not resolve")
	}
}

func TestSendRequestTimesOut(t *testing.T) {
	server, client := pipePair(t)
	sess := New(server, dsuid.Random(0), newRecordingHandler())
	go func() { _ = sess.Run(context.Background()) }()
	activate(t, sess, client)

	// Drain the outgoing request so the blocking pipe write completes,
	// but never answer it, so SendRequest must time out.
	go func() { _, _ = vdcapi.ReadFrame(client) }()

	_, err := sess.SendRequest(context.Background(), &vdcapi.Message{
		Kind:     vdcapi.VdcSendIdentify,
		Identify: &vdcapi.IdentifyMsg{DSUID: dsuid.Random(0)},
	}, 20*time.Millisecond)
	assert.Error(t, err)
}

func TestSendNotificationRequiresActive(t *testing.T) {
	server, _ := pipePair(t)
	sess := New(server, dsuid.Random(0), newRecordingHandler())

	err := sess.SendNotification(&vdcapi.Message{Kind: vdcapi.VdcSendPushProperty})
	assert.Error(t, err)
}
