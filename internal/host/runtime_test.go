package host

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitalstrom/vdchost/internal/entity"
	"github.com/digitalstrom/vdchost/internal/session"
	"github.com/digitalstrom/vdchost/pkg/dsuid"
	"github.com/digitalstrom/vdchost/pkg/vdcapi"
)

func newTestHost(t *testing.T) *entity.VdcHost {
	t.Helper()
	h, err := entity.NewVdcHost("AA:BB:CC:DD:EE:01", 8444)
	require.NoError(t, err)
	h.Common.Name = "test vdc host"
	return h
}

func dialRuntime(t *testing.T, r *Runtime) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", r.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func writeMsg(t *testing.T, conn net.Conn, msg *vdcapi.Message) {
	t.Helper()
	payload, err := vdcapi.Encode(msg)
	require.NoError(t, err)
	require.NoError(t, vdcapi.WriteFrame(conn, payload))
}

func readMsg(t *testing.T, conn net.Conn) *vdcapi.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	payload, err := vdcapi.ReadFrame(conn)
	require.NoError(t, err)
	msg, err := vdcapi.Decode(payload)
	require.NoError(t, err)
	return msg
}

func startRuntime(t *testing.T, r *Runtime) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx, "127.0.0.1", 0, false))
	t.Cleanup(func() {
		cancel()
		_ = r.Stop()
	})
}

func helloAndWait(t *testing.T, r *Runtime, conn net.Conn, vdsmID dsuid.DsUid) {
	t.Helper()
	writeMsg(t, conn, &vdcapi.Message{
		Kind:      vdcapi.VdsmRequestHello,
		MessageID: 1,
		Hello:     &vdcapi.HelloMsg{APIVersion: session.SupportedAPIVersion, DSUID: vdsmID},
	})
	reply := readMsg(t, conn)
	require.Equal(t, vdcapi.VdcResponseHello, reply.Kind)
	assert.Eventually(t, func() bool {
		s := r.Session()
		return s != nil && s.State() == session.Active
	}, time.Second, 5*time.Millisecond)
}

func TestRuntimeAcceptsConnectionAndAnnouncesOnHello(t *testing.T) {
	h := newTestHost(t)
	vdc := entity.NewVdc(h, "x-test-vdc")
	h.AddVdc(vdc)

	r := New(h)
	startRuntime(t, r)

	conn := dialRuntime(t, r)
	helloAndWait(t, r, conn, dsuid.Random(0))

	req := readMsg(t, conn)
	require.Equal(t, vdcapi.VdcSendAnnounceVdc, req.Kind)
	writeMsg(t, conn, &vdcapi.Message{
		Kind:            vdcapi.GenericResponse,
		MessageID:       req.MessageID,
		GenericResponse: &vdcapi.GenericResponseMsg{Code: vdcapi.ErrOK},
	})

	assert.Eventually(t, func() bool {
		return vdc.IsAnnounced()
	}, time.Second, 5*time.Millisecond)
}

func TestRuntimeGetPropertyResolvesHostName(t *testing.T) {
	h := newTestHost(t)
	r := New(h)
	startRuntime(t, r)

	conn := dialRuntime(t, r)
	helloAndWait(t, r, conn, dsuid.Random(0))

	writeMsg(t, conn, &vdcapi.Message{
		Kind:      vdcapi.VdsmRequestGetProperty,
		MessageID: 2,
		GetPropertyRequest: &vdcapi.GetPropertyRequestMsg{
			DSUID: h.Common.DSUID,
			Query: []vdcapi.PropertyElement{{Name: "name"}},
		},
	})

	reply := readMsg(t, conn)
	require.Equal(t, vdcapi.VdcResponseGetProperty, reply.Kind)
	require.NotNil(t, reply.GetPropertyResponse)
	require.Len(t, reply.GetPropertyResponse.Properties, 1)
	got := reply.GetPropertyResponse.Properties[0]
	assert.Equal(t, "name", got.Name)
	require.NotNil(t, got.Value)
	assert.Equal(t, "test vdc host", got.Value.Interface())
}

func TestRuntimeGetPropertyUnknownDSUIDReturnsError(t *testing.T) {
	h := newTestHost(t)
	r := New(h)
	startRuntime(t, r)

	conn := dialRuntime(t, r)
	helloAndWait(t, r, conn, dsuid.Random(0))

	writeMsg(t, conn, &vdcapi.Message{
		Kind:      vdcapi.VdsmRequestGetProperty,
		MessageID: 3,
		GetPropertyRequest: &vdcapi.GetPropertyRequestMsg{
			DSUID: dsuid.Random(0),
			Query: []vdcapi.PropertyElement{{Name: "name"}},
		},
	})

	reply := readMsg(t, conn)
	require.Equal(t, vdcapi.GenericResponse, reply.Kind)
	require.NotNil(t, reply.GenericResponse)
	assert.Equal(t, vdcapi.ErrNotFound, reply.GenericResponse.Code)
}

func TestRuntimeNewConnectionDisplacesPriorSession(t *testing.T) {
	h := newTestHost(t)
	r := New(h)
	startRuntime(t, r)

	first := dialRuntime(t, r)
	helloAndWait(t, r, first, dsuid.Random(0))

	second := dialRuntime(t, r)
	helloAndWait(t, r, second, dsuid.Random(0))

	assert.Eventually(t, func() bool {
		_, err := first.Write([]byte{0})
		return err != nil
	}, time.Second, 5*time.Millisecond)
}
