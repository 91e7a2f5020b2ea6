package serialmux

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/siphog/internal/siphog"
	"github.com/banshee-data/siphog/internal/testutil"
	"github.com/banshee-data/siphog/internal/timeutil"
)

func TestTestableSerialPort_ReadChunkAndEOF(t *testing.T) {
	port := NewTestableSerialPort()
	port.ReadChunk = 2
	port.AddReadData([]byte("abc"))

	buf := make([]byte, 16)
	n, err := port.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ab", string(buf[:n]))

	n, _ = port.Read(buf)
	assert.Equal(t, "c", string(buf[:n]))

	_, err = port.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
	assert.True(t, port.Drained())
	assert.Equal(t, 3, port.ReadCalls)
}

func TestTestableSerialPort_ClosedPort(t *testing.T) {
	port := NewTestableSerialPort()
	require.NoError(t, port.Close())

	_, err := port.Read(make([]byte, 4))
	assert.ErrorIs(t, err, ErrPortClosed)
	_, err = port.Write([]byte{1})
	assert.ErrorIs(t, err, ErrPortClosed)
}

func TestMockSerialPortFactory(t *testing.T) {
	port := NewTestableSerialPort()
	f := NewMockSerialPortFactory(port)
	assert.Nil(t, f.LastCall())

	got, err := f.Open("/dev/ttyUSB0", PortOptions{BaudRate: 9600})
	require.NoError(t, err)
	assert.Same(t, port, got)
	require.NotNil(t, f.LastCall())
	assert.Equal(t, "/dev/ttyUSB0", f.LastCall().Path)
	assert.Equal(t, 9600, f.LastCall().Options.BaudRate)

	f.Error = errors.New("busy")
	_, err = f.Open("/dev/ttyUSB1", PortOptions{})
	assert.EqualError(t, err, "busy")
	assert.Len(t, f.OpenCalls, 2)
}

func TestSimulatedPort_FollowsSetpoints(t *testing.T) {
	clock := timeutil.NewMockClock(time.Time{})
	port := NewSimulatedPort(clock, time.Millisecond)

	// setpoints before unlock are ignored
	sled := siphog.SledCurrent(300)
	_, err := port.Write(sled[:])
	require.NoError(t, err)
	mA, _ := port.Setpoints()
	assert.Zero(t, mA)

	var cmds []byte
	for _, p := range []siphog.Packet{siphog.FactoryUnlock(), siphog.SledCurrent(300), siphog.Temperature(30)} {
		cmds = append(cmds, p[:]...)
	}
	n, err := port.Write(cmds)
	require.NoError(t, err)
	assert.Equal(t, len(cmds), n)

	mA, tempC := port.Setpoints()
	assert.Equal(t, 300.0, mA)
	assert.Equal(t, 30.0, tempC)

	frame := make([]byte, siphog.FrameLength)
	_, err = io.ReadFull(port, frame)
	require.NoError(t, err)
	s, err := siphog.DecodeSample(frame)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), s.Counter)
	assert.InDelta(t, 300, s.SledCurrentMA, 1)
	assert.InDelta(t, 24, s.CaseTempC, 1)
	assert.True(t, s.SledTempAvailable())
	assert.Equal(t, []time.Duration{time.Millisecond}, clock.Sleeps())

	require.NoError(t, port.Close())
	_, err = port.Read(frame)
	assert.ErrorIs(t, err, ErrPortClosed)
}

func TestSimulatedSerialMux_Streams(t *testing.T) {
	m := NewSerialMux(NewSimulatedPort(yieldingClock(), time.Millisecond))
	_, ch := m.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Monitor(ctx) }()

	assert.Equal(t, []uint32{1, 2, 3}, drain(t, ch, 3))
	require.NoError(t, m.Close())
	cancel()
	assert.NoError(t, <-done)
}

func TestAttachAdminRoutes_ReaderStats(t *testing.T) {
	m := NewSerialMux(NewTestableSerialPort())
	m.feed(testutil.Frame(1))

	mux := http.NewServeMux()
	m.AttachAdminRoutes(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, testutil.LocalRequest(http.MethodGet, "/debug/reader-stats", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var stats ReaderStats
	require.NoError(t, json.NewDecoder(w.Body).Decode(&stats))
	assert.Equal(t, uint64(1), stats.FramesDecoded)
}

func TestAttachAdminRoutes_TailRejectsPost(t *testing.T) {
	m := NewSerialMux(NewTestableSerialPort())
	mux := http.NewServeMux()
	m.AttachAdminRoutes(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, testutil.LocalRequest(http.MethodPost, "/debug/tail", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusMethodNotAllowed)
}
