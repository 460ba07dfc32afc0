package spacedesk

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"spacescreen/sdriver"
	"spacescreen/sdriver/dummy"
	"spacescreen/sdriver/spacedesk/negotiate"
	"spacescreen/sdriver/spacedesk/transport"
	"spacescreen/sdriver/spacedesk/wire"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func au(n byte) []byte { return []byte{0, 0, 0, 1, 0x41, 0x9A, n, n} }

func frames(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = au(byte(i + 1))
	}
	return out
}

func startDummy(t *testing.T, cfg dummy.Config) (*dummy.Server, Config) {
	t.Helper()
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Millisecond
	}
	srv, err := dummy.New(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	t.Cleanup(srv.Close)

	host, portStr, _ := net.SplitHostPort(srv.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return srv, Config{
		Address:          host,
		Port:             port,
		Width:            1024,
		Height:           768,
		Quality:          80,
		Hostname:         "testbox",
		HandshakeTimeout: time.Second,
		ReadTimeout:      20 * time.Millisecond,
		IdleTimeout:      2 * time.Second,
	}
}

func nextFrames(t *testing.T, d *Driver, n int) []sdriver.VideoFrame {
	t.Helper()
	var out []sdriver.VideoFrame
	for len(out) < n {
		f, err := d.NextFrame(2 * time.Second)
		require.NoError(t, err)
		out = append(out, f)
	}
	return out
}

func TestStreamsFramesAndAcks(t *testing.T) {
	srv, cfg := startDummy(t, dummy.Config{Frames: frames(5)})
	d := New(cfg)
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()
	assert.Equal(t, Streaming, d.State())

	got := nextFrames(t, d, 5)
	for i, f := range got {
		assert.Equal(t, au(byte(i+1)), f.Data)
		assert.Equal(t, 1, f.Chunks)
		assert.False(t, f.ArrivedAt.IsZero())
	}
	require.Eventually(t, func() bool { return srv.Stats().Acks == 5 }, 2*time.Second, 10*time.Millisecond)

	hellos := srv.Hellos()
	require.Len(t, hellos, 1)
	assert.Equal(t, wire.IdentificationString("testbox"), hellos[0].Identification)
	assert.EqualValues(t, 80, hellos[0].Quality)

	st := d.Stats()
	assert.EqualValues(t, 5, st.Reassembly.Frames)
	assert.EqualValues(t, 5, st.AcksSent)
	assert.Equal(t, "streaming", st.State)
}

func TestServerGrantOverridesRequest(t *testing.T) {
	_, cfg := startDummy(t, dummy.Config{Frames: frames(1), GrantWidth: 1280, GrantHeight: 720})
	d := New(cfg)
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	p := d.Params()
	assert.EqualValues(t, 1280, p.Width)
	assert.EqualValues(t, 720, p.Height)
	assert.EqualValues(t, 1024, p.RequestedWidth)
	assert.EqualValues(t, 80, p.Quality)
	assert.True(t, p.Clamped)
	assert.Equal(t, 1280, d.MediaMeta().Width)
}

func TestMissingChunkNeverDelivered(t *testing.T) {
	_, cfg := startDummy(t, dummy.Config{
		Frames:    frames(3),
		ChunkSize: 3,
		DropChunk: func(frame, chunk int) bool { return frame == 1 && chunk == 1 },
	})
	cfg.Layout = wire.DefaultIndexedLayout
	d := New(cfg)
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	got := nextFrames(t, d, 2)
	assert.Equal(t, au(1), got[0].Data)
	assert.EqualValues(t, 0, got[0].Sequence)
	assert.Equal(t, 3, got[0].Chunks)
	assert.Equal(t, au(3), got[1].Data)
	assert.EqualValues(t, 2, got[1].Sequence)

	_, err := d.NextFrame(100 * time.Millisecond)
	require.ErrorIs(t, err, sdriver.ErrEmpty)
	assert.EqualValues(t, 1, d.Stats().Reassembly.DroppedFrames)
}

func TestSilentLinkEndsInError(t *testing.T) {
	_, cfg := startDummy(t, dummy.Config{Frames: frames(3), StallAfter: 1})
	cfg.IdleTimeout = 100 * time.Millisecond
	d := New(cfg)
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	select {
	case <-d.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("dead link not detected")
	}
	assert.Equal(t, Error, d.State())
	require.ErrorIs(t, d.Err(), ErrLinkDead)
	var ce *ConnectionError
	require.True(t, errors.As(d.Err(), &ce))

	// what arrived before the link died is still handed out
	f, err := d.NextFrame(time.Second)
	require.NoError(t, err)
	assert.Equal(t, au(1), f.Data)
	_, err = d.NextFrame(time.Second)
	require.ErrorIs(t, err, sdriver.ErrClosed)
}

func TestPingsAreEchoed(t *testing.T) {
	srv, cfg := startDummy(t, dummy.Config{Frames: frames(1), PingInterval: 10 * time.Millisecond})
	d := New(cfg)
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	require.Eventually(t, func() bool { return srv.Stats().PingEchoes >= 3 }, 2*time.Second, 10*time.Millisecond)
}

func TestStopSendsDisconnect(t *testing.T) {
	srv, cfg := startDummy(t, dummy.Config{Frames: frames(2)})
	d := New(cfg)
	require.NoError(t, d.Start(context.Background()))
	nextFrames(t, d, 2)

	start := time.Now()
	d.Stop()
	d.Stop()
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, Disconnected, d.State())

	require.Eventually(t, func() bool { return srv.Stats().Disconnects == 1 }, 2*time.Second, 10*time.Millisecond)
	_, err := d.NextFrame(time.Second)
	require.ErrorIs(t, err, sdriver.ErrClosed)
	require.ErrorIs(t, d.Start(context.Background()), ErrAlreadyStarted)
}

func TestStopDuringNegotiation(t *testing.T) {
	_, cfg := startDummy(t, dummy.Config{Silent: true})
	cfg.HandshakeTimeout = 10 * time.Second
	d := New(cfg)

	errc := make(chan error, 1)
	go func() { errc <- d.Start(context.Background()) }()
	require.Eventually(t, func() bool { return d.State() == Negotiating }, 2*time.Second, 5*time.Millisecond)

	d.Stop()
	select {
	case err := <-errc:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start still blocked after Stop")
	}
	assert.Equal(t, Disconnected, d.State())
}

func TestNegotiationTimeout(t *testing.T) {
	_, cfg := startDummy(t, dummy.Config{Silent: true})
	cfg.HandshakeTimeout = 50 * time.Millisecond
	d := New(cfg)
	defer d.Stop()

	err := d.Start(context.Background())
	var ne *NegotiationError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, negotiate.ReasonTimeout, ne.Reason)
	assert.Equal(t, Error, d.State())
}

func TestConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	d := New(Config{Address: "127.0.0.1", Port: addr.Port, ConnectTimeout: time.Second})
	err = d.Start(context.Background())
	var ce *ConnectionError
	require.True(t, errors.As(err, &ce))
	require.ErrorIs(t, err, transport.ErrConnect)
	assert.Equal(t, Error, d.State())

	d.Stop()
	assert.Equal(t, Disconnected, d.State())
	_, err = d.NextFrame(0)
	require.ErrorIs(t, err, sdriver.ErrClosed)
}

func TestServerDisconnectEndsSession(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		hello := make([]byte, wire.HeaderSize+wire.ConnectionStartPayloadSize)
		if _, err := io.ReadFull(c, hello); err != nil {
			return
		}
		var out []byte
		out = wire.AppendEncode(out, wire.NewConnectionStart(wire.ConnectionStart{Width: 800, Height: 600}))
		out = wire.AppendEncode(out, wire.NewVideoData(au(9)))
		out = wire.AppendEncode(out, wire.NewDisconnect())
		out = wire.AppendEncode(out, wire.NewVideoData(au(10)))
		c.Write(out)
		time.Sleep(time.Second)
	}()

	d := New(Config{
		Address: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port,
		Width: 800, Height: 600, Hostname: "testbox",
		ReadTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	select {
	case <-d.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
	}
	require.ErrorIs(t, d.Err(), ErrServerDisconnect)
	f, err := d.NextFrame(time.Second)
	require.NoError(t, err)
	assert.Equal(t, au(9), f.Data)
	// video after DISCONNECT belongs to no session
	_, err = d.NextFrame(100 * time.Millisecond)
	require.ErrorIs(t, err, sdriver.ErrClosed)
}

func TestStopWithServerNotReading(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- c
		hello := make([]byte, wire.HeaderSize+wire.ConnectionStartPayloadSize)
		if _, err := io.ReadFull(c, hello); err != nil {
			return
		}
		if _, err := c.Write(wire.Encode(wire.NewConnectionStart(wire.ConnectionStart{Width: 800, Height: 600}))); err != nil {
			return
		}
		var batch []byte
		for range 1000 {
			batch = wire.AppendEncode(batch, wire.NewVideoData(au(1)))
		}
		// never read the acks; the client's send buffer fills up
		for {
			if _, err := c.Write(batch); err != nil {
				return
			}
		}
	}()

	d := New(Config{
		Address: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port,
		Width: 800, Height: 600, Hostname: "testbox",
		ReadTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, d.Start(context.Background()))
	srvConn := <-accepted
	defer srvConn.Close()

	require.Eventually(t, func() bool {
		before := d.Stats().AcksSent
		time.Sleep(100 * time.Millisecond)
		return before > 0 && d.Stats().AcksSent == before
	}, 20*time.Second, time.Millisecond, "acks never stalled")

	start := time.Now()
	d.Stop()
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, Disconnected, d.State())
}

func TestIndependentDrivers(t *testing.T) {
	_, cfgA := startDummy(t, dummy.Config{Frames: [][]byte{au(1)}})
	_, cfgB := startDummy(t, dummy.Config{Frames: [][]byte{au(2)}})
	a, b := New(cfgA), New(cfgB)
	require.NoError(t, a.Start(context.Background()))
	defer a.Stop()
	require.NoError(t, b.Start(context.Background()))
	defer b.Stop()

	assert.Equal(t, au(1), nextFrames(t, a, 1)[0].Data)
	assert.Equal(t, au(2), nextFrames(t, b, 1)[0].Data)
}
