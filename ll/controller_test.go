package ll

import (
	"context"
	"testing"
	"time"

	"github.com/rigado/blell"
	"github.com/rigado/blell/hci"
	"github.com/rigado/blell/ll/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadOptions(t *testing.T) {
	clock := sim.NewClock(0)
	_, err := New(clock, sim.NewRadio(clock), nil, blell.OptLocalSCA(0))
	assert.Error(t, err)

	_, err = New(clock, sim.NewRadio(clock), nil, blell.OptQueueSize(0))
	assert.Error(t, err)
}

func TestPostOverflow(t *testing.T) {
	var handled []error
	b := newBench(t, blell.OptQueueSize(1), blell.OptErrorHandler(func(err error) {
		handled = append(handled, err)
	}))

	ran := 0
	require.NoError(t, b.c.Post(func() { ran++ }))
	err := b.c.Post(func() { ran++ })
	assert.Equal(t, ErrQueueFull, err)
	assert.Equal(t, uint8(hci.ErrControllerBusy), hci.StatusOf(err))
	assert.Len(t, handled, 1)
	assert.Equal(t, uint64(1), b.c.Stats().QueueOverflows)

	assert.Equal(t, 1, b.c.Drain())
	assert.Equal(t, 1, ran)
}

func TestRunAndExec(t *testing.T) {
	clock := sim.NewClock(0)
	c, err := New(clock, sim.NewRadio(clock), &recorder{}, blell.OptPublicAddr(localAddr))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	err = c.Exec(ctx, func() error { return c.SetAdvertisingData([]byte{0x02, 0x01, 0x06}) })
	assert.NoError(t, err)

	err = c.Exec(ctx, func() error { return c.Disconnect(0x0001, 0x13) })
	assert.Equal(t, uint8(hci.ErrConnID), hci.StatusOf(err))

	cancel()
	select {
	case err := <-done:
		assert.Equal(t, context.Canceled, err)
	case <-time.After(5 * time.Second):
		t.Fatal("event loop did not stop")
	}
}

func TestEventMasks(t *testing.T) {
	b := newBench(t)
	b.c.SetLEEventMask(DefaultLEEventMask &^ 1)

	require.NoError(t, b.c.CreateConnection(createConnection(peerAddr)))
	b.settle()
	require.NoError(t, b.c.CreateConnectionCancel())
	b.settle()
	assert.Empty(t, b.host.events)

	b.c.SetLEEventMask(DefaultLEEventMask)
	b.c.SetEventMask(DefaultEventMask &^ maskLEMeta)
	require.NoError(t, b.c.CreateConnection(createConnection(peerAddr)))
	b.settle()
	require.NoError(t, b.c.CreateConnectionCancel())
	b.settle()
	assert.Empty(t, b.host.events)

	b.c.SetEventMask(DefaultEventMask)
	require.NoError(t, b.c.CreateConnection(createConnection(peerAddr)))
	b.settle()
	require.NoError(t, b.c.CreateConnectionCancel())
	b.settle()
	assert.Len(t, b.connComplete(), 1)
}

func TestReset(t *testing.T) {
	b := newBench(t)
	b.connectCentral()
	require.NoError(t, b.c.CreateBIG(bigParams()))
	b.run(30000)
	require.Equal(t, 4, b.c.LiveAccessAddresses())

	b.c.Reset()
	b.settle()
	assert.Empty(t, b.c.conns)
	assert.Empty(t, b.c.bigs)
	assert.Empty(t, b.c.actors)
	assert.Empty(t, b.c.handles)
	assert.Zero(t, b.c.LiveAccessAddresses())
	assert.Equal(t, 0, b.c.Stats().Connections)

	n := len(b.host.events)
	b.run(100000)
	assert.Len(t, b.host.events, n)

	// the controller is usable again
	b.connectCentral()
}

func TestAccessAddressesReturnToPool(t *testing.T) {
	b := newBench(t, blell.OptAARetiredSize(0))
	for i := 0; i < 3; i++ {
		require.NoError(t, b.c.CreateConnection(createConnection(peerAddr)))
		b.run(5000)
		assert.Equal(t, 1, b.c.LiveAccessAddresses())
		require.NoError(t, b.c.CreateConnectionCancel())
		b.settle()
		assert.Zero(t, b.c.LiveAccessAddresses())
	}
}
