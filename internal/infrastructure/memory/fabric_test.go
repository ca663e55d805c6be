package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-arbor/internal/domain"
)

func TestPublishReachesEverySubscriber(t *testing.T) {
	ctx := context.Background()
	f := NewFabric(0)
	defer f.Close()

	pub, err := f.Bind(ctx, "ns:left:1")
	require.NoError(t, err)
	a, err := f.Connect(ctx, "ns:left:1")
	require.NoError(t, err)
	b, err := f.Connect(ctx, "ns:left:1")
	require.NoError(t, err)
	other, err := f.Connect(ctx, "ns:right:1")
	require.NoError(t, err)
	other.SetReceiveTimeout(20 * time.Millisecond)

	var seq domain.Sequence
	cmd := seq.NewCommand(domain.KindRunJob, 3, 0, []float64{1, 2})
	require.NoError(t, pub.Publish(ctx, cmd))

	for _, s := range []interface {
		Receive(context.Context) (domain.Command, error)
	}{a, b} {
		got, err := s.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, cmd, got)
	}

	_, err = other.Receive(ctx)
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

func TestPublishWithoutSubscribersIsDropped(t *testing.T) {
	ctx := context.Background()
	f := NewFabric(0)
	defer f.Close()

	pub, err := f.Bind(ctx, "ns:parent:9")
	require.NoError(t, err)
	require.NoError(t, pub.Publish(ctx, domain.Command{Kind: domain.KindPing}))

	late, err := f.Connect(ctx, "ns:parent:9")
	require.NoError(t, err)
	late.SetReceiveTimeout(20 * time.Millisecond)
	_, err = late.Receive(ctx)
	assert.ErrorIs(t, err, domain.ErrTimeout, "frames published before connect are not buffered")
}

func TestBindTwiceFails(t *testing.T) {
	ctx := context.Background()
	f := NewFabric(0)
	defer f.Close()

	pub, err := f.Bind(ctx, "x")
	require.NoError(t, err)
	_, err = f.Bind(ctx, "x")
	assert.ErrorIs(t, err, domain.ErrChannelFailure)

	require.NoError(t, pub.Close())
	_, err = f.Bind(ctx, "x")
	assert.NoError(t, err)
}

func TestFullBufferDrops(t *testing.T) {
	ctx := context.Background()
	f := NewFabric(1)
	defer f.Close()

	pub, _ := f.Bind(ctx, "x")
	sub, _ := f.Connect(ctx, "x")
	sub.SetReceiveTimeout(20 * time.Millisecond)

	require.NoError(t, pub.Publish(ctx, domain.Command{Kind: domain.KindPing, CorrelationID: 1}))
	require.NoError(t, pub.Publish(ctx, domain.Command{Kind: domain.KindPing, CorrelationID: 2}))

	got, err := sub.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.CorrelationID)
	_, err = sub.Receive(ctx)
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

func TestCloseUnblocksReceive(t *testing.T) {
	ctx := context.Background()
	f := NewFabric(0)

	sub, err := f.Connect(ctx, "x")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := sub.Receive(ctx)
		errCh <- err
	}()

	require.NoError(t, sub.Close())
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, domain.ErrChannelClosed)
	case <-time.After(time.Second):
		t.Fatal("receive did not return after close")
	}
	assert.Equal(t, 0, f.Subscribers("x"))

	require.NoError(t, f.Close())
	_, err = f.Connect(ctx, "x")
	assert.ErrorIs(t, err, domain.ErrChannelClosed)
}

func TestReceiveHonoursContextDeadline(t *testing.T) {
	f := NewFabric(0)
	defer f.Close()
	sub, _ := f.Connect(context.Background(), "x")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := sub.Receive(ctx)
	assert.ErrorIs(t, err, domain.ErrTimeout)

	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	_, err = sub.Receive(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
