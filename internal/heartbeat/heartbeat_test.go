package heartbeat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaleness(t *testing.T) {
	now := time.Now()
	assert.True(t, Heartbeat{At: now.Add(-11 * time.Second)}.IsStaleAt(now))
	assert.False(t, Heartbeat{At: now.Add(-5 * time.Second)}.IsStaleAt(now))
	assert.False(t, Now(nil, nil).IsStale())
	assert.True(t, Heartbeat{At: time.Now().Add(-5 * time.Minute)}.IsStale())
}

func TestNowCarriesError(t *testing.T) {
	hb := Now(Bool(false), errors.New("boom"))
	require.NotNil(t, hb.IsSynced)
	assert.False(t, *hb.IsSynced)
	assert.Equal(t, "boom", hb.Error)
	assert.True(t, hb.HasError())
	assert.False(t, Now(nil, nil).HasError())
}

func TestLabels(t *testing.T) {
	now := time.Now()
	fresh := func(s *bool) *Heartbeat { return &Heartbeat{At: now, IsSynced: s} }
	stale := func(s *bool) *Heartbeat { return &Heartbeat{At: now.Add(-time.Minute), IsSynced: s} }

	assert.Equal(t, LabelStarting, WorkerLabel(nil, now))
	assert.Equal(t, LabelRunning, WorkerLabel(fresh(nil), now))
	assert.Equal(t, LabelLostConnection, WorkerLabel(stale(nil), now))

	tests := []struct {
		hb   *Heartbeat
		want string
	}{
		{nil, LabelNotApplicable},
		{fresh(nil), LabelNotApplicable},
		{stale(nil), LabelNotApplicable},
		{fresh(Bool(true)), LabelSynced},
		{stale(Bool(true)), LabelLikelySynced},
		{fresh(Bool(false)), LabelUnsynced},
		{stale(Bool(false)), LabelLikelyUnsynced},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SyncLabel(tt.hb, now))
	}
}

func TestChannelLatestWins(t *testing.T) {
	c := NewChannel()
	_, ok := c.Latest()
	assert.False(t, ok)

	first := Heartbeat{At: time.Unix(1, 0), IsSynced: Bool(false)}
	second := Heartbeat{At: time.Unix(2, 0), IsSynced: Bool(true)}
	c.Publish(first)
	c.Publish(second)

	got, ok := c.Latest()
	require.True(t, ok)
	assert.True(t, got.Equal(second))
}

func TestSubscriberCannotMutatePublished(t *testing.T) {
	c := NewChannel()
	c.Publish(Heartbeat{At: time.Unix(1, 0), IsSynced: Bool(true)})
	sub := c.Subscribe()
	defer sub.Close()

	got, ok := sub.Latest()
	require.True(t, ok)
	*got.IsSynced = false

	again, _ := c.Latest()
	assert.True(t, *again.IsSynced)
}

func TestSubscriptionCoalescesAndOrders(t *testing.T) {
	c := NewChannel()
	sub := c.Subscribe()
	defer sub.Close()

	for i := 1; i <= 5; i++ {
		c.Publish(Heartbeat{At: time.Unix(int64(i), 0)})
	}
	select {
	case <-sub.C():
	default:
		t.Fatal("expected a notification")
	}
	hb, ok := sub.Next()
	require.True(t, ok)
	assert.Equal(t, int64(5), hb.At.Unix())

	_, ok = sub.Next()
	assert.False(t, ok, "no newer value should be reported twice")
}

func TestSubscriptionWait(t *testing.T) {
	c := NewChannel()
	sub := c.Subscribe()
	defer sub.Close()

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Publish(Heartbeat{At: time.Unix(7, 0)})
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	hb, err := sub.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), hb.At.Unix())

	short, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	_, err = sub.Wait(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMultipleSubscribersSeeMonotonicValues(t *testing.T) {
	c := NewChannel()
	const n = 4
	var wg sync.WaitGroup
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	subs := make([]*Subscription, n)
	for i := range subs {
		subs[i] = c.Subscribe()
	}
	assert.Equal(t, n, c.Subscribers())

	for _, s := range subs {
		wg.Add(1)
		go func(s *Subscription) {
			defer wg.Done()
			defer s.Close()
			var last int64
			for last < 100 {
				hb, err := s.Wait(ctx)
				if err != nil {
					t.Errorf("wait: %v", err)
					return
				}
				if hb.At.Unix() <= last {
					t.Errorf("went backwards: %d after %d", hb.At.Unix(), last)
					return
				}
				last = hb.At.Unix()
			}
		}(s)
	}
	for i := 1; i <= 100; i++ {
		c.Publish(Heartbeat{At: time.Unix(int64(i), 0)})
	}
	wg.Wait()
	assert.Equal(t, 0, c.Subscribers())
}
