package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/control-tower/backend/internal/storage/models"
)

func TestFeedDeliversToAllSubscribers(t *testing.T) {
	f := NewFeed()

	ch1, cancel1 := f.Subscribe()
	ch2, cancel2 := f.Subscribe()
	defer cancel1()
	defer cancel2()

	require.Equal(t, 2, f.Subscribers())

	f.Publish(models.Signal{ID: "s1", Level: "risk"})

	assert.Equal(t, "s1", (<-ch1).ID)
	assert.Equal(t, "s1", (<-ch2).ID)
}

func TestFeedDropsWhenSubscriberIsFull(t *testing.T) {
	f := NewFeed()

	ch, cancel := f.Subscribe()
	defer cancel()

	// Overfill the buffer; Publish must not block.
	for i := 0; i < 100; i++ {
		f.Publish(models.Signal{ID: "s", Level: "info"})
	}

	drained := 0
	for {
		select {
		case <-ch:
			drained++
			continue
		default:
		}
		break
	}
	assert.Equal(t, 64, drained)
}

func TestFeedCancelIsIdempotent(t *testing.T) {
	f := NewFeed()

	_, cancel := f.Subscribe()
	cancel()
	cancel()

	assert.Zero(t, f.Subscribers())

	// Publishing with no subscribers is a no-op.
	f.Publish(models.Signal{ID: "s1"})
}
