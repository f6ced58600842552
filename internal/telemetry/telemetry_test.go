package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubDeliversToSubscriber(t *testing.T) {
	h := NewHub()
	ch, unsubscribe := h.Subscribe(4)
	defer unsubscribe()

	h.EmitRequest(RequestRecord{RequestID: "r1", Status: "completed"})

	select {
	case evt := <-ch:
		require.NotNil(t, evt.Request)
		assert.Equal(t, "r1", evt.Request.RequestID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestHubDropsWhenSubscriberBufferFull(t *testing.T) {
	h := NewHub()
	ch, unsubscribe := h.Subscribe(1)
	defer unsubscribe()

	h.EmitLog("first")
	h.EmitLog("second") // buffer is full; this must not block

	evt := <-ch
	assert.Equal(t, "first", evt.Log)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := NewHub()
	ch, unsubscribe := h.Subscribe(1)
	unsubscribe()

	_, open := <-ch
	assert.False(t, open)
}
