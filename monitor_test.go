package origami

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestCallbackList(t *testing.T) {
	callbacks := NewCallbackList[func() int]()

	oneId := callbacks.Add(func() int { return 1 })
	callbacks.Add(func() int { return 2 })

	values := []int{}
	for _, callback := range callbacks.Get() {
		values = append(values, callback())
	}
	// callbacks fire in add order
	assert.Equal(t, values, []int{1, 2})

	callbacks.Remove(oneId)
	values = []int{}
	for _, callback := range callbacks.Get() {
		values = append(values, callback())
	}
	assert.Equal(t, values, []int{2})

	// removing twice is a no-op
	callbacks.Remove(oneId)
	assert.Equal(t, len(callbacks.Get()), 1)
}

func TestConnectionMonitor(t *testing.T) {
	monitor := NewConnectionMonitor()
	assert.Equal(t, monitor.State(), ConnectionStateConnecting)

	events := []*ConnectionEvent{}
	remove := monitor.AddConnectionEventCallback(func(event *ConnectionEvent) {
		events = append(events, event)
	})

	monitor.update(ConnectionStateConnected, nil)
	assert.Equal(t, monitor.State(), ConnectionStateConnected)
	assert.Equal(t, len(events), 1)
	assert.Equal(t, events[0].State, ConnectionStateConnected)

	// a repeated state does not fire
	monitor.update(ConnectionStateConnected, nil)
	assert.Equal(t, len(events), 1)

	monitor.update(ConnectionStateReconnecting, nil)
	assert.Equal(t, len(events), 2)

	closeErr := errors.New("token expired")
	monitor.update(ConnectionStateClosed, closeErr)
	assert.Equal(t, monitor.State(), ConnectionStateClosed)
	assert.Equal(t, monitor.Err(), closeErr)
	assert.Equal(t, len(events), 3)
	assert.Equal(t, events[2].Err, closeErr)

	// terminal. nothing moves the state after closed
	monitor.update(ConnectionStateConnected, nil)
	assert.Equal(t, monitor.State(), ConnectionStateClosed)
	assert.Equal(t, len(events), 3)

	remove()
	assert.Equal(t, len(monitor.connectionEventCallbacks.Get()), 0)
}

func TestConnectionStates(t *testing.T) {
	assert.Equal(t, ConnectionStateClosed.IsTerminal(), true)
	assert.Equal(t, ConnectionStateConnected.IsTerminal(), false)
	assert.Equal(t, ConnectionStateReconnecting.IsTerminal(), false)

	assert.Equal(t, ConnectionStateConnected.IsActive(), true)
	assert.Equal(t, ConnectionStateConnecting.IsActive(), false)
	assert.Equal(t, ConnectionStateClosed.IsActive(), false)
}

func TestReconnectBackoff(t *testing.T) {
	settings := DefaultBackoffSettings()
	reconnect := NewReconnect(settings)

	// the schedule stays within the configured bounds
	for range 16 {
		next := reconnect.backOff.NextBackOff()
		minInterval := settings.InitialInterval / 2
		assert.Equal(t, minInterval <= next, true)
		assert.Equal(t, next <= settings.MaxInterval+settings.MaxInterval/2, true)
	}

	reconnect.Reset()
	next := reconnect.backOff.NextBackOff()
	// after a reset the schedule starts over near the initial interval
	upperBound := settings.InitialInterval + settings.InitialInterval/2
	assert.Equal(t, next <= upperBound, true)
}
