package origami

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// makes a copy of the list on read. callbacks are identified by the id
// returned from Add, since function values are not comparable.
type CallbackList[T any] struct {
	mutex          sync.Mutex
	callbackIds    []int
	callbacks      map[int]T
	nextCallbackId int
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{
		callbackIds: []int{},
		callbacks:   map[int]T{},
	}
}

func (self *CallbackList[T]) Get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbacks := make([]T, 0, len(self.callbackIds))
	for _, callbackId := range self.callbackIds {
		callbacks = append(callbacks, self.callbacks[callbackId])
	}
	return callbacks
}

func (self *CallbackList[T]) Add(callback T) int {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbackId := self.nextCallbackId
	self.nextCallbackId += 1
	self.callbackIds = append(self.callbackIds, callbackId)
	self.callbacks[callbackId] = callback
	return callbackId
}

func (self *CallbackList[T]) Remove(callbackId int) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if _, ok := self.callbacks[callbackId]; !ok {
		// not present
		return
	}
	delete(self.callbacks, callbackId)
	for i, existingCallbackId := range self.callbackIds {
		if existingCallbackId == callbackId {
			self.callbackIds = append(self.callbackIds[0:i], self.callbackIds[i+1:]...)
			break
		}
	}
}

type ConnectionState string

const (
	ConnectionStateConnecting   ConnectionState = "Connecting"
	ConnectionStateConnected    ConnectionState = "Connected"
	ConnectionStateReconnecting ConnectionState = "Reconnecting"
	ConnectionStateClosed       ConnectionState = "Closed"
)

func (self ConnectionState) IsTerminal() bool {
	switch self {
	case ConnectionStateClosed:
		return true
	default:
		return false
	}
}

func (self ConnectionState) IsActive() bool {
	switch self {
	case ConnectionStateConnected:
		return true
	default:
		return false
	}
}

type ConnectionEvent struct {
	EventTime time.Time
	State     ConnectionState
	// set when the transition was caused by an error,
	// e.g. Closed with ErrAuthExpired
	Err error
}

type ConnectionEventFunction func(event *ConnectionEvent)

// ConnectionMonitor publishes the transport session state. once the
// state is terminal it does not change again.
type ConnectionMonitor struct {
	stateLock sync.Mutex
	state     ConnectionState
	err       error

	connectionEventCallbacks *CallbackList[ConnectionEventFunction]
}

func NewConnectionMonitor() *ConnectionMonitor {
	return &ConnectionMonitor{
		state:                    ConnectionStateConnecting,
		connectionEventCallbacks: NewCallbackList[ConnectionEventFunction](),
	}
}

func (self *ConnectionMonitor) State() ConnectionState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.state
}

func (self *ConnectionMonitor) Err() error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.err
}

func (self *ConnectionMonitor) AddConnectionEventCallback(connectionEventCallback ConnectionEventFunction) func() {
	callbackId := self.connectionEventCallbacks.Add(connectionEventCallback)
	return func() {
		self.connectionEventCallbacks.Remove(callbackId)
	}
}

func (self *ConnectionMonitor) update(state ConnectionState, err error) {
	var event *ConnectionEvent
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.state == state || self.state.IsTerminal() {
			return
		}
		self.state = state
		if err != nil {
			self.err = err
		}
		event = &ConnectionEvent{
			EventTime: time.Now(),
			State:     state,
			Err:       err,
		}
	}()

	if event != nil {
		for _, callback := range self.connectionEventCallbacks.Get() {
			callback(event)
		}
	}
}

type BackoffSettings struct {
	InitialInterval     time.Duration
	Multiplier          float64
	RandomizationFactor float64
	MaxInterval         time.Duration
}

func DefaultBackoffSettings() *BackoffSettings {
	return &BackoffSettings{
		InitialInterval:     500 * time.Millisecond,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
		MaxInterval:         15 * time.Second,
	}
}

// Reconnect spaces out connection attempts. each After call backs off
// further, Reset on a successful connection starts the schedule over.
type Reconnect struct {
	backOff *backoff.ExponentialBackOff
}

func NewReconnect(settings *BackoffSettings) *Reconnect {
	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = settings.InitialInterval
	backOff.Multiplier = settings.Multiplier
	backOff.RandomizationFactor = settings.RandomizationFactor
	backOff.MaxInterval = settings.MaxInterval
	// retry until the caller stops
	backOff.MaxElapsedTime = 0
	backOff.Reset()
	return &Reconnect{
		backOff: backOff,
	}
}

func (self *Reconnect) After() <-chan time.Time {
	next := self.backOff.NextBackOff()
	if next == backoff.Stop {
		next = self.backOff.MaxInterval
	}
	return time.After(next)
}

func (self *Reconnect) Reset() {
	self.backOff.Reset()
}
