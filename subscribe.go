package origami

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/exp/maps"
)

type SubscriptionManagerSettings struct {
	SubscriptionSettings *SubscriptionSettings
	RtuTransportSettings *RtuTransportSettings
}

func DefaultSubscriptionManagerSettings() *SubscriptionManagerSettings {
	return &SubscriptionManagerSettings{
		SubscriptionSettings: DefaultSubscriptionSettings(),
		RtuTransportSettings: DefaultRtuTransportSettings(),
	}
}

// SubscriptionManager owns the realtime session and routes inbound
// document messages to one sequence goroutine per subscribed
// document. when the session reconnects, every subscription is
// resubscribed from its confirmed sequence.
type SubscriptionManager struct {
	ctx    context.Context
	cancel context.CancelFunc

	clientId Id

	transport *RtuTransport

	settings *SubscriptionManagerSettings

	mutex             sync.Mutex
	documentSequences map[Id]*documentSequence
}

func NewSubscriptionManagerWithDefaults(
	ctx context.Context,
	rtuUrl string,
	auth *ClientAuth,
) *SubscriptionManager {
	return NewSubscriptionManager(ctx, rtuUrl, auth, DefaultSubscriptionManagerSettings())
}

func NewSubscriptionManager(
	ctx context.Context,
	rtuUrl string,
	auth *ClientAuth,
	settings *SubscriptionManagerSettings,
) *SubscriptionManager {
	cancelCtx, cancel := context.WithCancel(ctx)
	manager := &SubscriptionManager{
		ctx:               cancelCtx,
		cancel:            cancel,
		clientId:          auth.ClientId,
		settings:          settings,
		documentSequences: map[Id]*documentSequence{},
	}
	manager.transport = NewRtuTransport(cancelCtx, rtuUrl, auth, manager.receive, settings.RtuTransportSettings)
	manager.transport.Monitor().AddConnectionEventCallback(manager.connectionEvent)
	return manager
}

func (self *SubscriptionManager) ClientId() Id {
	return self.clientId
}

func (self *SubscriptionManager) Transport() *RtuTransport {
	return self.transport
}

func (self *SubscriptionManager) Monitor() *ConnectionMonitor {
	return self.transport.Monitor()
}

func messageDocumentId(message any) (Id, bool) {
	switch v := message.(type) {
	case *SnapshotReply:
		return v.DocumentId, true
	case *Delta:
		return v.DocumentId, true
	case *Ack:
		return v.DocumentId, true
	case *Reject:
		return v.DocumentId, true
	case *ErrorReply:
		if v.DocumentId != nil {
			return *v.DocumentId, true
		}
		return Id{}, false
	default:
		return Id{}, false
	}
}

// ReceiveFunction
func (self *SubscriptionManager) receive(message any) {
	documentId, ok := messageDocumentId(message)
	if !ok {
		glog.V(1).Infof("[subm]unroutable message %T\n", message)
		return
	}

	self.mutex.Lock()
	sequence, ok := self.documentSequences[documentId]
	self.mutex.Unlock()
	if !ok {
		// can happen briefly after an unsubscribe
		glog.V(1).Infof("[subm]%s message for unsubscribed document\n", documentId)
		return
	}

	select {
	case sequence.receiveC <- message:
	case <-sequence.ctx.Done():
	default:
		// slow consumer. drop the commit, the sequence gap forces a
		// resync once the document goroutine catches up.
		glog.Warningf("[subm]%s receive buffer full\n", documentId)
	}
}

// ConnectionEventFunction
func (self *SubscriptionManager) connectionEvent(event *ConnectionEvent) {
	switch event.State {
	case ConnectionStateConnected:
		self.mutex.Lock()
		sequences := maps.Values(self.documentSequences)
		self.mutex.Unlock()

		for _, sequence := range sequences {
			sequence.notifyResubscribe()
		}
	}
}

// Subscribe opens a subscription for the document. the returned
// subscription is the single consumer of the document's events.
// subscribing a document twice is an error.
func (self *SubscriptionManager) Subscribe(documentId Id) (*Subscription, error) {
	select {
	case <-self.ctx.Done():
		return nil, ErrClosed
	default:
	}

	self.mutex.Lock()
	if _, ok := self.documentSequences[documentId]; ok {
		self.mutex.Unlock()
		return nil, ErrAlreadySubscribed
	}
	sequence := newDocumentSequence(self.ctx, self, documentId, self.settings.SubscriptionSettings)
	self.documentSequences[documentId] = sequence
	self.mutex.Unlock()

	go func() {
		HandleError(sequence.run)

		self.mutex.Lock()
		if sequence == self.documentSequences[documentId] {
			delete(self.documentSequences, documentId)
		}
		self.mutex.Unlock()
		close(sequence.doneC)
	}()

	return newSubscription(sequence), nil
}

// Unsubscribe closes the document's subscription. when it returns, no
// further events are delivered and the document id is free to
// subscribe again. the terminal Closed event is already buffered for
// the consumer to drain.
func (self *SubscriptionManager) Unsubscribe(documentId Id) error {
	self.mutex.Lock()
	sequence, ok := self.documentSequences[documentId]
	self.mutex.Unlock()
	if !ok {
		return ErrNotSubscribed
	}
	sequence.unsubscribe()
	<-sequence.doneC
	return nil
}

func (self *SubscriptionManager) IsSubscribed(documentId Id) bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	_, ok := self.documentSequences[documentId]
	return ok
}

func (self *SubscriptionManager) SubscribedDocumentIds() []Id {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	return maps.Keys(self.documentSequences)
}

// Submit stages an edit on a subscribed document
func (self *SubscriptionManager) Submit(documentId Id, operations ...*Operation) (Id, error) {
	self.mutex.Lock()
	sequence, ok := self.documentSequences[documentId]
	self.mutex.Unlock()
	if !ok {
		return Id{}, ErrNotSubscribed
	}
	return sequence.submit(operations)
}

func (self *SubscriptionManager) Close() {
	self.cancel()
}

// Subscription is the caller's handle on one subscribed document
type Subscription struct {
	sequence *documentSequence
}

func newSubscription(sequence *documentSequence) *Subscription {
	return &Subscription{
		sequence: sequence,
	}
}

func (self *Subscription) DocumentId() Id {
	return self.sequence.documentId
}

func (self *Subscription) State() SubscriptionState {
	return self.sequence.State()
}

// Err is the backend error that closed the subscription, if any
func (self *Subscription) Err() error {
	if err := self.sequence.closeError(); err != nil {
		return err
	}
	return nil
}

// Events must be drained by the consumer. the channel closes after
// the Closed state event.
func (self *Subscription) Events() <-chan *SubscriptionEvent {
	return self.sequence.events
}

func (self *Subscription) Replica() *Replica {
	return self.sequence.replica
}

func (self *Subscription) Content() DocumentContent {
	return self.sequence.replica.Content()
}

func (self *Subscription) Get(path DocumentPath) (json.RawMessage, bool) {
	return self.sequence.replica.Get(path)
}

func (self *Subscription) ConfirmedSequence() uint64 {
	return self.sequence.replica.ConfirmedSequence()
}

// Submit stages an edit. the edit applies to reads immediately and is
// acknowledged or rejected later via Events.
func (self *Subscription) Submit(operations ...*Operation) (Id, error) {
	return self.sequence.submit(operations)
}

// Close unsubscribes the document. when it returns, no further events
// are delivered.
func (self *Subscription) Close() {
	self.sequence.unsubscribe()
	<-self.sequence.doneC
}
