package origami

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
)

type SubscriptionState string

const (
	SubscriptionStateSubscribing SubscriptionState = "Subscribing"
	SubscriptionStateSynced      SubscriptionState = "Synced"
	SubscriptionStateResyncing   SubscriptionState = "Resyncing"
	SubscriptionStateClosed      SubscriptionState = "Closed"
)

func (self SubscriptionState) IsTerminal() bool {
	switch self {
	case SubscriptionStateClosed:
		return true
	default:
		return false
	}
}

func (self SubscriptionState) IsSynced() bool {
	switch self {
	case SubscriptionStateSynced:
		return true
	default:
		return false
	}
}

type SubscriptionEventType string

const (
	SubscriptionEventTypeState            SubscriptionEventType = "State"
	SubscriptionEventTypeSnapshot         SubscriptionEventType = "Snapshot"
	SubscriptionEventTypeRemoteDelta      SubscriptionEventType = "RemoteDelta"
	SubscriptionEventTypeEditAcknowledged SubscriptionEventType = "EditAcknowledged"
	SubscriptionEventTypeEditRejected     SubscriptionEventType = "EditRejected"
)

type SubscriptionEvent struct {
	EventTime  time.Time
	DocumentId Id
	Type       SubscriptionEventType
	// subscription state after the event
	State SubscriptionState
	// confirmed sequence after the event
	Sequence uint64
	// set for Snapshot events
	Snapshot *SnapshotReply
	// set for RemoteDelta events
	Delta *Delta
	// set for EditAcknowledged and EditRejected events
	Edit *PendingEdit
	// set for EditRejected events and for Closed states caused by a
	// backend error
	Err *RtuError
}

type SubscriptionSettings struct {
	ReceiveBufferSize int
	EventBufferSize   int
	// commits held back while waiting for a snapshot
	ResyncBufferSize int
	// resend the subscribe request when no snapshot arrives in time
	SubscribeTimeout time.Duration
	ReplicaSettings  *ReplicaSettings
}

func DefaultSubscriptionSettings() *SubscriptionSettings {
	return &SubscriptionSettings{
		ReceiveBufferSize: 64,
		EventBufferSize:   64,
		ResyncBufferSize:  1024,
		SubscribeTimeout:  15 * time.Second,
		ReplicaSettings:   DefaultReplicaSettings(),
	}
}

// documentSequence drives one subscription. all protocol handling for
// the document runs on its goroutine, so the replica sees commits in
// order.
//
// the flow with the backend:
//
//	subscribe_request -> snapshot_reply -> Synced
//	delta/ack contiguous -> apply and advance
//	delta/ack duplicate  -> drop
//	delta/ack gap        -> subscribe_request again -> Resyncing
//
// while Resyncing, commits are buffered and replayed after the next
// snapshot. duplicates fall out via the sequence tracker.
type documentSequence struct {
	ctx    context.Context
	cancel context.CancelFunc

	manager *SubscriptionManager

	documentId Id
	replica    *Replica
	tracker    *SequenceTracker

	settings *SubscriptionSettings

	receiveC     chan any
	submitC      chan struct{}
	resubscribeC chan struct{}

	events chan *SubscriptionEvent

	stateLock sync.Mutex
	state     SubscriptionState
	closeErr  *RtuError

	// run goroutine only
	resyncBuffer []any

	unsubscribeOnce sync.Once
	// closed by the manager once the run goroutine has finished and the
	// document is unregistered
	doneC chan struct{}
}

func newDocumentSequence(
	ctx context.Context,
	manager *SubscriptionManager,
	documentId Id,
	settings *SubscriptionSettings,
) *documentSequence {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &documentSequence{
		ctx:          cancelCtx,
		cancel:       cancel,
		manager:      manager,
		documentId:   documentId,
		replica:      NewReplica(documentId, settings.ReplicaSettings),
		tracker:      NewSequenceTracker(1),
		settings:     settings,
		receiveC:     make(chan any, settings.ReceiveBufferSize),
		submitC:      make(chan struct{}, 1),
		resubscribeC: make(chan struct{}, 1),
		events:       make(chan *SubscriptionEvent, settings.EventBufferSize),
		state:        SubscriptionStateSubscribing,
		doneC:        make(chan struct{}),
	}
}

func (self *documentSequence) run() {
	defer func() {
		self.cancel()
		self.close()
	}()

	self.sendSubscribe()

	for {
		select {
		case <-self.ctx.Done():
			return
		case <-self.resubscribeC:
			// fresh connection. the subscription died with the old
			// one, so start over from the confirmed sequence.
			self.beginResync()
		case <-self.submitC:
			self.flushPendingSends()
		case message := <-self.receiveC:
			self.handleMessage(message)
		case <-time.After(self.settings.SubscribeTimeout):
			if !self.State().IsSynced() {
				self.sendSubscribe()
			}
		}
	}
}

func (self *documentSequence) State() SubscriptionState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.state
}

func (self *documentSequence) closeError() *RtuError {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.closeErr
}

func (self *documentSequence) setCloseError(err *RtuError) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.closeErr == nil {
		self.closeErr = err
	}
}

func (self *documentSequence) setState(state SubscriptionState) {
	self.stateLock.Lock()
	if self.state == state || self.state.IsTerminal() {
		self.stateLock.Unlock()
		return
	}
	self.state = state
	self.stateLock.Unlock()

	self.emit(&SubscriptionEvent{
		EventTime:  time.Now(),
		DocumentId: self.documentId,
		Type:       SubscriptionEventTypeState,
		State:      state,
		Sequence:   self.replica.ConfirmedSequence(),
	})
}

// events are delivered in order. a consumer that stops draining stalls
// the document goroutine, which the receive buffer and resync absorb.
func (self *documentSequence) emit(event *SubscriptionEvent) {
	select {
	case <-self.ctx.Done():
	case self.events <- event:
	}
}

func (self *documentSequence) close() {
	self.stateLock.Lock()
	alreadyClosed := self.state == SubscriptionStateClosed
	self.state = SubscriptionStateClosed
	closeErr := self.closeErr
	self.stateLock.Unlock()

	if !alreadyClosed {
		event := &SubscriptionEvent{
			EventTime:  time.Now(),
			DocumentId: self.documentId,
			Type:       SubscriptionEventTypeState,
			State:      SubscriptionStateClosed,
			Sequence:   self.replica.ConfirmedSequence(),
			Err:        closeErr,
		}
		select {
		case self.events <- event:
		default:
			// do not block shutdown on a stalled consumer
		}
	}
	close(self.events)
}

func (self *documentSequence) sendSubscribe() {
	request := &SubscribeRequest{
		DocumentId:         self.documentId,
		ResumeFromSequence: self.replica.ConfirmedSequence(),
	}
	if err := self.manager.transport.SendEnvelope(request); err != nil {
		// disconnected is fine, the reconnect callback subscribes again
		glog.V(1).Infof("[sub]%s subscribe send error = %s\n", self.documentId, err)
	}
}

func (self *documentSequence) beginResync() {
	if self.State().IsSynced() {
		self.setState(SubscriptionStateResyncing)
	}
	self.resyncBuffer = nil
	self.sendSubscribe()
}

func (self *documentSequence) bufferResync(message any) {
	if self.settings.ResyncBufferSize <= len(self.resyncBuffer) {
		// dropping a commit here at worst forces another resync via
		// the sequence gap after the snapshot
		glog.V(1).Infof("[sub]%s resync buffer full\n", self.documentId)
		self.resyncBuffer = self.resyncBuffer[1:]
	}
	self.resyncBuffer = append(self.resyncBuffer, message)
}

func (self *documentSequence) handleMessage(message any) {
	switch v := message.(type) {
	case *SnapshotReply:
		self.handleSnapshot(v)
	case *Delta:
		if self.State().IsSynced() {
			self.handleDelta(v)
		} else {
			self.bufferResync(v)
		}
	case *Ack:
		if self.State().IsSynced() {
			self.handleAck(v)
		} else {
			self.bufferResync(v)
		}
	case *Reject:
		self.handleReject(v)
	case *ErrorReply:
		self.handleErrorReply(v)
	default:
		glog.V(1).Infof("[sub]%s unexpected message %T\n", self.documentId, v)
	}
}

func (self *documentSequence) handleSnapshot(snapshot *SnapshotReply) {
	resubmit, committed, conflicted := self.replica.ApplySnapshot(snapshot)
	self.tracker.Reset(snapshot.Sequence + 1)

	glog.V(1).Infof(
		"[sub]%s snapshot seq=%d resubmit=%d committed=%d conflicted=%d\n",
		self.documentId, snapshot.Sequence, len(resubmit), len(committed), len(conflicted),
	)

	self.setState(SubscriptionStateSynced)
	self.emit(&SubscriptionEvent{
		EventTime:  time.Now(),
		DocumentId: self.documentId,
		Type:       SubscriptionEventTypeSnapshot,
		State:      SubscriptionStateSynced,
		Sequence:   snapshot.Sequence,
		Snapshot:   snapshot,
	})
	for _, edit := range committed {
		self.emit(&SubscriptionEvent{
			EventTime:  time.Now(),
			DocumentId: self.documentId,
			Type:       SubscriptionEventTypeEditAcknowledged,
			State:      SubscriptionStateSynced,
			Sequence:   snapshot.Sequence,
			Edit:       edit,
		})
	}
	for _, edit := range conflicted {
		self.emit(&SubscriptionEvent{
			EventTime:  time.Now(),
			DocumentId: self.documentId,
			Type:       SubscriptionEventTypeEditRejected,
			State:      SubscriptionStateSynced,
			Sequence:   snapshot.Sequence,
			Edit:       edit,
			Err:        NewRtuError(ErrorCodeConflict, "a confirmed write superseded this edit"),
		})
	}

	self.flushPendingSends()

	// replay commits that arrived while waiting for the snapshot.
	// stale ones fall out as duplicates.
	buffered := self.resyncBuffer
	self.resyncBuffer = nil
	for _, message := range buffered {
		self.handleMessage(message)
	}
}

func (self *documentSequence) handleDelta(delta *Delta) {
	switch self.tracker.Observe(delta.Sequence) {
	case SequenceStatusDuplicate:
		// redelivery after reconnect, already applied
		glog.V(1).Infof("[sub]%s duplicate delta seq=%d\n", self.documentId, delta.Sequence)
	case SequenceStatusGap:
		glog.Infof(
			"[sub]%s gap delta seq=%d expected=%d\n",
			self.documentId, delta.Sequence, self.tracker.NextSequence(),
		)
		self.beginResync()
		self.bufferResync(delta)
	case SequenceStatusContiguous:
		if delta.ClientId == self.manager.clientId {
			// this client's own edit echoed back counts as the ack
			if edit, ok := self.replica.Acknowledge(delta.EditId, delta.Sequence); ok {
				self.tracker.Advance(delta.Sequence)
				self.emit(&SubscriptionEvent{
					EventTime:  time.Now(),
					DocumentId: self.documentId,
					Type:       SubscriptionEventTypeEditAcknowledged,
					State:      self.State(),
					Sequence:   delta.Sequence,
					Edit:       edit,
				})
				return
			}
			// the pending edit is already resolved. apply the ops as
			// a remote commit so the confirmed content catches up.
			glog.V(1).Infof("[sub]%s own delta %s without pending edit\n", self.documentId, delta.EditId)
		}

		conflicted := self.replica.ApplyRemote(delta)
		self.tracker.Advance(delta.Sequence)
		self.emit(&SubscriptionEvent{
			EventTime:  time.Now(),
			DocumentId: self.documentId,
			Type:       SubscriptionEventTypeRemoteDelta,
			State:      self.State(),
			Sequence:   delta.Sequence,
			Delta:      delta,
		})
		for _, edit := range conflicted {
			self.emit(&SubscriptionEvent{
				EventTime:  time.Now(),
				DocumentId: self.documentId,
				Type:       SubscriptionEventTypeEditRejected,
				State:      self.State(),
				Sequence:   delta.Sequence,
				Edit:       edit,
				Err:        NewRtuError(ErrorCodeConflict, "a confirmed remote write touched the same path"),
			})
		}
	}
}

func (self *documentSequence) handleAck(ack *Ack) {
	switch self.tracker.Observe(ack.Sequence) {
	case SequenceStatusDuplicate:
		glog.V(1).Infof("[sub]%s duplicate ack seq=%d\n", self.documentId, ack.Sequence)
	case SequenceStatusGap:
		glog.Infof(
			"[sub]%s gap ack seq=%d expected=%d\n",
			self.documentId, ack.Sequence, self.tracker.NextSequence(),
		)
		self.beginResync()
		self.bufferResync(ack)
	case SequenceStatusContiguous:
		edit, ok := self.replica.Acknowledge(ack.EditId, ack.Sequence)
		self.tracker.Advance(ack.Sequence)
		if !ok {
			// the backend committed an edit this client no longer
			// tracks. the local history cannot be trusted.
			glog.Infof("[sub]%s ack for unknown edit %s\n", self.documentId, ack.EditId)
			self.beginResync()
			return
		}
		self.emit(&SubscriptionEvent{
			EventTime:  time.Now(),
			DocumentId: self.documentId,
			Type:       SubscriptionEventTypeEditAcknowledged,
			State:      self.State(),
			Sequence:   ack.Sequence,
			Edit:       edit,
		})
	}
}

func (self *documentSequence) handleReject(reject *Reject) {
	edit, ok := self.replica.Reject(reject.EditId)
	if !ok {
		glog.V(1).Infof("[sub]%s reject for unknown edit %s\n", self.documentId, reject.EditId)
		return
	}
	code := reject.Code
	if code == "" {
		code = ErrorCodeConflict
	}
	self.emit(&SubscriptionEvent{
		EventTime:  time.Now(),
		DocumentId: self.documentId,
		Type:       SubscriptionEventTypeEditRejected,
		State:      self.State(),
		Sequence:   self.replica.ConfirmedSequence(),
		Edit:       edit,
		Err:        NewRtuError(code, reject.Message),
	})
}

func (self *documentSequence) handleErrorReply(errorReply *ErrorReply) {
	glog.Infof("[sub]%s error %s: %s\n", self.documentId, errorReply.Code, errorReply.Message)
	self.setCloseError(NewRtuError(errorReply.Code, errorReply.Message))
	self.cancel()
}

func (self *documentSequence) flushPendingSends() {
	for _, edit := range self.replica.TakePendingSends() {
		delta := &Delta{
			DocumentId:     self.documentId,
			ParentSequence: edit.ParentSequence,
			EditId:         edit.EditId,
			ClientId:       self.manager.clientId,
			Operations:     edit.Operations,
		}
		if err := self.manager.transport.SendEnvelope(delta); err != nil {
			// requeue everything. the backend drops duplicate edit
			// ids, so a retransmission after reconnect is safe.
			glog.V(1).Infof("[sub]%s delta send error = %s\n", self.documentId, err)
			self.replica.RequeuePendingSends()
			return
		}
	}
}

func (self *documentSequence) submit(operations []*Operation) (Id, error) {
	if self.State().IsTerminal() {
		return Id{}, ErrSubscriptionClosed
	}
	edit, err := self.replica.Submit(operations)
	if err != nil {
		return Id{}, err
	}
	select {
	case self.submitC <- struct{}{}:
	default:
		// a flush is already queued
	}
	return edit.EditId, nil
}

func (self *documentSequence) notifyResubscribe() {
	select {
	case self.resubscribeC <- struct{}{}:
	default:
	}
}

func (self *documentSequence) unsubscribe() {
	self.unsubscribeOnce.Do(func() {
		// best effort. the backend also drops the subscription when
		// the connection goes away.
		self.manager.transport.SendEnvelopeWithTimeout(&UnsubscribeRequest{
			DocumentId: self.documentId,
		}, 0)
		self.cancel()
	})
}
