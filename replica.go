package origami

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"sync"
	"time"

	"golang.org/x/exp/maps"
)

type OperationKind string

const (
	OperationKindSet    OperationKind = "set"
	OperationKindDelete OperationKind = "delete"
)

// Operation is one mutation of a document path.
// a set writes the value at the path. a delete removes the path and
// every path under it.
type Operation struct {
	Kind  OperationKind   `json:"kind"`
	Path  DocumentPath    `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
}

func NewSetOperation(path DocumentPath, value any) (*Operation, error) {
	valueJson, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return &Operation{
		Kind:  OperationKindSet,
		Path:  path,
		Value: valueJson,
	}, nil
}

func RequireSetOperation(path DocumentPath, value any) *Operation {
	operation, err := NewSetOperation(path, value)
	if err != nil {
		panic(err)
	}
	return operation
}

func NewDeleteOperation(path DocumentPath) *Operation {
	return &Operation{
		Kind: OperationKindDelete,
		Path: path,
	}
}

// DocumentContent is the flattened state of one document,
// path to json value
type DocumentContent map[DocumentPath]json.RawMessage

func (self DocumentContent) apply(operation *Operation) {
	switch operation.Kind {
	case OperationKindSet:
		self[operation.Path] = operation.Value
	case OperationKindDelete:
		delete(self, operation.Path)
		for path := range self {
			if operation.Path.IsParentOf(path) {
				delete(self, path)
			}
		}
	}
}

// values are compared structurally so that formatting differences
// between producers do not read as changes
func jsonEqual(a json.RawMessage, b json.RawMessage) bool {
	if bytes.Equal(a, b) {
		return true
	}
	var aValue any
	var bValue any
	if err := json.Unmarshal(a, &aValue); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bValue); err != nil {
		return false
	}
	return reflect.DeepEqual(aValue, bValue)
}

// PendingEdit is a local edit that has been applied optimistically but
// not yet committed by the backend. fields other than the send flag
// are immutable after submit.
type PendingEdit struct {
	EditId         Id
	Operations     []*Operation
	ParentSequence uint64
	SubmitTime     time.Time

	sent bool
}

func (self *PendingEdit) touches(path DocumentPath) bool {
	for _, operation := range self.Operations {
		if operation.Path.Overlaps(path) {
			return true
		}
	}
	return false
}

type ReplicaSettings struct {
	MaxPendingEditCount int
}

func DefaultReplicaSettings() *ReplicaSettings {
	return &ReplicaSettings{
		MaxPendingEditCount: 1024,
	}
}

// Replica is the local copy of one document. it tracks the last
// confirmed state from the backend plus a fifo of pending local edits.
// reads see the confirmed state with the pending edits applied on top.
// the backend is authoritative. when a remote commit touches a path
// that a pending edit also touches, the pending edit is dropped,
// the last confirmed write wins.
type Replica struct {
	documentId Id

	settings *ReplicaSettings

	mutex             sync.Mutex
	confirmedSequence uint64
	confirmedContent  DocumentContent
	pendingEdits      []*PendingEdit
}

func NewReplicaWithDefaults(documentId Id) *Replica {
	return NewReplica(documentId, DefaultReplicaSettings())
}

func NewReplica(documentId Id, settings *ReplicaSettings) *Replica {
	return &Replica{
		documentId:       documentId,
		settings:         settings,
		confirmedContent: DocumentContent{},
		pendingEdits:     []*PendingEdit{},
	}
}

func (self *Replica) DocumentId() Id {
	return self.documentId
}

func (self *Replica) ConfirmedSequence() uint64 {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	return self.confirmedSequence
}

func (self *Replica) ConfirmedContent() DocumentContent {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	return maps.Clone(self.confirmedContent)
}

// Content is the optimistic view, confirmed content with the pending
// edits applied in submit order. the returned map is a copy.
func (self *Replica) Content() DocumentContent {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	return self.contentLocked()
}

// must be called with `mutex`
func (self *Replica) contentLocked() DocumentContent {
	content := maps.Clone(self.confirmedContent)
	for _, edit := range self.pendingEdits {
		for _, operation := range edit.Operations {
			content.apply(operation)
		}
	}
	return content
}

func (self *Replica) Get(path DocumentPath) (json.RawMessage, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	value, ok := self.contentLocked()[path]
	return value, ok
}

func (self *Replica) PendingEdits() []*PendingEdit {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	return slices.Clone(self.pendingEdits)
}

func (self *Replica) PendingEditCount() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	return len(self.pendingEdits)
}

// Submit appends a pending edit. the edit is visible to reads
// immediately and queued for transmission.
func (self *Replica) Submit(operations []*Operation) (*PendingEdit, error) {
	if len(operations) == 0 {
		return nil, ErrEmptyEdit
	}
	for _, operation := range operations {
		if operation.Path == "" {
			return nil, fmt.Errorf("operation path must not be empty")
		}
		switch operation.Kind {
		case OperationKindSet, OperationKindDelete:
		default:
			return nil, fmt.Errorf("unknown operation kind: %s", operation.Kind)
		}
	}

	self.mutex.Lock()
	defer self.mutex.Unlock()

	if self.settings.MaxPendingEditCount <= len(self.pendingEdits) {
		return nil, ErrPendingLimit
	}

	edit := &PendingEdit{
		EditId:         NewId(),
		Operations:     slices.Clone(operations),
		ParentSequence: self.confirmedSequence,
		SubmitTime:     time.Now(),
	}
	self.pendingEdits = append(self.pendingEdits, edit)
	return edit, nil
}

// TakePendingSends returns the pending edits that have not been
// handed to the transport yet, oldest first, and marks them sent.
func (self *Replica) TakePendingSends() []*PendingEdit {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	edits := []*PendingEdit{}
	for _, edit := range self.pendingEdits {
		if !edit.sent {
			edit.sent = true
			edits = append(edits, edit)
		}
	}
	return edits
}

// RequeuePendingSends marks every pending edit unsent. used when the
// connection drops, since edits in flight on the old connection are
// not guaranteed to have arrived.
func (self *Replica) RequeuePendingSends() {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	for _, edit := range self.pendingEdits {
		edit.sent = false
	}
}

// Acknowledge commits a pending edit at `sequence`. the edit's
// operations fold into the confirmed content, which leaves the
// optimistic view unchanged. returns false when no pending edit
// matches, in which case only the sequence advances.
func (self *Replica) Acknowledge(editId Id, sequence uint64) (*PendingEdit, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if self.confirmedSequence < sequence {
		self.confirmedSequence = sequence
	}

	for i, edit := range self.pendingEdits {
		if edit.EditId == editId {
			for _, operation := range edit.Operations {
				self.confirmedContent.apply(operation)
			}
			self.pendingEdits = slices.Delete(slices.Clone(self.pendingEdits), i, i+1)
			return edit, true
		}
	}
	return nil, false
}

// Reject drops a pending edit without touching the confirmed state.
// the edit's effect disappears from the optimistic view.
func (self *Replica) Reject(editId Id) (*PendingEdit, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	for i, edit := range self.pendingEdits {
		if edit.EditId == editId {
			self.pendingEdits = slices.Delete(slices.Clone(self.pendingEdits), i, i+1)
			return edit, true
		}
	}
	return nil, false
}

// ApplyRemote applies a committed remote delta to the confirmed state.
// pending edits that touch any path of the delta are dropped and
// returned, the confirmed write wins over the optimistic one.
func (self *Replica) ApplyRemote(delta *Delta) []*PendingEdit {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.confirmedSequence = delta.Sequence
	for _, operation := range delta.Operations {
		self.confirmedContent.apply(operation)
	}

	conflicted := []*PendingEdit{}
	kept := []*PendingEdit{}
	for _, edit := range self.pendingEdits {
		conflict := false
		for _, operation := range delta.Operations {
			if edit.touches(operation.Path) {
				conflict = true
				break
			}
		}
		if conflict {
			conflicted = append(conflicted, edit)
		} else {
			kept = append(kept, edit)
		}
	}
	self.pendingEdits = kept
	return conflicted
}

// ApplySnapshot replaces the confirmed state wholesale and sorts the
// pending edits into three classes:
//   - committed: every operation already shows in the snapshot.
//     the backend applied the edit while the client was out of sync.
//   - conflicted: the snapshot shows a foreign change on a touched
//     path. the edit is dropped, last confirmed write wins.
//   - resubmit: the touched paths are unchanged. the edit stays
//     pending, rebased onto the snapshot sequence, and is queued for
//     transmission again.
//
// pending edits are evaluated oldest first against the state this
// client expected at the time of the edit, so a chain of edits on one
// path classifies correctly when an early link was committed.
func (self *Replica) ApplySnapshot(snapshot *SnapshotReply) (resubmit []*PendingEdit, committed []*PendingEdit, conflicted []*PendingEdit) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	expected := maps.Clone(self.confirmedContent)
	self.confirmedContent = maps.Clone(snapshot.Content)
	if self.confirmedContent == nil {
		self.confirmedContent = DocumentContent{}
	}
	self.confirmedSequence = snapshot.Sequence

	resubmit = []*PendingEdit{}
	committed = []*PendingEdit{}
	conflicted = []*PendingEdit{}

	for _, edit := range self.pendingEdits {
		allCommitted := true
		conflict := false
		for _, operation := range edit.Operations {
			expectedValue, expectedOk := expected[operation.Path]
			snapshotValue, snapshotOk := self.confirmedContent[operation.Path]

			var operationCommitted bool
			switch operation.Kind {
			case OperationKindSet:
				operationCommitted = snapshotOk && jsonEqual(snapshotValue, operation.Value)
			case OperationKindDelete:
				operationCommitted = !snapshotOk
			}
			if operationCommitted {
				continue
			}
			allCommitted = false

			unchanged := expectedOk == snapshotOk && (!expectedOk || jsonEqual(expectedValue, snapshotValue))
			if !unchanged {
				conflict = true
				break
			}
		}

		if conflict {
			conflicted = append(conflicted, edit)
			continue
		}
		// the edit still stands. fold it into the expected state so
		// that later edits in the chain compare against it.
		for _, operation := range edit.Operations {
			expected.apply(operation)
		}
		if allCommitted {
			committed = append(committed, edit)
		} else {
			edit.ParentSequence = snapshot.Sequence
			edit.sent = false
			resubmit = append(resubmit, edit)
		}
	}

	self.pendingEdits = resubmit
	return
}
