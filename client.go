package origami

import (
	"context"
	"encoding/json"
)

const Version = "0.1.0"

// Client bundles the rest api and the realtime subscription manager
// behind one token.
type Client struct {
	ctx    context.Context
	cancel context.CancelFunc

	auth *ClientAuth

	api *OrigamiApi

	manager *SubscriptionManager

	settings *ClientSettings
}

func NewClientWithDefaults(ctx context.Context, token string) *Client {
	return NewClient(ctx, token, DefaultClientSettings())
}

func NewClient(ctx context.Context, token string, settings *ClientSettings) *Client {
	cancelCtx, cancel := context.WithCancel(ctx)

	auth := NewClientAuth(token)

	api := NewOrigamiApiWithContext(cancelCtx, settings.ApiUrl)
	api.SetToken(token)

	manager := NewSubscriptionManager(cancelCtx, settings.RtuUrl, auth, settings.SubscriptionManagerSettings)

	return &Client{
		ctx:      cancelCtx,
		cancel:   cancel,
		auth:     auth,
		api:      api,
		manager:  manager,
		settings: settings,
	}
}

func (self *Client) Auth() *ClientAuth {
	return self.auth
}

func (self *Client) Api() *OrigamiApi {
	return self.api
}

func (self *Client) SubscriptionManager() *SubscriptionManager {
	return self.manager
}

func (self *Client) Monitor() *ConnectionMonitor {
	return self.manager.Monitor()
}

func (self *Client) Subscribe(documentId Id) (*Subscription, error) {
	return self.manager.Subscribe(documentId)
}

func (self *Client) Unsubscribe(documentId Id) error {
	return self.manager.Unsubscribe(documentId)
}

func (self *Client) Submit(documentId Id, operations ...*Operation) (Id, error) {
	return self.manager.Submit(documentId, operations...)
}

// ReplaceCellSource stages a full replacement of one cell's source
func (self *Client) ReplaceCellSource(documentId Id, cellId Id, source string) (Id, error) {
	return self.manager.Submit(documentId, ReplaceCellSource(cellId, source))
}

func (self *Client) SetMetadata(documentId Id, key string, value any) (Id, error) {
	operation, err := SetMetadata(key, value)
	if err != nil {
		return Id{}, err
	}
	return self.manager.Submit(documentId, operation)
}

func (self *Client) Get(documentId Id, path DocumentPath) (json.RawMessage, bool, error) {
	self.manager.mutex.Lock()
	sequence, ok := self.manager.documentSequences[documentId]
	self.manager.mutex.Unlock()
	if !ok {
		return nil, false, ErrNotSubscribed
	}
	value, ok := sequence.replica.Get(path)
	return value, ok, nil
}

func (self *Client) Close() {
	self.cancel()
	self.manager.Close()
	self.api.Close()
}
