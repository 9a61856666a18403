package origami

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

// ReceiveFunction takes a decoded inbound envelope. the callback must
// not block for long, the session reader is single threaded.
type ReceiveFunction func(message any)

type RtuTransportSettings struct {
	WsHandshakeTimeout time.Duration
	AuthTimeout        time.Duration
	WriteTimeout       time.Duration
	// the writer pings when the connection is idle this long
	PingInterval time.Duration
	// the reader gives up when nothing arrives for PingInterval plus
	// PongTimeout
	PongTimeout    time.Duration
	SendBufferSize int
	// consecutive undecodable frames before the connection is recycled
	DecodeErrorThreshold int
	// sent on the websocket handshake. some backends reject the
	// upgrade without it.
	OriginHeader string
	// consecutive failed connects before giving up. 0 retries until
	// Close.
	MaxReconnectAttempts int
	BackoffSettings      *BackoffSettings
}

func DefaultRtuTransportSettings() *RtuTransportSettings {
	return &RtuTransportSettings{
		WsHandshakeTimeout:   5 * time.Second,
		AuthTimeout:          5 * time.Second,
		WriteTimeout:         5 * time.Second,
		PingInterval:         10 * time.Second,
		PongTimeout:          20 * time.Second,
		SendBufferSize:       32,
		DecodeErrorThreshold: 8,
		BackoffSettings:      DefaultBackoffSettings(),
	}
}

// RtuTransport maintains one authenticated websocket to the realtime
// backend. it redials with backoff when the connection drops and
// authenticates in band on every fresh connection. messages queued
// while a connection dies are dropped, higher layers resubscribe and
// resubmit after reconnect.
type RtuTransport struct {
	ctx    context.Context
	cancel context.CancelFunc

	rtuUrl string
	auth   *ClientAuth

	receive ReceiveFunction

	monitor *ConnectionMonitor

	settings *RtuTransportSettings

	mutex sync.Mutex
	send  chan []byte
}

func NewRtuTransportWithDefaults(
	ctx context.Context,
	rtuUrl string,
	auth *ClientAuth,
	receive ReceiveFunction,
) *RtuTransport {
	return NewRtuTransport(ctx, rtuUrl, auth, receive, DefaultRtuTransportSettings())
}

func NewRtuTransport(
	ctx context.Context,
	rtuUrl string,
	auth *ClientAuth,
	receive ReceiveFunction,
	settings *RtuTransportSettings,
) *RtuTransport {
	cancelCtx, cancel := context.WithCancel(ctx)
	transport := &RtuTransport{
		ctx:      cancelCtx,
		cancel:   cancel,
		rtuUrl:   rtuUrl,
		auth:     auth,
		receive:  receive,
		monitor:  NewConnectionMonitor(),
		settings: settings,
	}
	go transport.run()
	return transport
}

func (self *RtuTransport) Monitor() *ConnectionMonitor {
	return self.monitor
}

func (self *RtuTransport) run() {
	defer func() {
		self.cancel()
		self.monitor.update(ConnectionStateClosed, nil)
	}()

	clientId := self.auth.ClientId

	authBytes, err := EncodeEnvelope(&AuthRequest{
		Token:      self.auth.Token,
		ClientId:   self.auth.ClientId,
		AppVersion: self.auth.AppVersion,
	})
	if err != nil {
		return
	}
	pingBytes, _ := EncodeEnvelope(&Ping{})
	pongBytes, _ := EncodeEnvelope(&Pong{})

	// auth failures that must not be retried surface here from the
	// reader goroutine
	sessionEndC := make(chan error, 1)

	reconnect := NewReconnect(self.settings.BackoffSettings)
	attempt := 0
	for {
		connect := func() (*websocket.Conn, error) {
			dialer := &websocket.Dialer{
				HandshakeTimeout: self.settings.WsHandshakeTimeout,
				ReadBufferSize:   int(kib(64)),
				WriteBufferSize:  int(kib(64)),
			}
			header := http.Header{}
			header.Add("Authorization", fmt.Sprintf("Bearer %s", self.auth.Token))
			if self.settings.OriginHeader != "" {
				header.Add("Origin", self.settings.OriginHeader)
			}
			ws, _, err := dialer.DialContext(self.ctx, self.rtuUrl, header)
			if err != nil {
				return nil, err
			}

			success := false
			defer func() {
				if !success {
					ws.Close()
				}
			}()

			ws.SetWriteDeadline(time.Now().Add(self.settings.AuthTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, authBytes); err != nil {
				return nil, err
			}
			ws.SetReadDeadline(time.Now().Add(self.settings.AuthTimeout))
			_, message, err := ws.ReadMessage()
			if err != nil {
				return nil, err
			}
			reply, err := DecodeEnvelope(message)
			if err != nil {
				return nil, err
			}
			switch v := reply.(type) {
			case *AuthReply:
				if !v.Success {
					return nil, fmt.Errorf("%w: %s", ErrAuthRejected, v.Message)
				}
			case *ErrorReply:
				if v.Code == ErrorCodeAuthExpired {
					return nil, fmt.Errorf("%w: %s", ErrAuthExpired, v.Message)
				}
				return nil, fmt.Errorf("auth error %s: %s", v.Code, v.Message)
			default:
				return nil, fmt.Errorf("unexpected auth reply: %T", v)
			}

			success = true
			return ws, nil
		}

		var ws *websocket.Conn
		var err error
		if glog.V(2) {
			ws, err = TraceWithReturnError(fmt.Sprintf("[t]connect %s", clientId), connect)
		} else {
			ws, err = connect()
		}
		if err != nil {
			glog.Infof("[t]auth error %s = %s\n", clientId, err)
			if errors.Is(err, ErrAuthRejected) || errors.Is(err, ErrAuthExpired) {
				// a new token is needed, retrying would just loop
				self.monitor.update(ConnectionStateClosed, err)
				return
			}
			attempt += 1
			if 0 < self.settings.MaxReconnectAttempts && self.settings.MaxReconnectAttempts <= attempt {
				self.monitor.update(ConnectionStateClosed, err)
				return
			}
			self.monitor.update(ConnectionStateReconnecting, err)
			select {
			case <-self.ctx.Done():
				return
			case <-reconnect.After():
				continue
			}
		}
		attempt = 0
		reconnect.Reset()

		c := func() {
			defer ws.Close()

			handleCtx, handleCancel := context.WithCancel(self.ctx)
			defer handleCancel()

			send := make(chan []byte, self.settings.SendBufferSize)
			self.setSend(send)
			defer self.setSend(nil)

			self.monitor.update(ConnectionStateConnected, nil)

			go func() {
				defer handleCancel()

				for {
					select {
					case <-handleCtx.Done():
						return
					case message, ok := <-send:
						if !ok {
							return
						}

						ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
						if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
							// note that for websocket a deadline timeout cannot be recovered
							glog.Infof("[ts]%s-> error = %s\n", clientId, err)
							return
						}
						glog.V(2).Infof("[ts]%s->\n", clientId)
					case <-time.After(self.settings.PingInterval):
						ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
						if err := ws.WriteMessage(websocket.TextMessage, pingBytes); err != nil {
							return
						}
					}
				}
			}()

			go func() {
				defer handleCancel()

				decodeFailures := 0
				for {
					select {
					case <-handleCtx.Done():
						return
					default:
					}

					ws.SetReadDeadline(time.Now().Add(self.settings.PingInterval + self.settings.PongTimeout))
					_, message, err := ws.ReadMessage()
					if err != nil {
						glog.Infof("[tr]%s<- error = %s\n", clientId, err)
						return
					}

					m, err := DecodeEnvelope(message)
					if err != nil {
						// drop the frame. if it was a commit the
						// sequence gap forces a resync.
						glog.Warningf("[tr]%s<- decode error = %s\n", clientId, err)
						decodeFailures += 1
						if 0 < self.settings.DecodeErrorThreshold && self.settings.DecodeErrorThreshold <= decodeFailures {
							// the peer is not speaking the protocol.
							// recycle the connection instead of
							// spinning on a bad stream.
							glog.Infof("[tr]%s<- decode error threshold reached\n", clientId)
							return
						}
						continue
					}
					decodeFailures = 0

					switch v := m.(type) {
					case *Ping:
						select {
						case <-handleCtx.Done():
							return
						case send <- pongBytes:
						}
					case *Pong:
						glog.V(2).Infof("[tr]pong %s<-\n", clientId)
					case *ErrorReply:
						if v.DocumentId != nil {
							self.receive(v)
						} else if v.Code == ErrorCodeAuthExpired {
							select {
							case sessionEndC <- fmt.Errorf("%w: %s", ErrAuthExpired, v.Message):
							default:
							}
							return
						} else {
							glog.Warningf("[tr]%s<- error reply %s: %s\n", clientId, v.Code, v.Message)
						}
					default:
						self.receive(v)
						glog.V(2).Infof("[tr]%s<-\n", clientId)
					}
				}
			}()

			select {
			case <-handleCtx.Done():
			}
		}
		if glog.V(2) {
			Trace(fmt.Sprintf("[t]connect run %s", clientId), c)
		} else {
			c()
		}
		select {
		case err := <-sessionEndC:
			self.monitor.update(ConnectionStateClosed, err)
			return
		default:
		}
		self.monitor.update(ConnectionStateReconnecting, nil)
		select {
		case <-self.ctx.Done():
			return
		case <-reconnect.After():
		}
	}
}

func (self *RtuTransport) setSend(send chan []byte) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.send = send
}

// SendEnvelopeWithTimeout queues one envelope on the current
// connection. timeout < 0 blocks until queued, timeout 0 queues only
// if there is room, otherwise waits up to timeout. a message queued on
// a connection that dies is dropped.
func (self *RtuTransport) SendEnvelopeWithTimeout(message any, timeout time.Duration) error {
	b, err := EncodeEnvelope(message)
	if err != nil {
		return err
	}

	self.mutex.Lock()
	send := self.send
	self.mutex.Unlock()

	if send == nil {
		return ErrNotConnected
	}

	if timeout < 0 {
		select {
		case <-self.ctx.Done():
			return ErrClosed
		case send <- b:
			return nil
		}
	} else if timeout == 0 {
		select {
		case <-self.ctx.Done():
			return ErrClosed
		case send <- b:
			return nil
		default:
			return ErrSendBufferFull
		}
	} else {
		select {
		case <-self.ctx.Done():
			return ErrClosed
		case send <- b:
			return nil
		case <-time.After(timeout):
			return ErrWriteTimeout
		}
	}
}

func (self *RtuTransport) SendEnvelope(message any) error {
	return self.SendEnvelopeWithTimeout(message, self.settings.WriteTimeout)
}

func (self *RtuTransport) Close() {
	self.cancel()
}
