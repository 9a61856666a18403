package origami

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any](ctx context.Context) (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R], 1)
	apiCallback := NewApiCallback[R](func(result R, err error) {
		select {
		case <-ctx.Done():
		case c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}:
		}
	})
	return apiCallback, c
}

// OrigamiApi is the rest side of the platform, used for the oauth
// token exchange and for document metadata that does not flow over
// the realtime socket.
type OrigamiApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string

	token string
}

func NewOrigamiApi(apiUrl string) *OrigamiApi {
	return NewOrigamiApiWithContext(context.Background(), apiUrl)
}

func NewOrigamiApiWithContext(ctx context.Context, apiUrl string) *OrigamiApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &OrigamiApi{
		ctx:    cancelCtx,
		cancel: cancel,
		apiUrl: apiUrl,
	}
}

// this gets attached to api calls that need it
func (self *OrigamiApi) SetToken(token string) {
	self.token = token
}

type OauthTokenCallback apiCallback[*OauthTokenResult]

type OauthTokenArgs struct {
	GrantType    string `json:"grant_type"`
	ClientId     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Audience     string `json:"audience,omitempty"`
}

type OauthTokenResult struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	ExpiresIn   int    `json:"expires_in,omitempty"`
}

// OauthToken exchanges client credentials for a bearer token. the
// token server may live on a different host than the api, pass the
// full url.
func (self *OrigamiApi) OauthToken(tokenUrl string, oauthToken *OauthTokenArgs, callback OauthTokenCallback) {
	go post(
		self.ctx,
		tokenUrl,
		oauthToken,
		"",
		&OauthTokenResult{},
		callback,
	)
}

type GetNotebookCallback apiCallback[*NotebookFile]

func (self *OrigamiApi) GetNotebook(fileId Id, callback GetNotebookCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/files/%s", self.apiUrl, fileId),
		self.token,
		&NotebookFile{},
		callback,
	)
}

type GetKernelSessionsCallback apiCallback[[]*KernelSession]

type KernelSession struct {
	SessionId Id          `json:"id"`
	FileId    Id          `json:"file_id,omitempty"`
	Kernel    *KernelInfo `json:"kernel,omitempty"`
}

type KernelInfo struct {
	Name           string `json:"name,omitempty"`
	ExecutionState string `json:"execution_state,omitempty"`
	HardwareSize   string `json:"hardware_size,omitempty"`
}

// GetKernelSessions lists the live kernel sessions for a notebook.
// empty when no kernel is running.
func (self *OrigamiApi) GetKernelSessions(fileId Id, callback GetKernelSessionsCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/files/%s/sessions", self.apiUrl, fileId),
		self.token,
		[]*KernelSession{},
		callback,
	)
}

type LaunchKernelSessionCallback apiCallback[*KernelSession]

type LaunchKernelSessionArgs struct {
	FileId       Id     `json:"file_id"`
	KernelName   string `json:"kernel_name,omitempty"`
	HardwareSize string `json:"hardware_size,omitempty"`
}

func (self *OrigamiApi) LaunchKernelSession(launchKernelSession *LaunchKernelSessionArgs, callback LaunchKernelSessionCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/sessions", self.apiUrl),
		launchKernelSession,
		self.token,
		&KernelSession{},
		callback,
	)
}

func (self *OrigamiApi) Close() {
	self.cancel()
}

func post[R any](ctx context.Context, url string, args any, token string, result R, callback apiCallback[R]) (R, error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "text/json")

	if token != "" {
		auth := fmt.Sprintf("Bearer %s", token)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if http.StatusOK != r.StatusCode {
		// the response body is the error message
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		err = errors.New(errorMessage)
		callback.Result(result, err)
		return result, err
	}

	if err != nil {
		callback.Result(result, err)
		return result, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}

func get[R any](ctx context.Context, url string, token string, result R, callback apiCallback[R]) (R, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "text/json")

	if token != "" {
		auth := fmt.Sprintf("Bearer %s", token)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if http.StatusOK != r.StatusCode {
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		err = errors.New(errorMessage)
		callback.Result(result, err)
		return result, err
	}

	if err != nil {
		callback.Result(result, err)
		return result, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}
