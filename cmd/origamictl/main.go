package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/docopt/docopt-go"

	"github.com/noteable/origami"
)

func main() {
	usage := fmt.Sprintf(
		`Origami control.

The default urls are derived from the domain in the config:
    api_url: %s
    rtu_url: %s

Usage:
    origamictl token --config=<config>
        [--client_id=<client_id>]
        [--client_secret=<client_secret>]
    origamictl info --config=<config> [--token=<token>] <document_id>
    origamictl tail --config=<config> [--token=<token>] <document_id>
        [--verbose]
    origamictl edit --config=<config> [--token=<token>] <document_id>
        --cell=<cell_id>
        [<source>]

Options:
    -h --help                      Show this screen.
    --version                      Show version.
    --config=<config>              TOML config path.
    --token=<token>                Bearer token. Overrides the config token.
    --client_id=<client_id>        Oauth client id. Overrides the config.
    --client_secret=<client_secret>  Oauth client secret. Overrides the config.
    --cell=<cell_id>               Cell to edit.
    --verbose                      Log the session to stderr.`,
		origami.ApiUrlForDomain(origami.DefaultDomain),
		origami.RtuUrlForDomain(origami.DefaultDomain),
	)

	opts, err := docopt.ParseArgs(usage, os.Args[1:], origami.Version)
	if err != nil {
		panic(err)
	}

	if verbose_, _ := opts.Bool("--verbose"); verbose_ {
		flag.Set("logtostderr", "true")
		flag.Set("stderrthreshold", "INFO")
		flag.Set("v", "1")
	}
	flag.CommandLine.Parse([]string{})

	if token_, _ := opts.Bool("token"); token_ {
		token(opts)
	} else if info_, _ := opts.Bool("info"); info_ {
		info(opts)
	} else if tail_, _ := opts.Bool("tail"); tail_ {
		tail(opts)
	} else if edit_, _ := opts.Bool("edit"); edit_ {
		edit(opts)
	}
}

func loadConfig(opts docopt.Opts) *origami.Config {
	path := opts["--config"].(string)
	config, err := origami.LoadConfig(path)
	if err != nil {
		panic(err)
	}
	return config
}

func configToken(opts docopt.Opts, config *origami.Config) string {
	if tokenAny := opts["--token"]; tokenAny != nil {
		return tokenAny.(string)
	}
	if config.Token == "" {
		panic(fmt.Errorf("missing token. Pass --token or set token in the config."))
	}
	return config.Token
}

func requireId(opts docopt.Opts, key string) origami.Id {
	id, err := origami.ParseId(opts[key].(string))
	if err != nil {
		panic(err)
	}
	return id
}

func token(opts docopt.Opts) {
	config := loadConfig(opts)

	clientId := config.ClientId
	if clientIdAny := opts["--client_id"]; clientIdAny != nil {
		clientId = clientIdAny.(string)
	}
	clientSecret := config.ClientSecret
	if clientSecretAny := opts["--client_secret"]; clientSecretAny != nil {
		clientSecret = clientSecretAny.(string)
	}
	if clientSecret == "" {
		fmt.Print("Enter client secret: ")
		clientSecretBytes, err := term.ReadPassword(int(syscall.Stdin))
		if err != nil {
			panic(err)
		}
		clientSecret = string(clientSecretBytes)
		fmt.Printf("\n")
	}

	if config.AuthDomain == "" {
		panic(fmt.Errorf("missing auth_domain in the config."))
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := origami.NewOrigamiApiWithContext(cancelCtx, config.ClientSettings().ApiUrl)

	oauthCallback, oauthChannel := origami.NewBlockingApiCallback[*origami.OauthTokenResult](cancelCtx)

	oauthArgs := &origami.OauthTokenArgs{
		GrantType:    "client_credentials",
		ClientId:     clientId,
		ClientSecret: clientSecret,
		Audience:     config.Audience,
	}

	api.OauthToken(config.TokenUrl(), oauthArgs, oauthCallback)

	var oauthResult origami.ApiCallbackResult[*origami.OauthTokenResult]
	select {
	case <-cancelCtx.Done():
		os.Exit(0)
	case oauthResult = <-oauthChannel:
	}

	if oauthResult.Error != nil {
		panic(oauthResult.Error)
	}

	fmt.Printf("%s\n", oauthResult.Result.AccessToken)
}

func info(opts docopt.Opts) {
	config := loadConfig(opts)
	documentId := requireId(opts, "<document_id>")

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := origami.NewOrigamiApiWithContext(cancelCtx, config.ClientSettings().ApiUrl)
	api.SetToken(configToken(opts, config))

	notebookCallback, notebookChannel := origami.NewBlockingApiCallback[*origami.NotebookFile](cancelCtx)
	api.GetNotebook(documentId, notebookCallback)

	var notebookResult origami.ApiCallbackResult[*origami.NotebookFile]
	select {
	case <-cancelCtx.Done():
		os.Exit(0)
	case notebookResult = <-notebookChannel:
	}
	if notebookResult.Error != nil {
		panic(notebookResult.Error)
	}

	sessionsCallback, sessionsChannel := origami.NewBlockingApiCallback[[]*origami.KernelSession](cancelCtx)
	api.GetKernelSessions(documentId, sessionsCallback)

	var sessionsResult origami.ApiCallbackResult[[]*origami.KernelSession]
	select {
	case <-cancelCtx.Done():
		os.Exit(0)
	case sessionsResult = <-sessionsChannel:
	}
	if sessionsResult.Error != nil {
		panic(sessionsResult.Error)
	}

	out := map[string]any{
		"file":     notebookResult.Result,
		"sessions": sessionsResult.Result,
	}
	outJson, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		panic(err)
	}
	fmt.Printf("%s\n", outJson)
}

func tail(opts docopt.Opts) {
	config := loadConfig(opts)
	documentId := requireId(opts, "<document_id>")

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := origami.NewClient(cancelCtx, configToken(opts, config), config.ClientSettings())
	defer client.Close()

	subscription, err := client.Subscribe(documentId)
	if err != nil {
		panic(err)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		cancel()
	}()

	for event := range subscription.Events() {
		printEvent(event)
	}
	if err := subscription.Err(); err != nil {
		panic(err)
	}
}

func printEvent(event *origami.SubscriptionEvent) {
	switch event.Type {
	case origami.SubscriptionEventTypeState:
		fmt.Printf("[%s] state %s\n", event.DocumentId, event.State)
	case origami.SubscriptionEventTypeSnapshot:
		fmt.Printf("[%s] snapshot seq=%d paths=%d\n", event.DocumentId, event.Sequence, len(event.Snapshot.Content))
	case origami.SubscriptionEventTypeRemoteDelta:
		paths := []string{}
		for _, operation := range event.Delta.Operations {
			paths = append(paths, fmt.Sprintf("%s %s", operation.Kind, operation.Path))
		}
		fmt.Printf("[%s] delta seq=%d %s\n", event.DocumentId, event.Sequence, strings.Join(paths, ", "))
	case origami.SubscriptionEventTypeEditAcknowledged:
		fmt.Printf("[%s] ack edit=%s seq=%d\n", event.DocumentId, event.Edit.EditId, event.Sequence)
	case origami.SubscriptionEventTypeEditRejected:
		fmt.Printf("[%s] reject edit=%s: %s\n", event.DocumentId, event.Edit.EditId, event.Err)
	}
}

func edit(opts docopt.Opts) {
	config := loadConfig(opts)
	documentId := requireId(opts, "<document_id>")
	cellId := requireId(opts, "--cell")

	var source string
	if sourceAny := opts["<source>"]; sourceAny != nil {
		source = sourceAny.(string)
	} else {
		// read the new cell source from stdin
		sourceBytes, err := io.ReadAll(os.Stdin)
		if err != nil {
			panic(err)
		}
		source = string(sourceBytes)
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		cancel()
	}()

	client := origami.NewClient(cancelCtx, configToken(opts, config), config.ClientSettings())
	defer client.Close()

	subscription, err := client.Subscribe(documentId)
	if err != nil {
		panic(err)
	}

	var editId origami.Id
	submitted := false
	for event := range subscription.Events() {
		switch event.Type {
		case origami.SubscriptionEventTypeState:
			if event.State == origami.SubscriptionStateSynced && !submitted {
				editId, err = subscription.Submit(origami.ReplaceCellSource(cellId, source))
				if err != nil {
					panic(err)
				}
				submitted = true
			}
		case origami.SubscriptionEventTypeEditAcknowledged:
			if submitted && event.Edit.EditId == editId {
				fmt.Printf("ack edit=%s seq=%d\n", editId, event.Sequence)
				return
			}
		case origami.SubscriptionEventTypeEditRejected:
			if submitted && event.Edit.EditId == editId {
				panic(fmt.Errorf("edit rejected: %s", event.Err))
			}
		}
	}
	if err := subscription.Err(); err != nil {
		panic(err)
	}
}
