package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/anonto42/nearme/backend/pkg/errs"
	"github.com/docopt/docopt-go"
	"github.com/go-resty/resty/v2"
)

const version = "0.1.0"

var (
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", 0)
)

const usage = `NearMe control.

The token defaults to $NEARME_TOKEN; signin prints one.

Usage:
    nearmectl signin [--api=<url>] --email=<email> --password=<password>
    nearmectl request [--api=<url>] [--token=<token>] <user_id> [<message>]
    nearmectl accept [--api=<url>] [--token=<token>] <connection_id>
    nearmectl decline [--api=<url>] [--token=<token>] <connection_id>
    nearmectl resend [--api=<url>] [--token=<token>] <connection_id> [<message>]
    nearmectl list [--api=<url>] [--token=<token>]
    nearmectl declined [--api=<url>] [--token=<token>]
    nearmectl send [--api=<url>] [--token=<token>] <connection_id> <message>
    nearmectl nearby [--api=<url>] [--token=<token>] [--limit=<n>]

Options:
    -h --help             Show this screen.
    --version             Show version.
    --api=<url>           API base url [default: http://localhost:8080/api/v1].
    --token=<token>       JWT issued by signin.
    --email=<email>
    --password=<password>
    --limit=<n>           Maximum nearby users [default: 50].`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		Err.Fatal(err)
	}

	api, _ := opts.String("--api")
	token, _ := opts.String("--token")
	if token == "" {
		token = os.Getenv("NEARME_TOKEN")
	}
	client := newClient(api, token)

	if err := run(client, opts); err != nil {
		Err.Println(describe(err))
		os.Exit(1)
	}
}

// newClient retries failures the server marks retryable, with backoff. Lost
// responses are retried only for reads, since a write may already have landed.
func newClient(api, token string) *resty.Client {
	c := resty.New().
		SetBaseURL(api).
		SetHeader("Content-Type", "application/json").
		SetTimeout(15 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(shouldRetry)
	if token != "" {
		c.SetAuthToken(token)
	}
	return c
}

func shouldRetry(resp *resty.Response, err error) bool {
	if err != nil {
		return resp != nil && resp.Request != nil && resp.Request.Method == resty.MethodGet
	}
	if resp == nil || !resp.IsError() {
		return false
	}
	var alert errs.Alert
	if json.Unmarshal(resp.Body(), &alert) != nil {
		return resp.StatusCode() >= 500
	}
	return alert.Retryable
}

// apiError is a non-2xx response decoded into the server's alert.
type apiError struct {
	status int
	alert  errs.Alert
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.status, e.alert.Code, e.alert.Message)
}

func describe(err error) string {
	if ae, ok := err.(*apiError); ok {
		out := ae.alert.Title + ": " + ae.alert.Message
		if ae.alert.Detail != "" {
			out += " (" + ae.alert.Detail + ")"
		}
		return out
	}
	return err.Error()
}

func do(req *resty.Request, method, path string, out interface{}) error {
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		ae := &apiError{status: resp.StatusCode()}
		if json.Unmarshal(resp.Body(), &ae.alert) != nil {
			ae.alert = errs.AlertOf(errs.New(errs.CodeUnknown, resp.String()))
		}
		return ae
	}
	return nil
}

func run(c *resty.Client, opts docopt.Opts) error {
	flag := func(name string) bool { b, _ := opts.Bool(name); return b }
	arg := func(name string) string { s, _ := opts.String(name); return s }

	var out interface{}
	var err error
	switch {
	case flag("signin"):
		var res struct {
			Token string `json:"token"`
		}
		err = do(c.R().SetBody(map[string]string{"email": arg("--email"), "password": arg("--password")}),
			resty.MethodPost, "/auth/signin", &res)
		if err == nil {
			Out.Println(res.Token)
		}
		return err
	case flag("request"):
		out, err = call(c.R().SetBody(map[string]string{"toUserId": arg("<user_id>"), "message": arg("<message>")}),
			resty.MethodPost, "/connections")
	case flag("accept"):
		out, err = call(c.R(), resty.MethodPut, "/connections/"+arg("<connection_id>")+"/accept")
	case flag("decline"):
		out, err = call(c.R(), resty.MethodPut, "/connections/"+arg("<connection_id>")+"/decline")
	case flag("resend"):
		out, err = call(c.R().SetBody(map[string]string{"message": arg("<message>")}),
			resty.MethodPut, "/connections/"+arg("<connection_id>")+"/resend")
	case flag("list"):
		out, err = call(c.R(), resty.MethodGet, "/connections")
	case flag("declined"):
		out, err = call(c.R(), resty.MethodGet, "/connections/declined")
	case flag("send"):
		out, err = call(c.R().SetBody(map[string]string{"content": arg("<message>")}),
			resty.MethodPost, "/connections/"+arg("<connection_id>")+"/messages")
	case flag("nearby"):
		out, err = call(c.R().SetQueryParam("limit", arg("--limit")), resty.MethodGet, "/presence/nearby")
	default:
		return fmt.Errorf("unknown command")
	}
	if err != nil {
		return err
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	Out.Println(string(b))
	return nil
}

func call(req *resty.Request, method, path string) (interface{}, error) {
	var out interface{}
	if err := do(req, method, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}
