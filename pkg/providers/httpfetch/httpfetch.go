// Package httpfetch implements the rate-limited outbound HTTP capability
// provider: scripts may fetch a small number of external URLs under a
// strict timeout and response-size cap.
package httpfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/wisbric/scriptrt/pkg/capability"
	"github.com/wisbric/scriptrt/pkg/isolate"
	"github.com/wisbric/scriptrt/pkg/ratelimit"
	"github.com/wisbric/scriptrt/pkg/tenant"
)

// Taxonomy is the http capability category's rate-limit taxonomy name.
const Taxonomy = "http"

// MaxResponseBytes bounds how much of a response body a script may read.
const MaxResponseBytes = 1 * 1024 * 1024

// Client performs outbound HTTP requests on behalf of scripts.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a Client with a 10-second timeout, matching the
// teacher's integration clients.
func NewClient() *Client {
	return &Client{httpClient: &http.Client{Timeout: 10 * time.Second}}
}

// Get fetches url and returns up to MaxResponseBytes of its body.
func (c *Client) Get(ctx context.Context, url string) (status int, body []byte, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("building request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("reading response body: %w", err)
	}
	return resp.StatusCode, data, nil
}

// Provider exposes Client to scripts as an "http_get" host function,
// mediated through capability and rate-limit checks.
type Provider struct {
	client *Client
	limits *ratelimit.Registry
}

// NewProvider builds a Provider.
func NewProvider(client *Client, limits *ratelimit.Registry) *Provider {
	return &Provider{client: client, limits: limits}
}

// Register is a dispatcher.ProviderFactory.
func (p *Provider) Register(sub *isolate.SubIsolate, t tenant.ID, mediator *capability.Mediator) {
	sub.Register("http_get", p.hostGet(t, mediator))
}

func (p *Provider) hostGet(t tenant.ID, mediator *capability.Mediator) isolate.HostFunc {
	return func(L *lua.LState) int {
		url := L.CheckString(1)

		if err := mediator.Check(capability.Request{Category: "http", Action: "get", Object: url}); err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		if p.limits != nil {
			if err := p.limits.Check(t, Taxonomy, "get"); err != nil {
				L.RaiseError("%s", err.Error())
				return 0
			}
		}

		status, body, err := p.client.Get(L.Context(), url)
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		L.Push(lua.LNumber(status))
		L.Push(lua.LString(body))
		return 2
	}
}
