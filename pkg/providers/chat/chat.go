// Package chat implements the chat-platform capability provider: scripts
// post messages through it, and it is also the destination the worker
// routes a template's error_channel to when a dispatch fails.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	lua "github.com/yuin/gopher-lua"
	goslack "github.com/slack-go/slack"

	"github.com/wisbric/scriptrt/pkg/capability"
	"github.com/wisbric/scriptrt/pkg/isolate"
	"github.com/wisbric/scriptrt/pkg/ratelimit"
	"github.com/wisbric/scriptrt/pkg/tenant"
)

// Taxonomy is the chat capability category's rate-limit taxonomy name,
// mapped onto the "discord" taxonomy's quotas since both model an outbound
// messaging budget.
const Taxonomy = "discord"

// Notifier posts messages to a single configured channel. If the bot token
// is empty, it logs instead of posting, matching the teacher's degrade-to-
// noop behavior for unconfigured integrations.
type Notifier struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty botToken makes it a noop.
func NewNotifier(botToken, channel string, logger *slog.Logger) *Notifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &Notifier{client: client, channel: channel, logger: logger}
}

// IsEnabled reports whether the notifier has a live client and channel.
func (n *Notifier) IsEnabled() bool {
	return n.client != nil && n.channel != ""
}

// Post sends text to the given channel (falling back to the notifier's
// default channel when empty).
func (n *Notifier) Post(ctx context.Context, channel, text string) error {
	if channel == "" {
		channel = n.channel
	}
	if !n.IsEnabled() {
		n.logger.Debug("chat notifier disabled, dropping message", "channel", channel, "text", text)
		return nil
	}
	_, _, err := n.client.PostMessageContext(ctx, channel, goslack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("posting chat message: %w", err)
	}
	return nil
}

// SendError posts a dispatch or script error to a template's error_channel,
// satisfying worker.ErrorSink. The error text is code-fenced with embedded
// backticks escaped (spec §4.7), so a script error containing backticks or
// other markdown can't break out of the fence or inject formatting into the
// destination channel.
func (n *Notifier) SendError(ctx context.Context, t tenant.ID, channel, templateName, errText string) {
	escaped := strings.ReplaceAll(errText, "`", "\\`")
	text := fmt.Sprintf(":warning: template `%s` for %s failed:\n```\n%s\n```", templateName, t.String(), escaped)
	if err := n.Post(ctx, channel, text); err != nil {
		n.logger.Error("failed to post template error to chat", "tenant", t.String(), "template", templateName, "error", err)
	}
}

// Provider exposes the notifier to scripts as a "chat_post" host function,
// mediated through capability and rate-limit checks.
type Provider struct {
	notifier *Notifier
	limits   *ratelimit.Registry
}

// NewProvider builds a Provider.
func NewProvider(notifier *Notifier, limits *ratelimit.Registry) *Provider {
	return &Provider{notifier: notifier, limits: limits}
}

// Register is a dispatcher.ProviderFactory.
func (p *Provider) Register(sub *isolate.SubIsolate, t tenant.ID, mediator *capability.Mediator) {
	sub.Register("chat_post", p.hostPost(t, mediator))
}

func (p *Provider) hostPost(t tenant.ID, mediator *capability.Mediator) isolate.HostFunc {
	return func(L *lua.LState) int {
		channel := L.CheckString(1)
		text := L.CheckString(2)

		if err := mediator.Check(capability.Request{Category: "chat", Action: "post", Object: channel}); err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		if p.limits != nil {
			if err := p.limits.Check(t, Taxonomy, "create_message"); err != nil {
				L.RaiseError("%s", err.Error())
				return 0
			}
		}

		if err := p.notifier.Post(L.Context(), channel, text); err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		return 0
	}
}
