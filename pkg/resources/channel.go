package resources

import (
	"context"

	"github.com/validio/validio-go/pkg/api"
)

// ChannelType is the closed set of notification channel variants.
type ChannelType string

const (
	ChannelSlack   ChannelType = "slack"
	ChannelMsTeams ChannelType = "ms_teams"
	ChannelWebhook ChannelType = "webhook"
)

var channelCatalog = map[ChannelType]struct {
	typename string
	secrets  []string
}{
	ChannelSlack:   {typename: "SlackChannel", secrets: []string{"token", "signingSecret"}},
	ChannelMsTeams: {typename: "MsTeamsChannel", secrets: []string{"clientSecret"}},
	ChannelWebhook: {typename: "WebhookChannel", secrets: []string{"authHeader"}},
}

// ParseChannelTypename maps a server typename onto a local variant.
func ParseChannelTypename(typename string) (ChannelType, error) {
	for t, v := range channelCatalog {
		if v.typename == typename {
			return t, nil
		}
	}
	return "", &UnknownKindError{Category: "channel", Typename: typename}
}

// Valid reports whether t is a known variant.
func (t ChannelType) Valid() bool {
	_, ok := channelCatalog[t]
	return ok
}

// Channel delivers notifications.
type Channel struct {
	Meta
	Type    ChannelType
	Config  map[string]any
	secrets map[string]Secret
}

// NewChannel creates a channel and registers it in g.
func NewChannel(g *Graph, name string, typ ChannelType) *Channel {
	c := &Channel{
		Meta:    Meta{kind: api.KindChannel, name: name},
		Type:    typ,
		Config:  make(map[string]any),
		secrets: make(map[string]Secret),
	}
	register(g, &c.Meta, c)
	return c
}

// SetSecret stores a secret field value.
func (c *Channel) SetSecret(field string, s Secret) { c.secrets[field] = s }

// Secrets implements SecretHolder.
func (c *Channel) Secrets() map[string]Secret { return c.secrets }

// FillUnsetSecrets sets every declared secret field of the variant to the placeholder.
func (c *Channel) FillUnsetSecrets() {
	c.secrets = unsetSecrets(channelCatalog[c.Type].secrets)
}

func (c *Channel) Typename() string { return channelCatalog[c.Type].typename }

func (c *Channel) DiffFields() map[string]any {
	return map[string]any{
		"type":   c.Typename(),
		"config": c.Config,
	}
}

func (c *Channel) References() []Ref { return nil }

func (c *Channel) record(namespace string) *api.ChannelRecord {
	return &api.ChannelRecord{
		Meta:    c.apiMeta(namespace, c.Typename()),
		Config:  copyConfig(c.Config),
		Secrets: secretsRecord(c.secrets),
	}
}

func (c *Channel) Create(ctx context.Context, namespace string, client api.Client, _ *DiffContext) error {
	return createRecord(ctx, client, &c.Meta, c.record(namespace))
}

func (c *Channel) Update(ctx context.Context, namespace string, client api.Client, _ *DiffContext) error {
	return updateRecord(ctx, client, &c.Meta, c.record(namespace))
}
