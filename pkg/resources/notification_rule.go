package resources

import (
	"context"
	"sort"

	"github.com/validio/validio-go/pkg/api"
)

const notificationRuleTypename = "NotificationRule"

// SegmentCondition matches incidents on a segment field value.
type SegmentCondition struct {
	Field string
	Value string
}

// TagCondition matches incidents on a tag. An empty Value matches any value.
type TagCondition struct {
	Key   string
	Value string
}

// Conditions filter which incidents a notification rule forwards.
// Sources are source names.
type Conditions struct {
	Owners     []string
	Segments   []SegmentCondition
	Severities []string
	Sources    []string
	Tags       []TagCondition
	Types      []string
}

func (c *Conditions) diffFields() map[string]any {
	sorted := func(in []string) []string {
		out := append([]string{}, in...)
		sort.Strings(out)
		return out
	}
	segments := make([]map[string]any, 0, len(c.Segments))
	for _, s := range c.Segments {
		segments = append(segments, map[string]any{"field": s.Field, "value": s.Value})
	}
	tags := make([]map[string]any, 0, len(c.Tags))
	for _, t := range c.Tags {
		tags = append(tags, map[string]any{"key": t.Key, "value": t.Value})
	}
	return map[string]any{
		"owners":     sorted(c.Owners),
		"segments":   segments,
		"severities": sorted(c.Severities),
		"sources":    sorted(c.Sources),
		"tags":       tags,
		"types":      sorted(c.Types),
	}
}

// NotificationRule forwards matching incidents to a channel.
type NotificationRule struct {
	Meta
	Channel    string
	Conditions *Conditions
}

// NewNotificationRule creates a notification rule and registers it in g.
func NewNotificationRule(g *Graph, name, channel string) *NotificationRule {
	n := &NotificationRule{
		Meta:    Meta{kind: api.KindNotificationRule, name: name},
		Channel: channel,
	}
	register(g, &n.Meta, n)
	return n
}

func (n *NotificationRule) Typename() string { return notificationRuleTypename }

func (n *NotificationRule) DiffFields() map[string]any {
	f := map[string]any{"channel": n.Channel}
	if n.Conditions != nil {
		f["conditions"] = n.Conditions.diffFields()
	}
	return f
}

func (n *NotificationRule) References() []Ref {
	refs := []Ref{{Kind: api.KindChannel, Name: n.Channel}}
	if n.Conditions != nil {
		for _, s := range n.Conditions.Sources {
			refs = append(refs, Ref{Kind: api.KindSource, Name: s})
		}
	}
	return refs
}

func (n *NotificationRule) record(namespace string, dc *DiffContext) (*api.NotificationRuleRecord, error) {
	ch, err := MustFindChannel(dc, n.Channel)
	if err != nil {
		return nil, err
	}
	rec := &api.NotificationRuleRecord{
		Meta:        n.apiMeta(namespace, n.Typename()),
		ChannelName: ch.Name(),
	}
	if rec.ChannelID, err = parentID(n, ch); err != nil {
		return nil, err
	}

	if c := n.Conditions; c != nil {
		cond := &api.ConditionsRecord{
			Owners:     append([]string(nil), c.Owners...),
			Severities: append([]string(nil), c.Severities...),
			Types:      append([]string(nil), c.Types...),
		}
		for _, name := range c.Sources {
			src, err := MustFindSource(dc, name)
			if err != nil {
				return nil, err
			}
			id, err := parentID(n, src)
			if err != nil {
				return nil, err
			}
			cond.Sources = append(cond.Sources, id)
		}
		for _, s := range c.Segments {
			cond.SegmentConditions = append(cond.SegmentConditions, api.SegmentConditionRecord{Field: s.Field, Value: s.Value})
		}
		for _, t := range c.Tags {
			cond.TagConditions = append(cond.TagConditions, api.TagConditionRecord{Key: t.Key, Value: t.Value})
		}
		rec.Conditions = cond
	}

	return rec, nil
}

func (n *NotificationRule) Create(ctx context.Context, namespace string, client api.Client, dc *DiffContext) error {
	rec, err := n.record(namespace, dc)
	if err != nil {
		return err
	}
	return createRecord(ctx, client, &n.Meta, rec)
}

func (n *NotificationRule) Update(ctx context.Context, namespace string, client api.Client, dc *DiffContext) error {
	rec, err := n.record(namespace, dc)
	if err != nil {
		return err
	}
	return updateRecord(ctx, client, &n.Meta, rec)
}
