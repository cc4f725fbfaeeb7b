package engine

import (
	"context"
	"sort"

	"github.com/validio/validio-go/pkg/api"
	"github.com/validio/validio-go/pkg/resources"
	"github.com/validio/validio-go/pkg/telemetry"
)

// LoadResources rebuilds the actual state of namespace from the server.
// Stages run strictly in dependency order; each resolves its references
// against the kinds loaded before it.
func LoadResources(ctx context.Context, namespace string, client api.Client, opts ...Option) (*resources.DiffContext, error) {
	o := newOptions(opts)
	op := telemetry.StartOperation(ctx, "engine.load")
	ctx = op.Ctx

	dc := resources.NewDiffContext(resources.NewGraph())
	l := &loader{namespace: namespace, client: client, dc: dc}

	stages := []struct {
		name string
		run  func(context.Context) error
	}{
		{"load_credentials", l.loadCredentials},
		{"load_channels", l.loadChannels},
		{"load_sources", l.loadSources},
		{"load_segmentations", l.loadSegmentations},
		{"load_windows", l.loadWindows},
		{"load_validators", l.loadValidators},
		{"load_notification_rules", l.loadNotificationRules},
	}

	for _, stage := range stages {
		if err := stage.run(ctx); err != nil {
			ee := classify("failed to load resources", err).WithOperation(stage.name)
			op.End(ee)
			return nil, ee
		}
	}

	o.logger.Debug().
		Str("namespace", namespace).
		Int("resources", dc.Graph.Len()).
		Int("credentials", dc.Len(api.KindCredential)).
		Int("sources", dc.Len(api.KindSource)).
		Int("validators", dc.Len(api.KindValidator)).
		Msg("Loaded resources")

	op.End(nil)
	return dc, nil
}

type loader struct {
	namespace string
	client    api.Client
	dc        *resources.DiffContext
}

func (l *loader) graph() *resources.Graph { return l.dc.Graph }

func (l *loader) finish(r resources.Resource, id string) error {
	r.SetID(id)
	r.SetNamespace(l.namespace)
	return l.dc.Add(r)
}

func (l *loader) loadCredentials(ctx context.Context) error {
	recs, err := l.client.ListCredentials(ctx, l.namespace)
	if err != nil {
		return err
	}

	types := make(map[string]resources.CredentialType, len(recs))
	for _, rec := range recs {
		typ, err := resources.ParseCredentialTypename(rec.Typename)
		if err != nil {
			return err
		}
		types[rec.ResourceName] = typ
	}

	// Wrapped credentials must be loaded before the credentials wrapping them.
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].ResourceName < recs[j].ResourceName })
	sort.SliceStable(recs, func(i, j int) bool {
		return !types[recs[i].ResourceName].WrapsCredential() && types[recs[j].ResourceName].WrapsCredential()
	})

	for _, rec := range recs {
		c := resources.NewCredential(l.graph(), rec.ResourceName, types[rec.ResourceName])
		c.Config = cloneMap(rec.Config)
		c.FillUnsetSecrets()
		if rec.WarehouseCredentialName != "" {
			if _, err := resources.MustFindCredential(l.dc, rec.WarehouseCredentialName); err != nil {
				return err
			}
			c.WarehouseCredential = rec.WarehouseCredentialName
		}
		if err := l.finish(c, rec.ID); err != nil {
			return err
		}
	}
	return nil
}

func (l *loader) loadChannels(ctx context.Context) error {
	recs, err := l.client.ListChannels(ctx)
	if err != nil {
		return err
	}

	for _, rec := range recs {
		if rec.ResourceNamespace != l.namespace {
			continue
		}
		typ, err := resources.ParseChannelTypename(rec.Typename)
		if err != nil {
			return err
		}
		c := resources.NewChannel(l.graph(), rec.ResourceName, typ)
		c.Config = cloneMap(rec.Config)
		c.FillUnsetSecrets()
		if err := l.finish(c, rec.ID); err != nil {
			return err
		}
	}
	return nil
}

func (l *loader) loadSources(ctx context.Context) error {
	recs, err := l.client.ListSources(ctx, l.namespace)
	if err != nil {
		return err
	}

	for _, rec := range recs {
		typ, err := resources.ParseSourceTypename(rec.Typename)
		if err != nil {
			return err
		}
		cred, err := resources.MustFindCredential(l.dc, rec.CredentialName)
		if err != nil {
			return err
		}
		s := resources.NewSource(l.graph(), rec.ResourceName, typ, cred.Name())
		s.Config = cloneMap(rec.Config)
		s.JTDSchema = rec.JTDSchema
		if err := l.finish(s, rec.ID); err != nil {
			return err
		}
	}
	return nil
}

func (l *loader) loadSegmentations(ctx context.Context) error {
	recs, err := l.client.ListSegmentations(ctx, l.namespace)
	if err != nil {
		return err
	}

	for _, rec := range recs {
		src, err := resources.MustFindSource(l.dc, rec.SourceName)
		if err != nil {
			return err
		}
		s := resources.NewSegmentation(l.graph(), rec.ResourceName, src.Name(), append([]string(nil), rec.Fields...))
		s.Filter = rec.Filter
		if err := l.finish(s, rec.ID); err != nil {
			return err
		}
	}
	return nil
}

func (l *loader) loadWindows(ctx context.Context) error {
	recs, err := l.client.ListWindows(ctx, l.namespace)
	if err != nil {
		return err
	}

	for _, rec := range recs {
		typ, err := resources.ParseWindowTypename(rec.Typename)
		if err != nil {
			return err
		}
		src, err := resources.MustFindSource(l.dc, rec.SourceName)
		if err != nil {
			return err
		}
		w := resources.NewWindow(l.graph(), rec.ResourceName, typ, src.Name())
		w.Config = cloneMap(rec.Config)
		if rec.DataTimeField != nil && typ.HasDataTimeField() {
			w.DataTimeField = *rec.DataTimeField
		}
		if err := l.finish(w, rec.ID); err != nil {
			return err
		}
	}
	return nil
}

// loadValidators lists validators per source.
func (l *loader) loadValidators(ctx context.Context) error {
	for _, srcName := range l.dc.Names(api.KindSource) {
		src := l.dc.Sources[srcName]
		recs, err := l.client.ListValidators(ctx, src.ID(), l.namespace)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if err := l.loadValidator(src, rec); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *loader) loadValidator(src *resources.Source, rec api.ValidatorRecord) error {
	typ, err := resources.ParseValidatorTypename(rec.Typename)
	if err != nil {
		return err
	}

	if rec.WindowName != "" {
		if _, err := resources.MustFindWindow(l.dc, rec.WindowName); err != nil {
			return err
		}
	}
	if rec.SegmentationName != "" {
		if _, err := resources.MustFindSegmentation(l.dc, rec.SegmentationName); err != nil {
			return err
		}
	}

	v := resources.NewValidator(l.graph(), rec.ResourceName, typ, src.Name(), rec.WindowName, rec.SegmentationName)
	v.Metric, v.SourceField, v.Config = resources.ExtractValidatorConfig(rec.Config)

	if v.Threshold, err = resources.ThresholdFromRecord(rec.Threshold); err != nil {
		return err
	}

	if ref := rec.ReferenceSourceConfig; ref != nil {
		refSrc, err := resources.MustFindSource(l.dc, ref.SourceName)
		if err != nil {
			return err
		}
		refWin, err := resources.MustFindWindow(l.dc, ref.WindowName)
		if err != nil {
			return err
		}
		v.Reference = &resources.Reference{
			Source:  refSrc.Name(),
			Window:  refWin.Name(),
			History: ref.History,
			Offset:  ref.Offset,
			Filter:  ref.Filter,
		}
	}

	return l.finish(v, rec.ID)
}

func (l *loader) loadNotificationRules(ctx context.Context) error {
	recs, err := l.client.ListNotificationRules(ctx)
	if err != nil {
		return err
	}

	sourceNames := make(map[string]string, len(l.dc.Sources))
	for name, s := range l.dc.Sources {
		sourceNames[s.ID()] = name
	}

	for _, rec := range recs {
		if rec.ResourceNamespace != l.namespace {
			continue
		}
		ch, err := resources.MustFindChannel(l.dc, rec.ChannelName)
		if err != nil {
			return err
		}
		n := resources.NewNotificationRule(l.graph(), rec.ResourceName, ch.Name())

		if c := rec.Conditions; c != nil {
			cond := &resources.Conditions{
				Owners:     append([]string(nil), c.Owners...),
				Severities: append([]string(nil), c.Severities...),
				Types:      append([]string(nil), c.Types...),
			}
			for _, id := range c.Sources {
				name, ok := sourceNames[id]
				if !ok {
					return &resources.UnresolvedReferenceError{Kind: api.KindSource, Name: id}
				}
				cond.Sources = append(cond.Sources, name)
			}
			for _, s := range c.SegmentConditions {
				cond.Segments = append(cond.Segments, resources.SegmentCondition{Field: s.Field, Value: s.Value})
			}
			for _, t := range c.TagConditions {
				cond.Tags = append(cond.Tags, resources.TagCondition{Key: t.Key, Value: t.Value})
			}
			n.Conditions = cond
		}

		if err := l.finish(n, rec.ID); err != nil {
			return err
		}
	}
	return nil
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
