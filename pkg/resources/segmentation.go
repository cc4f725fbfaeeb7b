package resources

import (
	"context"

	"github.com/validio/validio-go/pkg/api"
)

const segmentationTypename = "Segmentation"

// Segmentation splits the data of a source into segments by field values.
type Segmentation struct {
	Meta
	Source string
	Fields []string
	Filter string
}

// NewSegmentation creates a segmentation and registers it in g.
func NewSegmentation(g *Graph, name, source string, fields []string) *Segmentation {
	s := &Segmentation{
		Meta:   Meta{kind: api.KindSegmentation, name: name},
		Source: source,
		Fields: fields,
	}
	register(g, &s.Meta, s)
	return s
}

func (s *Segmentation) Typename() string { return segmentationTypename }

func (s *Segmentation) DiffFields() map[string]any {
	fields := s.Fields
	if fields == nil {
		fields = []string{}
	}
	return map[string]any{
		"source": s.Source,
		"fields": fields,
		"filter": s.Filter,
	}
}

func (s *Segmentation) References() []Ref {
	return []Ref{{Kind: api.KindSource, Name: s.Source}}
}

func (s *Segmentation) record(namespace string, dc *DiffContext) (*api.SegmentationRecord, error) {
	src, err := MustFindSource(dc, s.Source)
	if err != nil {
		return nil, err
	}
	id, err := parentID(s, src)
	if err != nil {
		return nil, err
	}
	return &api.SegmentationRecord{
		Meta:       s.apiMeta(namespace, s.Typename()),
		SourceName: src.Name(),
		SourceID:   id,
		Fields:     append([]string(nil), s.Fields...),
		Filter:     s.Filter,
	}, nil
}

func (s *Segmentation) Create(ctx context.Context, namespace string, client api.Client, dc *DiffContext) error {
	rec, err := s.record(namespace, dc)
	if err != nil {
		return err
	}
	return createRecord(ctx, client, &s.Meta, rec)
}

func (s *Segmentation) Update(ctx context.Context, namespace string, client api.Client, dc *DiffContext) error {
	rec, err := s.record(namespace, dc)
	if err != nil {
		return err
	}
	return updateRecord(ctx, client, &s.Meta, rec)
}
