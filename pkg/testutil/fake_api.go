// Package testutil provides an in-memory remote system for tests.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/validio/validio-go/pkg/api"
)

// Operation names recorded in the call log.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
	OpInfer  = "infer_schema"
)

// Call is one mutating or inference request received by FakeAPI.
type Call struct {
	Op   string
	Kind api.Kind
	Name string
	ID   string
}

func (c Call) String() string {
	return fmt.Sprintf("%s(%s/%s)", c.Op, c.Kind, c.Name)
}

// FakeAPI is an in-memory api.Client. Like the real server it never
// returns secrets, cascades source deletion to the resources of the
// source and refuses to delete a credential that is still in use.
type FakeAPI struct {
	mu      sync.Mutex
	records map[api.Kind]map[string]any
	calls   []Call

	// Schemas maps a source typename onto the schema returned by inference.
	Schemas map[string]json.RawMessage

	// FailOn, when set, is consulted before every call. A non-nil error is
	// returned to the caller and the call has no effect.
	FailOn func(Call) error
}

// DefaultSchema is returned by inference when no schema is configured.
var DefaultSchema = json.RawMessage(`{"properties":{"id":{"type":"string"},"value":{"type":"float64"}}}`)

// NewFakeAPI returns an empty remote.
func NewFakeAPI() *FakeAPI {
	f := &FakeAPI{
		records: make(map[api.Kind]map[string]any),
		Schemas: make(map[string]json.RawMessage),
	}
	for _, k := range api.Kinds {
		f.records[k] = make(map[string]any)
	}
	return f
}

// Calls returns a copy of the call log.
func (f *FakeAPI) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// MutationCalls returns the create, update and delete calls.
func (f *FakeAPI) MutationCalls() []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Op != OpInfer {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls clears the call log.
func (f *FakeAPI) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// Count returns the number of stored records of kind.
func (f *FakeAPI) Count(kind api.Kind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records[kind])
}

// Has reports whether a record of kind named name exists.
func (f *FakeAPI) Has(kind api.Kind, name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.records[kind] {
		if metaOf(rec).ResourceName == name {
			return true
		}
	}
	return false
}

// Record returns the stored record of kind named name.
func (f *FakeAPI) Record(kind api.Kind, name string) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.records[kind] {
		if metaOf(rec).ResourceName == name {
			return rec, true
		}
	}
	return nil, false
}

func (f *FakeAPI) ListCredentials(_ context.Context, namespace string) ([]api.CredentialRecord, error) {
	return listRecords[api.CredentialRecord](f, api.KindCredential, namespace), nil
}

// ListChannels returns channels of every namespace.
func (f *FakeAPI) ListChannels(_ context.Context) ([]api.ChannelRecord, error) {
	return listRecords[api.ChannelRecord](f, api.KindChannel, ""), nil
}

func (f *FakeAPI) ListSources(_ context.Context, namespace string) ([]api.SourceRecord, error) {
	return listRecords[api.SourceRecord](f, api.KindSource, namespace), nil
}

func (f *FakeAPI) ListSegmentations(_ context.Context, namespace string) ([]api.SegmentationRecord, error) {
	return listRecords[api.SegmentationRecord](f, api.KindSegmentation, namespace), nil
}

func (f *FakeAPI) ListWindows(_ context.Context, namespace string) ([]api.WindowRecord, error) {
	return listRecords[api.WindowRecord](f, api.KindWindow, namespace), nil
}

func (f *FakeAPI) ListValidators(_ context.Context, sourceID, namespace string) ([]api.ValidatorRecord, error) {
	all := listRecords[api.ValidatorRecord](f, api.KindValidator, namespace)
	out := make([]api.ValidatorRecord, 0, len(all))
	for _, v := range all {
		if v.SourceID == sourceID {
			out = append(out, v)
		}
	}
	return out, nil
}

// ListNotificationRules returns rules of every namespace.
func (f *FakeAPI) ListNotificationRules(_ context.Context) ([]api.NotificationRuleRecord, error) {
	return listRecords[api.NotificationRuleRecord](f, api.KindNotificationRule, ""), nil
}

func (f *FakeAPI) InferSchema(_ context.Context, req api.SchemaInferenceRequest) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := Call{Op: OpInfer, Kind: api.KindSource, Name: req.SourceTypename}
	if err := f.check(call); err != nil {
		return nil, err
	}
	f.calls = append(f.calls, call)

	if _, ok := f.records[api.KindCredential][req.CredentialID]; !ok {
		return nil, notFound(api.KindCredential, req.CredentialID)
	}
	if schema, ok := f.Schemas[req.SourceTypename]; ok {
		return schema, nil
	}
	return DefaultSchema, nil
}

func (f *FakeAPI) Create(_ context.Context, m api.Mutation) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, err := storedCopy(m.Record)
	if err != nil {
		return "", err
	}
	meta := metaOf(rec)
	call := Call{Op: OpCreate, Kind: m.Kind, Name: meta.ResourceName}
	if err := f.check(call); err != nil {
		return "", err
	}

	for _, existing := range f.records[m.Kind] {
		em := metaOf(existing)
		if em.ResourceName == meta.ResourceName && em.ResourceNamespace == meta.ResourceNamespace {
			return "", &api.HTTPError{
				StatusCode: http.StatusConflict,
				Body:       []byte(fmt.Sprintf(`{"error":"%s %s already exists"}`, m.Kind, meta.ResourceName)),
			}
		}
	}
	if err := f.checkParents(rec); err != nil {
		return "", err
	}

	meta.ID = uuid.NewString()
	f.records[m.Kind][meta.ID] = rec
	call.ID = meta.ID
	f.calls = append(f.calls, call)
	return meta.ID, nil
}

func (f *FakeAPI) Update(_ context.Context, id string, m api.Mutation) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, err := storedCopy(m.Record)
	if err != nil {
		return err
	}
	meta := metaOf(rec)
	call := Call{Op: OpUpdate, Kind: m.Kind, Name: meta.ResourceName, ID: id}
	if err := f.check(call); err != nil {
		return err
	}

	if _, ok := f.records[m.Kind][id]; !ok {
		return notFound(m.Kind, id)
	}
	if err := f.checkParents(rec); err != nil {
		return err
	}

	meta.ID = id
	f.records[m.Kind][id] = rec
	f.calls = append(f.calls, call)
	return nil
}

func (f *FakeAPI) Delete(_ context.Context, kind api.Kind, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.records[kind][id]
	if !ok {
		return notFound(kind, id)
	}
	call := Call{Op: OpDelete, Kind: kind, Name: metaOf(rec).ResourceName, ID: id}
	if err := f.check(call); err != nil {
		return err
	}

	switch kind {
	case api.KindCredential:
		if f.credentialInUse(id) {
			return &api.HTTPError{
				StatusCode: http.StatusConflict,
				Body:       []byte(`{"error":"credential is in use"}`),
			}
		}
	case api.KindChannel:
		for _, r := range f.records[api.KindNotificationRule] {
			if r.(*api.NotificationRuleRecord).ChannelID == id {
				return &api.HTTPError{
					StatusCode: http.StatusConflict,
					Body:       []byte(`{"error":"channel is in use"}`),
				}
			}
		}
	case api.KindSource:
		f.cascadeSource(id)
	}

	delete(f.records[kind], id)
	f.calls = append(f.calls, call)
	return nil
}

func (f *FakeAPI) check(c Call) error {
	if f.FailOn == nil {
		return nil
	}
	return f.FailOn(c)
}

func (f *FakeAPI) credentialInUse(id string) bool {
	for _, r := range f.records[api.KindSource] {
		if r.(*api.SourceRecord).CredentialID == id {
			return true
		}
	}
	for _, r := range f.records[api.KindCredential] {
		if r.(*api.CredentialRecord).WarehouseCredentialID == id {
			return true
		}
	}
	return false
}

func (f *FakeAPI) cascadeSource(id string) {
	for rid, r := range f.records[api.KindSegmentation] {
		if r.(*api.SegmentationRecord).SourceID == id {
			delete(f.records[api.KindSegmentation], rid)
		}
	}
	for rid, r := range f.records[api.KindWindow] {
		if r.(*api.WindowRecord).SourceID == id {
			delete(f.records[api.KindWindow], rid)
		}
	}
	for rid, r := range f.records[api.KindValidator] {
		if r.(*api.ValidatorRecord).SourceID == id {
			delete(f.records[api.KindValidator], rid)
		}
	}
}

func (f *FakeAPI) checkParents(rec any) error {
	need := func(kind api.Kind, id string) error {
		if id == "" {
			return nil
		}
		if _, ok := f.records[kind][id]; !ok {
			return notFound(kind, id)
		}
		return nil
	}

	switch r := rec.(type) {
	case *api.CredentialRecord:
		return need(api.KindCredential, r.WarehouseCredentialID)
	case *api.SourceRecord:
		if r.CredentialID == "" {
			return badRequest("source requires a credential")
		}
		return need(api.KindCredential, r.CredentialID)
	case *api.SegmentationRecord:
		return need(api.KindSource, r.SourceID)
	case *api.WindowRecord:
		return need(api.KindSource, r.SourceID)
	case *api.ValidatorRecord:
		if err := need(api.KindSource, r.SourceID); err != nil {
			return err
		}
		if err := need(api.KindWindow, r.WindowID); err != nil {
			return err
		}
		if err := need(api.KindSegmentation, r.SegmentationID); err != nil {
			return err
		}
		if ref := r.ReferenceSourceConfig; ref != nil {
			if err := need(api.KindSource, ref.SourceID); err != nil {
				return err
			}
			return need(api.KindWindow, ref.WindowID)
		}
	case *api.NotificationRuleRecord:
		return need(api.KindChannel, r.ChannelID)
	}
	return nil
}

// storedCopy copies a mutation record the way the server persists it: without secrets.
func storedCopy(rec any) (any, error) {
	switch r := rec.(type) {
	case *api.CredentialRecord:
		c := *r
		c.Secrets = nil
		return &c, nil
	case *api.ChannelRecord:
		c := *r
		c.Secrets = nil
		return &c, nil
	case *api.SourceRecord:
		c := *r
		return &c, nil
	case *api.SegmentationRecord:
		c := *r
		return &c, nil
	case *api.WindowRecord:
		c := *r
		return &c, nil
	case *api.ValidatorRecord:
		c := *r
		return &c, nil
	case *api.NotificationRuleRecord:
		c := *r
		return &c, nil
	default:
		return nil, badRequest(fmt.Sprintf("unsupported record %T", rec))
	}
}

func metaOf(rec any) *api.Meta {
	switch r := rec.(type) {
	case *api.CredentialRecord:
		return &r.Meta
	case *api.ChannelRecord:
		return &r.Meta
	case *api.SourceRecord:
		return &r.Meta
	case *api.SegmentationRecord:
		return &r.Meta
	case *api.WindowRecord:
		return &r.Meta
	case *api.ValidatorRecord:
		return &r.Meta
	case *api.NotificationRuleRecord:
		return &r.Meta
	}
	return &api.Meta{}
}

// listRecords returns copies of the records of kind, sorted by name. An
// empty namespace matches every namespace.
func listRecords[T any](f *FakeAPI, kind api.Kind, namespace string) []T {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]T, 0, len(f.records[kind]))
	for _, rec := range f.records[kind] {
		if namespace != "" && metaOf(rec).ResourceNamespace != namespace {
			continue
		}
		out = append(out, *rec.(*T))
	}
	sort.Slice(out, func(i, j int) bool {
		return metaOf(any(&out[i])).ResourceName < metaOf(any(&out[j])).ResourceName
	})
	return out
}

func notFound(kind api.Kind, id string) error {
	return &api.HTTPError{
		StatusCode: http.StatusNotFound,
		Body:       []byte(fmt.Sprintf(`{"error":"%s %s not found"}`, kind, id)),
	}
}

func badRequest(msg string) error {
	return &api.HTTPError{
		StatusCode: http.StatusBadRequest,
		Body:       []byte(fmt.Sprintf(`{"error":%q}`, msg)),
	}
}

var _ api.Client = (*FakeAPI)(nil)
