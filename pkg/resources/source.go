package resources

import (
	"context"
	"encoding/json"

	"github.com/validio/validio-go/pkg/api"
)

// SourceType is the closed set of source variants.
type SourceType string

const (
	SourceDemo          SourceType = "demo"
	SourceGcpBigQuery   SourceType = "gcp_bigquery"
	SourceGcpStorage    SourceType = "gcp_storage"
	SourceGcpPubSub     SourceType = "gcp_pubsub"
	SourceAwsS3         SourceType = "aws_s3"
	SourceAwsAthena     SourceType = "aws_athena"
	SourceAwsRedshift   SourceType = "aws_redshift"
	SourceAwsKinesis    SourceType = "aws_kinesis"
	SourceAzureSynapse  SourceType = "azure_synapse"
	SourceDatabricks    SourceType = "databricks"
	SourceSnowflake     SourceType = "snowflake"
	SourcePostgres      SourceType = "postgres"
	SourceKafka         SourceType = "kafka"
	SourceDbtTestResult SourceType = "dbt_test_result"
	SourceDbtModelRun   SourceType = "dbt_model_run"
	SourceTableau       SourceType = "tableau"
)

var sourceTypenames = map[SourceType]string{
	SourceDemo:          "DemoSource",
	SourceGcpBigQuery:   "GcpBigQuerySource",
	SourceGcpStorage:    "GcpStorageSource",
	SourceGcpPubSub:     "GcpPubSubSource",
	SourceAwsS3:         "AwsS3Source",
	SourceAwsAthena:     "AwsAthenaSource",
	SourceAwsRedshift:   "AwsRedshiftSource",
	SourceAwsKinesis:    "AwsKinesisSource",
	SourceAzureSynapse:  "AzureSynapseSource",
	SourceDatabricks:    "DatabricksSource",
	SourceSnowflake:     "SnowflakeSource",
	SourcePostgres:      "PostgreSqlSource",
	SourceKafka:         "KafkaSource",
	SourceDbtTestResult: "DbtTestResultSource",
	SourceDbtModelRun:   "DbtModelRunSource",
	SourceTableau:       "TableauSource",
}

// ParseSourceTypename maps a server typename onto a local variant.
func ParseSourceTypename(typename string) (SourceType, error) {
	for t, n := range sourceTypenames {
		if n == typename {
			return t, nil
		}
	}
	return "", &UnknownKindError{Category: "source", Typename: typename}
}

// Valid reports whether t is a known variant.
func (t SourceType) Valid() bool {
	_, ok := sourceTypenames[t]
	return ok
}

// Source is a dataset read through a credential.
type Source struct {
	Meta
	Type       SourceType
	Credential string
	Config     map[string]any

	// JTDSchema is the JSON Typedef schema of the source. Nil means the
	// schema is inferred before the source is created.
	JTDSchema json.RawMessage
}

// NewSource creates a source and registers it in g.
func NewSource(g *Graph, name string, typ SourceType, credential string) *Source {
	s := &Source{
		Meta:       Meta{kind: api.KindSource, name: name},
		Type:       typ,
		Credential: credential,
		Config:     make(map[string]any),
	}
	register(g, &s.Meta, s)
	return s
}

// HasSchema reports whether the schema is known.
func (s *Source) HasSchema() bool { return len(s.JTDSchema) > 0 }

func (s *Source) Typename() string { return sourceTypenames[s.Type] }

func (s *Source) DiffFields() map[string]any {
	f := map[string]any{
		"type":       s.Typename(),
		"credential": s.Credential,
		"config":     s.Config,
	}
	if s.HasSchema() {
		var schema any
		if err := json.Unmarshal(s.JTDSchema, &schema); err == nil {
			f["jtdSchema"] = schema
		} else {
			f["jtdSchema"] = string(s.JTDSchema)
		}
	}
	return f
}

func (s *Source) References() []Ref {
	return []Ref{{Kind: api.KindCredential, Name: s.Credential}}
}

// SchemaInferenceRequest builds the request used to infer the schema of s.
// The credential must already exist remotely.
func (s *Source) SchemaInferenceRequest(dc *DiffContext) (api.SchemaInferenceRequest, error) {
	cred, err := MustFindCredential(dc, s.Credential)
	if err != nil {
		return api.SchemaInferenceRequest{}, err
	}
	id, err := parentID(s, cred)
	if err != nil {
		return api.SchemaInferenceRequest{}, err
	}
	return api.SchemaInferenceRequest{
		SourceTypename: s.Typename(),
		CredentialID:   id,
		Config:         copyConfig(s.Config),
	}, nil
}

func (s *Source) record(namespace string, dc *DiffContext) (*api.SourceRecord, error) {
	cred, err := MustFindCredential(dc, s.Credential)
	if err != nil {
		return nil, err
	}
	id, err := parentID(s, cred)
	if err != nil {
		return nil, err
	}
	return &api.SourceRecord{
		Meta:           s.apiMeta(namespace, s.Typename()),
		CredentialName: cred.Name(),
		CredentialID:   id,
		Config:         copyConfig(s.Config),
		JTDSchema:      s.JTDSchema,
	}, nil
}

func (s *Source) Create(ctx context.Context, namespace string, client api.Client, dc *DiffContext) error {
	rec, err := s.record(namespace, dc)
	if err != nil {
		return err
	}
	return createRecord(ctx, client, &s.Meta, rec)
}

func (s *Source) Update(ctx context.Context, namespace string, client api.Client, dc *DiffContext) error {
	rec, err := s.record(namespace, dc)
	if err != nil {
		return err
	}
	return updateRecord(ctx, client, &s.Meta, rec)
}
