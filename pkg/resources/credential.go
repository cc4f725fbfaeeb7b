package resources

import (
	"context"
	"sort"

	"github.com/validio/validio-go/pkg/api"
)

// CredentialType is the closed set of credential variants.
type CredentialType string

const (
	CredentialDemo                 CredentialType = "demo"
	CredentialGCP                  CredentialType = "gcp"
	CredentialAWS                  CredentialType = "aws"
	CredentialAWSAthena            CredentialType = "aws_athena"
	CredentialAWSRedshift          CredentialType = "aws_redshift"
	CredentialAzureSynapseEntraID  CredentialType = "azure_synapse_entra_id"
	CredentialAzureSynapseSQL      CredentialType = "azure_synapse_sql"
	CredentialDatabricks           CredentialType = "databricks"
	CredentialSnowflake            CredentialType = "snowflake"
	CredentialPostgres             CredentialType = "postgres"
	CredentialKafkaSSL             CredentialType = "kafka_ssl"
	CredentialKafkaSASLSSL         CredentialType = "kafka_sasl_ssl"
	CredentialTableauConnectedApp  CredentialType = "tableau_connected_app"
	CredentialTableauPersonalToken CredentialType = "tableau_personal_access_token"
	CredentialDbtCore              CredentialType = "dbt_core"
	CredentialDbtCloud             CredentialType = "dbt_cloud"
)

type credentialVariant struct {
	typename string
	secrets  []string
	// wraps is set for variants whose configuration references another credential.
	wraps bool
}

var credentialCatalog = map[CredentialType]credentialVariant{
	CredentialDemo:                 {typename: "DemoCredential"},
	CredentialGCP:                  {typename: "GcpCredential", secrets: []string{"credential"}},
	CredentialAWS:                  {typename: "AwsCredential", secrets: []string{"secretKey"}},
	CredentialAWSAthena:            {typename: "AwsAthenaCredential", secrets: []string{"secretKey"}},
	CredentialAWSRedshift:          {typename: "AwsRedshiftCredential", secrets: []string{"password"}},
	CredentialAzureSynapseEntraID:  {typename: "AzureSynapseEntraIdCredential", secrets: []string{"clientSecret"}},
	CredentialAzureSynapseSQL:      {typename: "AzureSynapseSqlCredential", secrets: []string{"password"}},
	CredentialDatabricks:           {typename: "DatabricksCredential", secrets: []string{"accessToken"}},
	CredentialSnowflake:            {typename: "SnowflakeCredential", secrets: []string{"password"}},
	CredentialPostgres:             {typename: "PostgreSqlCredential", secrets: []string{"password"}},
	CredentialKafkaSSL:             {typename: "KafkaSslCredential", secrets: []string{"clientPrivateKey"}},
	CredentialKafkaSASLSSL:         {typename: "KafkaSaslSslPlainCredential", secrets: []string{"password"}},
	CredentialTableauConnectedApp:  {typename: "TableauConnectedAppCredential", secrets: []string{"secretValue"}},
	CredentialTableauPersonalToken: {typename: "TableauPersonalAccessTokenCredential", secrets: []string{"tokenValue"}},
	CredentialDbtCore:              {typename: "DbtCoreCredential", wraps: true},
	CredentialDbtCloud:             {typename: "DbtCloudCredential", secrets: []string{"token"}, wraps: true},
}

// ParseCredentialTypename maps a server typename onto a local variant.
func ParseCredentialTypename(typename string) (CredentialType, error) {
	for t, v := range credentialCatalog {
		if v.typename == typename {
			return t, nil
		}
	}
	return "", &UnknownKindError{Category: "credential", Typename: typename}
}

// Valid reports whether t is a known variant.
func (t CredentialType) Valid() bool {
	_, ok := credentialCatalog[t]
	return ok
}

// Typename returns the server type discriminator.
func (t CredentialType) Typename() string { return credentialCatalog[t].typename }

// SecretFields lists the secret config fields of the variant.
func (t CredentialType) SecretFields() []string { return credentialCatalog[t].secrets }

// WrapsCredential reports whether the variant depends on another credential
// and must therefore be created after it.
func (t CredentialType) WrapsCredential() bool { return credentialCatalog[t].wraps }

// Credential authenticates sources against a data platform.
type Credential struct {
	Meta
	Type    CredentialType
	Config  map[string]any
	secrets map[string]Secret

	// WarehouseCredential names the wrapped credential for wrapping variants.
	WarehouseCredential string
}

// NewCredential creates a credential and registers it in g.
func NewCredential(g *Graph, name string, typ CredentialType) *Credential {
	c := &Credential{
		Meta:    Meta{kind: api.KindCredential, name: name},
		Type:    typ,
		Config:  make(map[string]any),
		secrets: make(map[string]Secret),
	}
	register(g, &c.Meta, c)
	return c
}

// SetSecret stores a secret field value.
func (c *Credential) SetSecret(field string, s Secret) { c.secrets[field] = s }

// Secrets implements SecretHolder.
func (c *Credential) Secrets() map[string]Secret { return c.secrets }

// FillUnsetSecrets sets every declared secret field of the variant to the placeholder.
func (c *Credential) FillUnsetSecrets() {
	c.secrets = unsetSecrets(c.Type.SecretFields())
}

func (c *Credential) Typename() string { return c.Type.Typename() }

func (c *Credential) DiffFields() map[string]any {
	f := map[string]any{
		"type":   c.Typename(),
		"config": c.Config,
	}
	if c.WarehouseCredential != "" {
		f["warehouseCredential"] = c.WarehouseCredential
	}
	return f
}

func (c *Credential) References() []Ref {
	if c.WarehouseCredential == "" {
		return nil
	}
	return []Ref{{Kind: api.KindCredential, Name: c.WarehouseCredential}}
}

func (c *Credential) record(namespace string, dc *DiffContext) (*api.CredentialRecord, error) {
	rec := &api.CredentialRecord{
		Meta:    c.apiMeta(namespace, c.Typename()),
		Config:  copyConfig(c.Config),
		Secrets: secretsRecord(c.secrets),
	}
	if c.WarehouseCredential != "" {
		wrapped, err := MustFindCredential(dc, c.WarehouseCredential)
		if err != nil {
			return nil, err
		}
		id, err := parentID(c, wrapped)
		if err != nil {
			return nil, err
		}
		rec.WarehouseCredentialName = wrapped.Name()
		rec.WarehouseCredentialID = id
	}
	return rec, nil
}

func (c *Credential) Create(ctx context.Context, namespace string, client api.Client, dc *DiffContext) error {
	rec, err := c.record(namespace, dc)
	if err != nil {
		return err
	}
	return createRecord(ctx, client, &c.Meta, rec)
}

func (c *Credential) Update(ctx context.Context, namespace string, client api.Client, dc *DiffContext) error {
	rec, err := c.record(namespace, dc)
	if err != nil {
		return err
	}
	return updateRecord(ctx, client, &c.Meta, rec)
}

// SortCredentialsForCreate orders credentials by name with wrapping
// variants stable-sorted last.
func SortCredentialsForCreate(creds []*Credential) {
	sort.SliceStable(creds, func(i, j int) bool { return creds[i].Name() < creds[j].Name() })
	sort.SliceStable(creds, func(i, j int) bool {
		return !creds[i].Type.WrapsCredential() && creds[j].Type.WrapsCredential()
	})
}

// SortCredentialsForDelete is the reverse of the create order: wrapping variants first.
func SortCredentialsForDelete(creds []*Credential) {
	sort.SliceStable(creds, func(i, j int) bool { return creds[i].Name() < creds[j].Name() })
	sort.SliceStable(creds, func(i, j int) bool {
		return creds[i].Type.WrapsCredential() && !creds[j].Type.WrapsCredential()
	})
}
