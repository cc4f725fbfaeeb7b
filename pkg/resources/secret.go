package resources

import (
	"encoding/json"
)

// UnsetSecret is the placeholder used for secret fields the server never returns.
const UnsetSecret = "UNSET"

// Secret is an opaque secret field value. A loaded resource holds unset
// secrets: the value exists remotely but is unknown locally.
type Secret struct {
	value string
	set   bool
}

// SecretValue wraps a known plaintext secret.
func SecretValue(v string) Secret {
	return Secret{value: v, set: true}
}

// UnsetSecretValue returns the placeholder for a secret that exists remotely.
func UnsetSecretValue() Secret {
	return Secret{value: UnsetSecret}
}

// IsSet reports whether the plaintext is known.
func (s Secret) IsSet() bool { return s.set }

// Reveal returns the plaintext, or UnsetSecret for placeholders.
func (s Secret) Reveal() string { return s.value }

// String never prints the plaintext.
func (s Secret) String() string {
	if !s.set {
		return UnsetSecret
	}
	return "<sensitive>"
}

// MarshalJSON never encodes the plaintext.
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// MarshalYAML never encodes the plaintext.
func (s Secret) MarshalYAML() (any, error) {
	return s.String(), nil
}

func secretsRecord(secrets map[string]Secret) map[string]string {
	out := make(map[string]string)
	for k, s := range secrets {
		if s.IsSet() {
			out[k] = s.value
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func unsetSecrets(fields []string) map[string]Secret {
	out := make(map[string]Secret, len(fields))
	for _, f := range fields {
		out[f] = UnsetSecretValue()
	}
	return out
}
