// SPDX-License-Identifier: GPL-3.0-or-later

package mssql

// Secret holds the connection parameters the host engine resolves from its
// own secret store before calling [Open].
//
// Every field mirrors one alias group accepted by [ParseConnString] and
// [ParseConnURI] so a secret and a raw connection string attach identically.
type Secret struct {
	Host     string
	Port     int
	Database string

	// User and Password are empty for federated-auth strategies that mint
	// or receive a token instead of a password.
	User     string
	Password string

	UseEncrypt     bool
	CatalogEnabled bool

	// SchemaFilter and TableFilter are compiled once at attach; see
	// [Config.SchemaFilter] and [Config.TableFilter].
	SchemaFilter string
	TableFilter  string

	// AzureSecretName names a secret the host engine's secret store
	// resolves to an access token at attach time; mutually exclusive with
	// AccessToken, which carries the token value directly.
	AzureSecretName string
	AccessToken     string
}

// SecretStore resolves a named secret into its connection parameters.
//
// Implementations are supplied by the host engine; this package never
// persists or logs Secret.Password or Secret.AccessToken.
type SecretStore interface {
	GetSecret(name string) (*Secret, error)
}
