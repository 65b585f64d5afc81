package config

import (
	"encoding/json"
	"os"

	"github.com/nikilm-offx/TNEA-Insight/internal/flagx"
	"github.com/nikilm-offx/TNEA-Insight/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations use
// timex.Duration so both "15s" and integer nanoseconds are accepted. Only
// keys present in the file override the current values.
type JsonConfig struct {
	EndpointAddrHTTP *string `json:"endpoint_addr_http"`
	DatabaseDSN      *string `json:"database_dsn"`
	SecretKey        *string `json:"secret_key"`
	LogLevel         *string `json:"log_level"`

	TokenEncryptionKey  *string `json:"token_encryption_key"`
	TokenEncryptionSalt *string `json:"token_encryption_salt"`

	ProviderClientID     *string         `json:"provider_client_id"`
	ProviderClientSecret *string         `json:"provider_client_secret"`
	ProviderAuthURL      *string         `json:"provider_auth_url"`
	ProviderTokenURL     *string         `json:"provider_token_url"`
	ProviderAPIBase      *string         `json:"provider_api_base"`
	ProviderRedirectURI  *string         `json:"provider_redirect_uri"`
	ProviderTimeout      *timex.Duration `json:"provider_timeout"`
	CallbackRedirectURL  *string         `json:"callback_redirect_url"`

	IssuerPublicKeys map[string]string `json:"issuer_public_keys"`

	RedisAddr     *string         `json:"redis_addr"`
	RedisPassword *string         `json:"redis_password"`
	RedisDB       *int            `json:"redis_db"`
	StateTTL      *timex.Duration `json:"state_ttl"`

	AMQPURL      *string `json:"amqp_url"`
	AMQPExchange *string `json:"amqp_exchange"`

	S3RootUser     *string `json:"s3_root_user"`
	S3RootPassword *string `json:"s3_root_password"`
	S3Bucket       *string `json:"s3_bucket"`
	S3Region       *string `json:"s3_region"`
	S3BaseEndpoint *string `json:"s3_base_endpoint"`

	CredentialSweepSpec  *string `json:"credential_sweep_spec"`
	CertificateSweepSpec *string `json:"certificate_sweep_spec"`
}

// parseJson overlays values from the file named by -c / -config. A missing
// flag means nothing is loaded; an unreadable or invalid file panics.
func parseJson(config *Config) {
	path := flagx.ConfigPath(os.Args[1:])
	if path == "" {
		return
	}

	file, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.TokenEncryptionKey, c.TokenEncryptionKey)
	setString(&config.TokenEncryptionSalt, c.TokenEncryptionSalt)
	setString(&config.ProviderClientID, c.ProviderClientID)
	setString(&config.ProviderClientSecret, c.ProviderClientSecret)
	setString(&config.ProviderAuthURL, c.ProviderAuthURL)
	setString(&config.ProviderTokenURL, c.ProviderTokenURL)
	setString(&config.ProviderAPIBase, c.ProviderAPIBase)
	setString(&config.ProviderRedirectURI, c.ProviderRedirectURI)
	setString(&config.CallbackRedirectURL, c.CallbackRedirectURL)
	if c.ProviderTimeout != nil {
		config.ProviderTimeout = c.ProviderTimeout.Duration
	}
	if c.IssuerPublicKeys != nil {
		config.IssuerPublicKeys = c.IssuerPublicKeys
	}
	setString(&config.RedisAddr, c.RedisAddr)
	setString(&config.RedisPassword, c.RedisPassword)
	if c.RedisDB != nil {
		config.RedisDB = *c.RedisDB
	}
	if c.StateTTL != nil {
		config.StateTTL = c.StateTTL.Duration
	}
	setString(&config.AMQPURL, c.AMQPURL)
	setString(&config.AMQPExchange, c.AMQPExchange)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.CredentialSweepSpec, c.CredentialSweepSpec)
	setString(&config.CertificateSweepSpec, c.CertificateSweepSpec)
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}
