package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// envFiles lists the dotenv files consulted before reading the process
// environment. Missing files are ignored and real env vars always win.
var envFiles = []string{".env"}

// parseEnv overlays values from the environment.
func parseEnv(config *Config) {
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}

	envString(&config.EndpointAddrHTTP, "HTTP_ADDR")
	envString(&config.DatabaseDSN, "DATABASE_URL")
	envString(&config.SecretKey, "JWT_SECRET")
	envString(&config.LogLevel, "LOG_LEVEL")

	envString(&config.TokenEncryptionKey, "TOKEN_ENCRYPTION_KEY")
	envString(&config.TokenEncryptionSalt, "TOKEN_ENCRYPTION_SALT")

	envString(&config.ProviderClientID, "DIGILOCKER_CLIENT_ID")
	envString(&config.ProviderClientSecret, "DIGILOCKER_CLIENT_SECRET")
	envString(&config.ProviderAuthURL, "DIGILOCKER_AUTH_URL")
	envString(&config.ProviderTokenURL, "DIGILOCKER_TOKEN_URL")
	envString(&config.ProviderAPIBase, "DIGILOCKER_API_BASE")
	envString(&config.ProviderRedirectURI, "DIGILOCKER_REDIRECT_URI")
	envString(&config.CallbackRedirectURL, "DIGILOCKER_SUCCESS_REDIRECT")

	envString(&config.RedisAddr, "REDIS_ADDR")
	envString(&config.RedisPassword, "REDIS_PASSWORD")
	if v, ok := os.LookupEnv("REDIS_DB"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			config.RedisDB = n
		}
	}

	envString(&config.AMQPURL, "RABBITMQ_URL")

	envString(&config.S3RootUser, "S3_ROOT_USER")
	envString(&config.S3RootPassword, "S3_ROOT_PASSWORD")
	envString(&config.S3Bucket, "S3_BUCKET")
	envString(&config.S3Region, "S3_REGION")
	envString(&config.S3BaseEndpoint, "S3_BASE_ENDPOINT")
}

func envString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}
