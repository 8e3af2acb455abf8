package config

const (
	EnvPrefix = "REMARKET"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "REMARKET_DB_DSN"
	EnvDBHost = "REMARKET_DB_HOST"
	EnvDBUser = "REMARKET_DB_USER"
	EnvDBName = "REMARKET_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
