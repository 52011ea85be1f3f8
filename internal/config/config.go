package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port       string
	DBAdapter  string
	SQLiteFile string
	JwtSecret  string
	LogLevel   string
	// Access grant settings
	GrantSecret     string
	GrantTTLMinutes int
	// Token economy settings
	CatalogFile string
	PricingURL  string
	SignupGrant int64
	// HTTP settings
	AllowedOrigins        []string
	RateLimitPerMinute    int
	RequestTimeoutSeconds int
	// PostgreSQL connection settings
	PostgresDSN      string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", key, v)
	}
	return n, nil
}

// BuildPostgresDSN constructs a PostgreSQL DSN from individual components or returns the provided DSN
func (c *Config) BuildPostgresDSN() (string, error) {
	// If DSN is provided directly, use it
	if c.PostgresDSN != "" {
		return c.PostgresDSN, nil
	}

	// Build DSN from individual components
	if c.PostgresHost == "" {
		return "", errors.New("POSTGRES_HOST or POSTGRES_DSN must be set")
	}
	if c.PostgresUser == "" {
		return "", errors.New("POSTGRES_USER must be set")
	}
	if c.PostgresDB == "" {
		return "", errors.New("POSTGRES_DB must be set")
	}

	port := c.PostgresPort
	if port == "" {
		port = "5432"
	}

	sslMode := c.PostgresSSLMode
	if sslMode == "" {
		sslMode = "disable" // Default to disable for local development
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s",
		c.PostgresHost, port, c.PostgresUser, c.PostgresDB, sslMode)

	if c.PostgresPassword != "" {
		dsn += " password=" + c.PostgresPassword
	}

	return dsn, nil
}

func New() (*Config, error) {
	c := &Config{
		Port:        getenv("PORT", "8080"),
		DBAdapter:   getenv("DB_ADAPTER", "postgres"), // Default to postgres
		SQLiteFile:  getenv("SQLITE_FILE", "./data/tokengate.db"),
		JwtSecret:   getenv("JWT_SECRET", "change-me"),
		GrantSecret: getenv("GRANT_SECRET", ""),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		CatalogFile: getenv("MODULE_CATALOG_FILE", ""),
		PricingURL:  getenv("PRICING_URL", "/pricing"),
		// PostgreSQL settings
		PostgresDSN:      getenv("POSTGRES_DSN", ""),
		PostgresHost:     getenv("POSTGRES_HOST", getenv("DB_HOST", "localhost")),
		PostgresPort:     getenv("POSTGRES_PORT", getenv("DB_PORT", "5432")),
		PostgresUser:     getenv("POSTGRES_USER", getenv("DB_USER", "tokengate")),
		PostgresPassword: getenv("POSTGRES_PASSWORD", getenv("DB_PASSWORD", "tokengatepass")),
		PostgresDB:       getenv("POSTGRES_DB", getenv("DB_NAME", "tokengate")),
		PostgresSSLMode:  getenv("POSTGRES_SSLMODE", getenv("DB_SSLMODE", "disable")),
	}

	// A separate grant secret keeps destination-module trust independent of
	// login sessions; it falls back to the JWT secret when unset.
	if c.GrantSecret == "" {
		c.GrantSecret = c.JwtSecret
	}

	var err error
	if c.GrantTTLMinutes, err = getenvInt("GRANT_TTL_MINUTES", 5); err != nil {
		return nil, err
	}
	if c.GrantTTLMinutes <= 0 {
		return nil, errors.New("GRANT_TTL_MINUTES must be positive")
	}
	if c.RateLimitPerMinute, err = getenvInt("RATE_LIMIT_PER_MINUTE", 120); err != nil {
		return nil, err
	}
	if c.RequestTimeoutSeconds, err = getenvInt("REQUEST_TIMEOUT_SECONDS", 5); err != nil {
		return nil, err
	}
	grant, err := getenvInt("SIGNUP_GRANT_TOKENS", 0)
	if err != nil {
		return nil, err
	}
	if grant < 0 {
		return nil, errors.New("SIGNUP_GRANT_TOKENS must not be negative")
	}
	c.SignupGrant = int64(grant)

	if origins := getenv("ALLOWED_ORIGINS", ""); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.AllowedOrigins = append(c.AllowedOrigins, o)
			}
		}
	}

	// Validate PostgreSQL configuration if using postgres
	if c.DBAdapter == "postgres" {
		dsn, err := c.BuildPostgresDSN()
		if err != nil {
			return nil, fmt.Errorf("postgres configuration error: %w", err)
		}
		c.PostgresDSN = dsn
	}

	if c.DBAdapter == "sqlite" {
		// ensure sqlite file path is not empty
		if c.SQLiteFile == "" {
			return nil, errors.New("SQLITE_FILE must be set when DB_ADAPTER=sqlite")
		}
	}

	// Validate secrets in production
	env := strings.ToLower(getenv("ENV", ""))
	if env == "production" || env == "prod" {
		if c.JwtSecret == "" || c.JwtSecret == "change-me" {
			return nil, errors.New("JWT_SECRET must be set in production")
		}
		if c.GrantSecret == c.JwtSecret {
			return nil, errors.New("GRANT_SECRET must be set in production")
		}
	}

	// normalize port
	if _, err := strconv.Atoi(c.Port); err != nil {
		return nil, fmt.Errorf("invalid PORT: %s", c.Port)
	}

	return c, nil
}
