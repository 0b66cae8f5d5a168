package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"gitlab.com/distributed_lab/logan/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

// DefaultJWTSecret signs tokens when PRICECROWD_JWT_SECRET is unset. It is
// only fit for local development.
const DefaultJWTSecret = "pricecrowd-dev-secret"

// Config is the process configuration read from PRICECROWD_* variables.
type Config struct {
	Addr            string        `env:"PRICECROWD_ADDR" envDefault:":8080"`
	AdminAddress    string        `env:"PRICECROWD_ADMIN_ADDRESS"`
	JWTSecret       string        `env:"PRICECROWD_JWT_SECRET" envDefault:"pricecrowd-dev-secret"`
	TokenTTL        time.Duration `env:"PRICECROWD_TOKEN_TTL" envDefault:"24h"`
	ChallengeTTL    time.Duration `env:"PRICECROWD_CHALLENGE_TTL" envDefault:"5m"`
	SQLitePath      string        `env:"PRICECROWD_SQLITE_PATH"`
	MigrationsDir   string        `env:"PRICECROWD_MIGRATIONS_DIR"`
	MaxParticipants int           `env:"PRICECROWD_MAX_PARTICIPANTS" envDefault:"10"`
	AuditCapacity   int           `env:"PRICECROWD_AUDIT_CAPACITY" envDefault:"1000"`
	LogLevel        string        `env:"PRICECROWD_LOG_LEVEL" envDefault:"info"`
	CORSOrigins     []string      `env:"PRICECROWD_CORS_ORIGINS" envSeparator:","`
	Commit          string        `env:"PRICECROWD_COMMIT"`
	BuildTime       string        `env:"PRICECROWD_BUILD_TIME"`
}

// ParseEnv parses environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.AdminAddress != "" {
		if _, err := c.Admin(); err != nil {
			return err
		}
	}
	if c.MaxParticipants <= 0 {
		return errors.New("PRICECROWD_MAX_PARTICIPANTS must be positive")
	}
	if c.TokenTTL <= 0 || c.ChallengeTTL <= 0 {
		return errors.New("token and challenge ttl must be positive")
	}
	if c.JWTSecret == "" {
		return errors.New("PRICECROWD_JWT_SECRET is required")
	}
	if _, err := logan.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "invalid PRICECROWD_LOG_LEVEL")
	}
	return nil
}

// Admin returns the administrator address. Serving requires one.
func (c Config) Admin() (common.Address, error) {
	if c.AdminAddress == "" {
		return common.Address{}, errors.New("PRICECROWD_ADMIN_ADDRESS is required")
	}
	if !common.IsHexAddress(c.AdminAddress) {
		return common.Address{}, errors.New("PRICECROWD_ADMIN_ADDRESS is not a hex address")
	}
	admin := common.HexToAddress(c.AdminAddress)
	if admin == (common.Address{}) {
		return common.Address{}, errors.New("PRICECROWD_ADMIN_ADDRESS must not be the zero address")
	}
	return admin, nil
}

// UsesDefaultSecret reports whether tokens are signed with DefaultJWTSecret.
func (c Config) UsesDefaultSecret() bool { return c.JWTSecret == DefaultJWTSecret }

// Log builds the root logger at the configured level.
func (c Config) Log() *logan.Entry {
	lvl, err := logan.ParseLevel(c.LogLevel)
	if err != nil {
		lvl = logan.InfoLevel
	}
	return logan.New().Level(lvl).WithField("service", "pricecrowd")
}
