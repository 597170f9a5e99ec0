// Package config loads process configuration once at startup. Sources are
// layered: defaults, an optional .env file, the environment, then flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/migrate"
)

// DevJWTSecret is accepted only when AllowDevSecret is set.
const DevJWTSecret = "gatehouse-dev-secret-change-me"

type Config struct {
	HTTPAddr string
	GRPCAddr string
	PGDSN    string
	LogLevel string

	JWTSecret      string
	JWTIssuer      string
	AllowDevSecret bool
	AccessTTL      time.Duration
	RefreshTTL     time.Duration
	ResetCodeTTL   time.Duration
	AppName        string

	CORSOrigins []string
	Argon2      auth.Argon2Params

	RateLimitRPS   float64
	RateLimitBurst int
	MaxBodyBytes   int64
	// TrustProxy takes the client address from forwarding headers. Enable it
	// only behind a proxy that overwrites them.
	TrustProxy bool

	Seed migrate.SeedConfig

	// Args holds the positional arguments left after flag parsing.
	Args []string
}

func Defaults() Config {
	return Config{
		HTTPAddr:       ":8080",
		GRPCAddr:       ":9090",
		LogLevel:       "info",
		AccessTTL:      auth.DefaultAccessTTL,
		RefreshTTL:     auth.DefaultRefreshTTL,
		ResetCodeTTL:   time.Minute,
		AppName:        "Gatehouse",
		Argon2:         auth.DefaultArgon2Params(),
		RateLimitRPS:   1,
		RateLimitBurst: 5,
		MaxBodyBytes:   1 << 20,
		Seed:           migrate.DefaultSeedConfig(),
	}
}

// Load resolves configuration for the process. args excludes the program name.
func Load(args []string) (Config, error) {
	return load(args, os.LookupEnv)
}

func load(args []string, lookupEnv func(string) (string, bool)) (Config, error) {
	envFile := ".env"
	if v, ok := lookupEnv("GATEHOUSE_ENV_FILE"); ok {
		envFile = v
	}
	fileVals := map[string]string{}
	if envFile != "" {
		vals, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			fileVals = vals
		case errors.Is(err, fs.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read %s: %w", envFile, err)
		}
	}
	get := func(key string) (string, bool) {
		if v, ok := lookupEnv(key); ok {
			return v, true
		}
		v, ok := fileVals[key]
		return v, ok
	}

	cfg := Defaults()
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := get(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	millis := func(key string, dst *time.Duration) {
		if v, ok := get(key); ok {
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = time.Duration(n) * time.Millisecond
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := get(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	uint32Val := func(key string, dst *uint32) {
		if v, ok := get(key); ok {
			n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 32)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = uint32(n)
		}
	}

	str("GATEHOUSE_HTTP_ADDR", &cfg.HTTPAddr)
	str("GATEHOUSE_GRPC_ADDR", &cfg.GRPCAddr)
	str("GATEHOUSE_PG_DSN", &cfg.PGDSN)
	str("GATEHOUSE_LOG_LEVEL", &cfg.LogLevel)
	str("GATEHOUSE_JWT_SECRET", &cfg.JWTSecret)
	str("GATEHOUSE_JWT_ISSUER", &cfg.JWTIssuer)
	str("APP_NAME", &cfg.AppName)
	millis("JWT_ACCESS_TTL_MS", &cfg.AccessTTL)
	millis("JWT_REFRESH_TTL_MS", &cfg.RefreshTTL)

	minutes := int(cfg.ResetCodeTTL / time.Minute)
	integer("PASSWORD_RESET_TTL_MINUTES", &minutes)
	cfg.ResetCodeTTL = time.Duration(minutes) * time.Minute

	boolean := func(key string, dst *bool) {
		if v, ok := get(key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	boolean("GATEHOUSE_ALLOW_DEV_SECRET", &cfg.AllowDevSecret)
	boolean("GATEHOUSE_TRUST_PROXY", &cfg.TrustProxy)
	if v, ok := get("CORS_ORIGINS"); ok {
		cfg.CORSOrigins = ParseOrigins(v)
	}

	uint32Val("ARGON2_MEMORY_KIB", &cfg.Argon2.Memory)
	uint32Val("ARGON2_ITERATIONS", &cfg.Argon2.Iterations)
	parallelism := int(cfg.Argon2.Parallelism)
	integer("ARGON2_PARALLELISM", &parallelism)
	if parallelism > 0 && parallelism <= 255 {
		cfg.Argon2.Parallelism = uint8(parallelism)
	} else {
		errs = append(errs, fmt.Errorf("ARGON2_PARALLELISM: %d out of range", parallelism))
	}

	if v, ok := get("RATE_LIMIT_RPS"); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_RPS: %w", err))
		}
		cfg.RateLimitRPS = f
	}
	integer("RATE_LIMIT_BURST", &cfg.RateLimitBurst)

	str("SEED_ADMIN_EMAIL", &cfg.Seed.AdminEmail)
	str("SEED_ADMIN_NAME", &cfg.Seed.AdminName)
	if v, ok := get("SEED_ADMIN_PASSWORD"); ok {
		cfg.Seed.AdminPassword = v
	}

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}

	fset := flag.NewFlagSet("gatehouse", flag.ContinueOnError)
	fset.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	fset.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "gRPC health listen address")
	fset.StringVar(&cfg.PGDSN, "dsn", cfg.PGDSN, "PostgreSQL DSN (empty uses the in-memory store)")
	fset.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fset.BoolVar(&cfg.AllowDevSecret, "allow-dev-secret", cfg.AllowDevSecret, "fall back to the built-in development JWT secret")
	fset.BoolVar(&cfg.TrustProxy, "trust-proxy", cfg.TrustProxy, "take client addresses from X-Forwarded-For / X-Real-IP")
	if err := fset.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.Args = fset.Args()

	if cfg.JWTSecret == "" && cfg.AllowDevSecret {
		cfg.JWTSecret = DevJWTSecret
	}
	return cfg, nil
}

// Validate rejects configurations the services cannot start with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("GATEHOUSE_JWT_SECRET is required"))
	}
	if c.AccessTTL <= 0 {
		errs = append(errs, errors.New("JWT_ACCESS_TTL_MS must be positive"))
	}
	if c.RefreshTTL <= 0 {
		errs = append(errs, errors.New("JWT_REFRESH_TTL_MS must be positive"))
	}
	if c.ResetCodeTTL <= 0 {
		errs = append(errs, errors.New("PASSWORD_RESET_TTL_MINUTES must be positive"))
	}
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("HTTP address is required"))
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("rate limit rps and burst must be positive"))
	}
	if c.Argon2.Memory == 0 || c.Argon2.Iterations == 0 {
		errs = append(errs, errors.New("argon2 memory and iterations must be positive"))
	}
	return errors.Join(errs...)
}

// AnyOrigin reports whether CORS is open to every origin.
func (c Config) AnyOrigin() bool {
	return len(c.CORSOrigins) == 1 && c.CORSOrigins[0] == "*"
}

// ParseOrigins splits a comma separated origin list. "*", "all" and "true"
// collapse the list to the wildcard.
func ParseOrigins(raw string) []string {
	var origins []string
	for _, part := range strings.Split(raw, ",") {
		o := strings.TrimRight(strings.TrimSpace(part), "/")
		if o == "" {
			continue
		}
		switch strings.ToLower(o) {
		case "*", "all", "true":
			return []string{"*"}
		}
		origins = append(origins, o)
	}
	return origins
}
