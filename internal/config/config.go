package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// DefaultAdminRoleID is the main Directus administrator role.
	DefaultAdminRoleID = "69db487d-4b8c-433a-8f2b-ef25923d8615"
	// DefaultProjectManagerRoleID is the project manager role, which also grants photo review.
	DefaultProjectManagerRoleID = "31111be2-81e5-48a3-8746-2d53718248c6"
)

var ErrMissingDirectusURL = errors.New("DIRECTUS_URL is missing or invalid (e.g. https://dev.planboo-mrvin.com)")

// Config holds all configuration for the application
type Config struct {
	// Directus backend
	Directus DirectusConfig

	// HTTP server
	Server ServerConfig

	// Database Configuration (session persistence)
	Database DatabaseConfig

	// Realtime websocket channel
	Realtime RealtimeConfig

	// Photo gallery
	Photos PhotosConfig

	// Logging Configuration
	Logging LoggingConfig
}

// DirectusConfig holds backend connection settings
type DirectusConfig struct {
	URL          string
	AdminRoleIDs []string // privileged roles, in precedence order
	Timeout      time.Duration
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port            int
	AllowOrigins    []string
	SessionTTL      time.Duration
	CookieSecure    bool
	LoginRatePerSec float64
	LoginRateBurst  int

	// AuthRecheckInterval is how long a settled session is trusted before
	// its tokens are verified with the backend again. 0 checks every request.
	AuthRecheckInterval time.Duration

	// TrustedProxies may set X-Forwarded-For. Empty trusts no proxy.
	TrustedProxies []string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL string
}

// RealtimeConfig holds websocket reconnection policy
type RealtimeConfig struct {
	ReconnectDelay time.Duration
	MaxReconnects  int // 0 means unlimited
}

// PhotosConfig holds gallery settings
type PhotosConfig struct {
	FieldMapFile string // optional YAML override of the collection field map
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string
	Format string // json, console
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env files (fails silently if files don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	directusURL, ok := NormalizeURL(os.Getenv("DIRECTUS_URL"))
	if !ok {
		return nil, ErrMissingDirectusURL
	}

	timeout, err := durationEnv("HTTP_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}

	port, err := intEnv("PORT", 8080)
	if err != nil {
		return nil, err
	}
	if port <= 0 {
		return nil, fmt.Errorf("PORT must be positive, got %d", port)
	}

	sessionTTL, err := durationEnv("SESSION_TTL", 18*time.Hour)
	if err != nil {
		return nil, err
	}

	cookieSecure, err := boolEnv("SESSION_COOKIE_SECURE", true)
	if err != nil {
		return nil, err
	}

	loginRate, err := floatEnv("LOGIN_RATE_PER_SECOND", 1)
	if err != nil {
		return nil, err
	}
	loginBurst, err := intEnv("LOGIN_RATE_BURST", 5)
	if err != nil {
		return nil, err
	}

	authRecheck, err := durationEnv("AUTH_RECHECK_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, err
	}

	reconnectDelay, err := durationEnv("REALTIME_RECONNECT_DELAY", 2*time.Second)
	if err != nil {
		return nil, err
	}
	maxReconnects, err := intEnv("REALTIME_MAX_RECONNECTS", 5)
	if err != nil {
		return nil, err
	}

	// Database URL - default to a local sqlite file
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = "photoreview.sqlite"
	}

	// Logging configuration - defaults suitable for production
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	logFormat := os.Getenv("LOG_FORMAT")
	if logFormat == "" {
		logFormat = "json"
	}

	return &Config{
		Directus: DirectusConfig{
			URL:          directusURL,
			AdminRoleIDs: AdminRoleIDs(),
			Timeout:      timeout,
		},
		Server: ServerConfig{
			Port:            port,
			AllowOrigins:    splitList(os.Getenv("ALLOW_ORIGINS")),
			SessionTTL:      sessionTTL,
			CookieSecure:    cookieSecure,
			LoginRatePerSec: loginRate,
			LoginRateBurst:  loginBurst,

			AuthRecheckInterval: authRecheck,
			TrustedProxies:      splitList(os.Getenv("TRUSTED_PROXIES")),
		},
		Database: DatabaseConfig{
			URL: dbURL,
		},
		Realtime: RealtimeConfig{
			ReconnectDelay: reconnectDelay,
			MaxReconnects:  maxReconnects,
		},
		Photos: PhotosConfig{
			FieldMapFile: strings.TrimSpace(os.Getenv("PHOTO_FIELD_MAP_FILE")),
		},
		Logging: LoggingConfig{
			Level:  logLevel,
			Format: logFormat,
		},
	}, nil
}

// AdminRoleIDs returns the privileged role ids from the environment, falling
// back to the built-in administrator and project manager roles.
func AdminRoleIDs() []string {
	adminRoleID := strings.TrimSpace(os.Getenv("DIRECTUS_ADMIN_ROLE_ID"))
	if adminRoleID == "" {
		adminRoleID = DefaultAdminRoleID
	}
	pmRoleID := strings.TrimSpace(os.Getenv("DIRECTUS_PROJECT_MANAGER_ROLE_ID"))
	if pmRoleID == "" {
		pmRoleID = DefaultProjectManagerRoleID
	}
	return append([]string{adminRoleID, pmRoleID}, splitList(os.Getenv("DIRECTUS_EXTRA_ADMIN_ROLE_IDS"))...)
}

var schemeRe = regexp.MustCompile(`(?i)^https?://`)

// NormalizeURL enforces a scheme (https:// unless one is given) and strips
// trailing slashes. It reports false for empty or unparseable values.
func NormalizeURL(raw string) (string, bool) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", false
	}
	if !schemeRe.MatchString(value) {
		value = "https://" + value
	}
	value = strings.TrimRight(value, "/")

	u, err := url.Parse(value)
	if err != nil || u.Host == "" {
		return "", false
	}
	return value, true
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def, nil
	}
	dur, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return dur, nil
}

func intEnv(key string, def int) (int, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func floatEnv(key string, def float64) (float64, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func boolEnv(key string, def bool) (bool, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
