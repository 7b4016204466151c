package config

import (
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // LIMEN_BUSINESS_TZ in minimal images

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr string
	GRPCAddr string // empty disables the gRPC listener

	// DB
	Env    string // "dev" | "prod"
	Store  string // "sqlite" | "memory"
	DBPath string // e.g. "./data/limen.db"

	LogLevel  string
	LogFormat string // "text" | "json"

	// Approval workflow
	BusinessTZ           *time.Location
	RequiredApprovals    []string
	DefaultDurationHours float64
	MaxDurationHours     float64

	// Background sweeper
	SweepIntervalMinutes int // 0 disables the sweeper
	RequestRetentionDays int // 0 keeps stale requests forever
}

// FromEnv loads a .env file if present, then reads LIMEN_* variables.
// Invalid values fall back to defaults rather than failing startup.
func FromEnv() Config {
	_ = godotenv.Load()

	env := strings.ToLower(getenvDefault("LIMEN_ENV", "dev"))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}

	storeKind := strings.ToLower(getenvDefault("LIMEN_STORE", "sqlite"))
	if storeKind != "sqlite" && storeKind != "memory" {
		storeKind = "sqlite"
	}

	approvals := splitCSV(strings.ToLower(os.Getenv("LIMEN_REQUIRED_APPROVALS")))
	if len(approvals) == 0 {
		approvals = []string{"manager", "security"}
	}

	defaultHours := getenvFloat("LIMEN_DEFAULT_DURATION_HOURS", 8)
	maxHours := getenvFloat("LIMEN_MAX_DURATION_HOURS", 72)
	if defaultHours > maxHours {
		defaultHours = maxHours
	}

	return Config{
		HTTPAddr: getenvDefault("LIMEN_HTTP_ADDR", ":8080"),
		GRPCAddr: getenvAllowEmpty("LIMEN_GRPC_ADDR", ":9090"),

		Env:    env,
		Store:  storeKind,
		DBPath: getenvDefault("LIMEN_DB_PATH", "./data/limen.db"),

		LogLevel:  getenvDefault("LIMEN_LOG_LEVEL", "info"),
		LogFormat: getenvDefault("LIMEN_LOG_FORMAT", "text"),

		BusinessTZ:           getenvLocation("LIMEN_BUSINESS_TZ", time.UTC),
		RequiredApprovals:    approvals,
		DefaultDurationHours: defaultHours,
		MaxDurationHours:     maxHours,

		SweepIntervalMinutes: getenvInt("LIMEN_SWEEP_INTERVAL_MINUTES", 1),
		RequestRetentionDays: getenvInt("LIMEN_REQUEST_RETENTION_DAYS", 3),
	}
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// getenvAllowEmpty distinguishes unset (default) from set-but-empty.
func getenvAllowEmpty(key, def string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	return strings.TrimSpace(v)
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return def
	}
	return f
}

func getenvLocation(key string, def *time.Location) *time.Location {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	loc, err := time.LoadLocation(v)
	if err != nil {
		return def
	}
	return loc
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
