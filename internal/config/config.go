package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Twilio   TwilioConfig
	Bot      BotConfig
	Purge    PurgeConfig
	Log      LogConfig
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	URL        string
	DeleteMode string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type TwilioConfig struct {
	BaseURL     string
	AccountSID  string
	AuthToken   string
	FromNumber  string
	ContentMax  int
	Concurrency int
}

// BotConfig holds the reply texts and policies of the command interpreter.
type BotConfig struct {
	Messages            Messages
	ValidEnrollments    []string
	AdminPhoneNumbers   []string
	AdminAuthEnabled    bool
	ReplyToUnrecognized bool
	AdminKeyword        string
	CohortLocation      *time.Location
}

type Messages struct {
	Intro              string
	EnrollmentSuccess  string
	EnrollmentError    string
	AlreadyEnrolled    string
	CommandErrorSuffix string
}

type PurgeConfig struct {
	Interval  time.Duration
	Retention time.Duration
}

func (p PurgeConfig) Enabled() bool {
	return p.Retention > 0
}

type LogConfig struct {
	Level  string
	Format string
}

const (
	DefaultIntro              = `Welcome! To confirm your participation, please reply "YES"`
	DefaultEnrollmentSuccess  = "Thanks for participating. After the campaign is complete, your phone number will be deleted from our servers."
	DefaultEnrollmentError    = "There was a problem enrolling you. Please try again later."
	DefaultAlreadyEnrolled    = "You are already enrolled. Enjoy."
	DefaultCommandErrorSuffix = "Please check the server logs."
	DefaultValidEnrollments   = "yes,y,yup,yeah,ye,yess,yas,hello,hey,hi"
)

func LoadAll() (*Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	dbURL, err := requireEnv("DATABASE_URL")
	collect(err)
	sid, err := requireEnv("TWILIO_ACCOUNT_SID")
	collect(err)
	token, err := requireEnv("TWILIO_AUTH_TOKEN")
	collect(err)
	from, err := requireEnv("TWILIO_FROM_NUMBER")
	collect(err)

	contentMax, err := getEnvInt("CONTENT_MAX", 1600)
	collect(err)
	concurrency, err := getEnvInt("BROADCAST_CONCURRENCY", 4)
	collect(err)
	authEnabled, err := getEnvBool("ADMIN_AUTH_ENABLED", true)
	collect(err)
	replyUnrecognized, err := getEnvBool("REPLY_TO_UNRECOGNIZED", true)
	collect(err)
	purgeInterval, err := getEnvInt("PURGE_INTERVAL_SECONDS", 3600)
	collect(err)
	retention, err := getEnvInt("PURGE_RETENTION_HOURS", 0)
	collect(err)

	zone := getEnv("COHORT_TIMEZONE", "America/Los_Angeles")
	loc, err := time.LoadLocation(zone)
	if err != nil {
		collect(fmt.Errorf("invalid COHORT_TIMEZONE %q: %w", zone, err))
	}

	redisCfg, err := loadRedisConfig()
	collect(err)

	cfg := &Config{
		Server: ServerConfig{
			Address: serverAddress(),
		},
		Database: DatabaseConfig{
			URL:        dbURL,
			DeleteMode: getEnv("DELETE_MODE", "soft"),
		},
		Twilio: TwilioConfig{
			BaseURL:     getEnv("TWILIO_API_URL", "https://api.twilio.com"),
			AccountSID:  sid,
			AuthToken:   token,
			FromNumber:  from,
			ContentMax:  contentMax,
			Concurrency: concurrency,
		},
		Bot: BotConfig{
			Messages: Messages{
				Intro:              getEnv("INTRO_MESSAGE", DefaultIntro),
				EnrollmentSuccess:  getEnv("ENROLLMENT_SUCCESS_MESSAGE", DefaultEnrollmentSuccess),
				EnrollmentError:    getEnv("ENROLLMENT_ERROR_MESSAGE", DefaultEnrollmentError),
				AlreadyEnrolled:    getEnv("ALREADY_ENROLLED_MESSAGE", DefaultAlreadyEnrolled),
				CommandErrorSuffix: getEnv("COMMAND_ERROR_SUFFIX", DefaultCommandErrorSuffix),
			},
			ValidEnrollments:    splitList(getEnv("VALID_ENROLLMENTS", DefaultValidEnrollments)),
			AdminPhoneNumbers:   splitList(os.Getenv("ADMIN_PHONE_NUMBERS")),
			AdminAuthEnabled:    authEnabled,
			ReplyToUnrecognized: replyUnrecognized,
			AdminKeyword:        getEnv("ADMIN_KEYWORD", "COMMAND"),
			CohortLocation:      loc,
		},
		Purge: PurgeConfig{
			Interval:  time.Duration(purgeInterval) * time.Second,
			Retention: time.Duration(retention) * time.Hour,
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		Redis: redisCfg,
	}

	if len(errs) == 0 {
		errs = append(errs, validate(cfg)...)
	}
	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func serverAddress() string {
	if addr := os.Getenv("SERVER_ADDRESS"); addr != "" {
		return addr
	}
	if port := os.Getenv("PORT"); port != "" {
		return ":" + port
	}
	return ":8080"
}

func loadRedisConfig() (RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	db, dbErr := getEnvInt("REDIS_DB", 0)
	ttl, ttlErr := getEnvInt("REDIS_TTL_SECONDS", 86400)
	if err := joinErrors([]error{dbErr, ttlErr}); err != nil {
		return RedisConfig{}, err
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttl) * time.Second,
	}, nil
}

func validate(cfg *Config) []error {
	var errs []error
	if cfg.Twilio.ContentMax <= 0 {
		errs = append(errs, errors.New("CONTENT_MAX must be > 0"))
	}
	if cfg.Twilio.Concurrency <= 0 {
		errs = append(errs, errors.New("BROADCAST_CONCURRENCY must be > 0"))
	}
	if cfg.Purge.Interval <= 0 {
		errs = append(errs, errors.New("PURGE_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Purge.Retention < 0 {
		errs = append(errs, errors.New("PURGE_RETENTION_HOURS must be >= 0"))
	}
	if cfg.Database.DeleteMode != "soft" && cfg.Database.DeleteMode != "hard" {
		errs = append(errs, fmt.Errorf("DELETE_MODE must be soft or hard, got %q", cfg.Database.DeleteMode))
	}
	if strings.TrimSpace(cfg.Bot.AdminKeyword) == "" || strings.ContainsAny(cfg.Bot.AdminKeyword, " \t\n") {
		errs = append(errs, errors.New("ADMIN_KEYWORD must be a single word"))
	}
	if len(cfg.Bot.ValidEnrollments) == 0 {
		errs = append(errs, errors.New("VALID_ENROLLMENTS must list at least one phrase"))
	}
	if cfg.Redis.Enabled && cfg.Redis.TTL <= 0 {
		errs = append(errs, errors.New("REDIS_TTL_SECONDS must be > 0"))
	}
	return errs
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid int for env %s: %s", key, v)
	}
	return i, nil
}

func getEnvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid bool for env %s: %s", key, v)
	}
	return b, nil
}

// splitList splits a comma-separated value, trimming blanks and dropping empty items.
func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func joinErrors(errs []error) error {
	return errors.Join(errs...)
}
