package config

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go-meshy-generate/internal/api"
	"go-meshy-generate/internal/models"
	"go-meshy-generate/internal/pipeline"
	"go-meshy-generate/internal/tasks"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Default values for configuration
const (
	DefaultSavePath            = "models"
	DefaultDatabasePath        = "meshy.db"    // Relative to SavePath if not absolute
	DefaultIndexPath           = "meshy.bleve" // Relative to SavePath if not absolute
	DefaultLogApiRequests      = false
	DefaultAPIClientTimeoutSec = 60 // seconds
	DefaultMaxAttempts         = tasks.DefaultMaxAttempts
	DefaultRetryDelaySec       = 5
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
	DefaultConfigFilePath      = "config.toml"
	DefaultServerAddr          = ":3031"
)

// setViperDefaults configures Viper with the application's default values.
func setViperDefaults(v *viper.Viper) {
	v.SetDefault("apikey", "")
	v.SetDefault("baseurl", api.MeshyApiBaseUrl)
	v.SetDefault("savepath", DefaultSavePath)
	v.SetDefault("databasepath", "") // Derived from SavePath later
	v.SetDefault("indexpath", "")    // Derived from SavePath later
	v.SetDefault("logapirequests", DefaultLogApiRequests)
	v.SetDefault("apiclienttimeoutsec", DefaultAPIClientTimeoutSec)
	v.SetDefault("maxattempts", DefaultMaxAttempts)
	v.SetDefault("retrydelaysec", DefaultRetryDelaySec)
	v.SetDefault("loglevel", DefaultLogLevel)
	v.SetDefault("logformat", DefaultLogFormat)
	v.SetDefault("modelformat", pipeline.DefaultModelFormat)

	v.SetDefault("server.addr", DefaultServerAddr)

	// Empty generation defaults fall through to the service defaults.
	v.SetDefault("generate.artstyle", "")
	v.SetDefault("generate.aimodel", "")
	v.SetDefault("generate.topology", "")
	v.SetDefault("generate.symmetrymode", "")
	v.SetDefault("generate.targetpolycount", 0)
	v.SetDefault("generate.enablepbr", false)
}

// CliFlags holds pointers to values received from command-line flags.
// Nil fields indicate the flag was not provided by the user.
type CliFlags struct {
	ConfigFilePath      *string
	LogLevel            *string // --log-level
	LogFormat           *string // --log-format
	LogApiRequests      *bool   // --log-api
	SavePath            *string // --save-path
	APIKey              *string // --api-key
	APIClientTimeoutSec *int    // --api-timeout
	MaxAttempts         *int    // --max-attempts
	RetryDelaySec       *int    // --retry-delay
	ModelFormat         *string // --format

	Server *CliServerFlags
}

type CliServerFlags struct {
	Addr *string // --addr
}

// Initialize loads configuration based on defaults, .env, environment, config file, and flags.
// Precedence: Flags > Environment > Config File > Defaults.
func Initialize(flags CliFlags) (models.Config, http.RoundTripper, error) {
	// A missing .env is the normal case.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("[Initialize] Failed to load .env file")
	}

	var finalCfg models.Config

	v := viper.New()
	v.SetEnvPrefix("MESHY")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	_ = v.BindEnv("apikey", "MESHY_API_KEY", "MESHY_APIKEY")
	setViperDefaults(v)

	actualConfigFilePath := DefaultConfigFilePath
	if flags.ConfigFilePath != nil {
		actualConfigFilePath = *flags.ConfigFilePath
		log.Debugf("[Initialize] Using config file path from CLI flag: %s", actualConfigFilePath)
	}
	v.SetConfigFile(actualConfigFilePath)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok || os.IsNotExist(err) {
			log.Debugf("[Initialize] Config file '%s' not found. Using defaults, environment and CLI flags only.", actualConfigFilePath)
		} else {
			log.Warnf("[Initialize] Error reading config file '%s': %v. Using defaults, environment and CLI flags only.", actualConfigFilePath, err)
		}
	} else {
		log.Infof("[Initialize] Successfully read config file: %s", v.ConfigFileUsed())
	}

	if err := v.Unmarshal(&finalCfg); err != nil {
		return models.Config{}, nil, fmt.Errorf("failed to unmarshal config from viper: %w", err)
	}

	// --- Override with CLI Flags ---
	if flags.APIKey != nil {
		log.Debug("[Initialize] Overriding APIKey from flag.")
		finalCfg.APIKey = *flags.APIKey
	}
	if flags.SavePath != nil {
		log.Debugf("[Initialize] Overriding SavePath from flag: '%s'", *flags.SavePath)
		finalCfg.SavePath = *flags.SavePath
	}
	if flags.LogApiRequests != nil {
		finalCfg.LogApiRequests = *flags.LogApiRequests
	}
	if flags.APIClientTimeoutSec != nil {
		finalCfg.APIClientTimeoutSec = *flags.APIClientTimeoutSec
	}
	if flags.MaxAttempts != nil {
		finalCfg.MaxAttempts = *flags.MaxAttempts
	}
	if flags.RetryDelaySec != nil {
		finalCfg.RetryDelaySec = *flags.RetryDelaySec
	}
	if flags.LogLevel != nil {
		finalCfg.LogLevel = *flags.LogLevel
	}
	if flags.LogFormat != nil {
		finalCfg.LogFormat = *flags.LogFormat
	}
	if flags.ModelFormat != nil {
		finalCfg.ModelFormat = *flags.ModelFormat
	}
	if flags.Server != nil && flags.Server.Addr != nil {
		finalCfg.Server.Addr = *flags.Server.Addr
	}

	// --- Derive Default Paths if Empty ---
	if finalCfg.DatabasePath == "" {
		finalCfg.DatabasePath = filepath.Join(finalCfg.SavePath, DefaultDatabasePath)
		log.Debugf("[Config Init] DatabasePath defaulted based on final SavePath: %s", finalCfg.DatabasePath)
	}
	if finalCfg.IndexPath == "" {
		finalCfg.IndexPath = filepath.Join(finalCfg.SavePath, DefaultIndexPath)
	}

	// --- Validation ---
	if finalCfg.SavePath == "" {
		return models.Config{}, nil, fmt.Errorf("SavePath cannot be empty (set via --save-path flag or SavePath in config)")
	}
	finalCfg.ModelFormat = strings.ToLower(finalCfg.ModelFormat)
	if !slices.Contains(pipeline.ModelFormats, finalCfg.ModelFormat) {
		return models.Config{}, nil, fmt.Errorf("invalid ModelFormat %q (allowed: %s)", finalCfg.ModelFormat, strings.Join(pipeline.ModelFormats, ", "))
	}
	if finalCfg.MaxAttempts < 1 {
		return models.Config{}, nil, fmt.Errorf("MaxAttempts must be at least 1, got %d", finalCfg.MaxAttempts)
	}
	if finalCfg.RetryDelaySec < 0 {
		return models.Config{}, nil, fmt.Errorf("RetryDelaySec cannot be negative, got %d", finalCfg.RetryDelaySec)
	}
	if finalCfg.APIClientTimeoutSec <= 0 {
		finalCfg.APIClientTimeoutSec = DefaultAPIClientTimeoutSec
	}
	finalCfg.BaseURL = strings.TrimRight(finalCfg.BaseURL, "/")

	// --- Setup HTTP Transport ---
	baseTransport := http.DefaultTransport
	var finalTransport http.RoundTripper = baseTransport

	if finalCfg.LogApiRequests {
		logFilePath := "api.log"
		if _, statErr := os.Stat(finalCfg.SavePath); statErr == nil {
			logFilePath = filepath.Join(finalCfg.SavePath, logFilePath)
		} else {
			log.Warnf("SavePath '%s' not found, saving api.log to current directory.", finalCfg.SavePath)
		}
		log.Infof("API logging to file: %s", logFilePath)

		loggingTransport, err := api.NewLoggingTransport(baseTransport, logFilePath)
		if err != nil {
			log.WithError(err).Error("Failed to initialize API logging transport, logging disabled.")
		} else {
			finalTransport = loggingTransport
		}
	}

	log.Debug("Configuration initialized successfully.")
	return finalCfg, finalTransport, nil
}

// MaskAPIKey returns key with everything but its last four characters hidden.
func MaskAPIKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}
