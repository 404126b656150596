package cmd

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"go-meshy-generate/internal/api"
	"go-meshy-generate/internal/config"
	"go-meshy-generate/internal/models"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Persistent flag values. They only reach the configuration when the user set them.
var (
	cfgFile        string
	logLevel       string
	logFormat      string
	logApiFlag     bool
	savePathFlag   string
	apiKeyFlag     string
	apiTimeoutFlag int
	maxAttempts    int
	retryDelaySec  int
	modelFormat    string
)

// globalConfig holds the loaded configuration
var globalConfig models.Config

// globalHttpTransport holds the globally configured HTTP transport (base or logging-wrapped)
var globalHttpTransport http.RoundTripper

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "meshy-generate",
	Short: "Generate 3D models from text prompts with Meshy",
	Long: `meshy-generate turns text prompts into textured 3D models using the
Meshy text-to-3D service. Each generation runs a preview job, refines it,
and saves the model, thumbnail and turntable video to disk.`,
	PersistentPreRunE: loadGlobalConfig,
	SilenceUsage:      true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	api.CloseAllLoggingTransports()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Configuration file path (default is ./config.toml)")
	pf.StringVar(&logLevel, "log-level", config.DefaultLogLevel, "Logging level (trace, debug, info, warn, error, fatal, panic)")
	pf.StringVar(&logFormat, "log-format", config.DefaultLogFormat, "Logging format (text, json)")
	pf.BoolVar(&logApiFlag, "log-api", false, "Log API requests/responses to api.log (overrides config)")
	pf.StringVar(&savePathFlag, "save-path", "", "Directory for the run ledger, search index and api.log (overrides config)")
	pf.StringVar(&apiKeyFlag, "api-key", "", "Meshy API key (overrides MESHY_API_KEY and config)")
	pf.IntVar(&apiTimeoutFlag, "api-timeout", 0, "Timeout for API calls in seconds (overrides config)")
	pf.IntVar(&maxAttempts, "max-attempts", 0, "Subscription attempts per job before giving up (overrides config)")
	pf.IntVar(&retryDelaySec, "retry-delay", 0, "Seconds between subscription attempts (overrides config)")
	pf.StringVar(&modelFormat, "format", "", "Model format to save: glb, fbx, obj or usdz (overrides config)")
}

// cliFlags collects the persistent flags the user actually set.
func cliFlags(cmd *cobra.Command) config.CliFlags {
	flags := config.CliFlags{}
	changed := cmd.Flags().Changed
	if cfgFile != "" {
		flags.ConfigFilePath = &cfgFile
	}
	if changed("log-level") {
		flags.LogLevel = &logLevel
	}
	if changed("log-format") {
		flags.LogFormat = &logFormat
	}
	if changed("log-api") {
		flags.LogApiRequests = &logApiFlag
	}
	if changed("save-path") {
		flags.SavePath = &savePathFlag
	}
	if changed("api-key") {
		flags.APIKey = &apiKeyFlag
	}
	if changed("api-timeout") {
		flags.APIClientTimeoutSec = &apiTimeoutFlag
	}
	if changed("max-attempts") {
		flags.MaxAttempts = &maxAttempts
	}
	if changed("retry-delay") {
		flags.RetryDelaySec = &retryDelaySec
	}
	if changed("format") {
		flags.ModelFormat = &modelFormat
	}
	if cmd.Flags().Lookup("addr") != nil && changed("addr") {
		flags.Server = &config.CliServerFlags{Addr: &serveAddr}
	}
	return flags
}

// loadGlobalConfig loads the configuration and sets up logging and the shared transport.
func loadGlobalConfig(cmd *cobra.Command, args []string) error {
	// Early level so config loading honours --log-level.
	setupLogging(logLevel, logFormat)

	cfg, transport, err := config.Initialize(cliFlags(cmd))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	globalConfig = cfg
	globalHttpTransport = transport

	setupLogging(cfg.LogLevel, cfg.LogFormat)
	return nil
}

func setupLogging(level, format string) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.Warnf("Invalid log level %q, using info", level)
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	log.SetOutput(os.Stderr)
}

// requireAPIKey fails commands that talk to the service without a key.
func requireAPIKey(cfg models.Config) error {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return fmt.Errorf("no API key configured: set MESHY_API_KEY, ApiKey in the config file, or --api-key")
	}
	return nil
}
