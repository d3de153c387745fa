package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultPort         = 5000
	DefaultEnv          = "production"
	DefaultMaxBodyBytes = 1 << 20
	DevelopmentEnv      = "development"
)

var (
	ErrInvalidPort     = errors.New("invalid port")
	ErrInvalidBodySize = errors.New("invalid max body size")
)

// Config is built once at start-up and is read-only afterwards.
type Config struct {
	APIKey       string
	Port         int
	Env          string
	Dev          bool
	LogPath      string
	MaxBodyBytes int64
	ServerURL    string
}

func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// flag name -> viper key
var flagKeys = map[string]string{
	"api-key":  "api_key",
	"port":     "port",
	"env":      "env",
	"dev":      "dev",
	"log-path": "log_path",
	"server":   "server_url",
}

// BindFlags registers the configuration flags shared by every command.
func BindFlags(flags *pflag.FlagSet) {
	flags.String("env-file", ".env", "Path to a .env file, ignored when missing")
	flags.String("api-key", "", "Shared secret expected in X-API-Key or api_key")
	flags.Int("port", DefaultPort, "Port to listen on")
	flags.String("env", "", "Environment name, \"development\" enables verbose logging")
	flags.Bool("dev", false, "Development mode")
	flags.String("log-path", "", "Directory to save the log file")
	flags.String("server", "", "Base URL of a running ml-server")
}

// Load reads the .env file, the environment and any flags set on flags.
// Flags win over the environment, the environment over defaults.
func Load(flags *pflag.FlagSet) (Config, error) {
	envFile := ".env"
	if flags != nil {
		if f := flags.Lookup("env-file"); f != nil {
			envFile = f.Value.String()
		}
	}
	if err := loadDotEnv(envFile); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetDefault("port", DefaultPort)
	v.SetDefault("env", DefaultEnv)
	v.SetDefault("max_body_bytes", DefaultMaxBodyBytes)

	_ = v.BindEnv("api_key", "API_KEY")
	_ = v.BindEnv("port", "PORT")
	_ = v.BindEnv("env", "APP_ENV", "FLASK_ENV")
	_ = v.BindEnv("log_path", "LOG_PATH")
	_ = v.BindEnv("max_body_bytes", "MAX_BODY_BYTES")
	_ = v.BindEnv("server_url", "ML_SERVER_URL")

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	port, err := strconv.Atoi(strings.TrimSpace(v.GetString("port")))
	if err != nil || port < 1 || port > 65535 {
		return Config{}, fmt.Errorf("%w: %q", ErrInvalidPort, v.GetString("port"))
	}

	maxBody, err := strconv.ParseInt(strings.TrimSpace(v.GetString("max_body_bytes")), 10, 64)
	if err != nil || maxBody <= 0 {
		return Config{}, fmt.Errorf("%w: %q", ErrInvalidBodySize, v.GetString("max_body_bytes"))
	}

	env := strings.ToLower(strings.TrimSpace(v.GetString("env")))
	if env == "" {
		env = DefaultEnv
	}

	serverURL := strings.TrimRight(v.GetString("server_url"), "/")
	if serverURL == "" {
		serverURL = "http://localhost:" + strconv.Itoa(port)
	}

	return Config{
		APIKey:       v.GetString("api_key"),
		Port:         port,
		Env:          env,
		Dev:          env == DevelopmentEnv || v.GetBool("dev"),
		LogPath:      v.GetString("log_path"),
		MaxBodyBytes: maxBody,
		ServerURL:    serverURL,
	}, nil
}

func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
