package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SetupDefaultConfig - setup the default config options that can be overridden via the config file
func SetupDefaultConfig() {
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.console", false)

	viper.SetDefault("storage.root", "/var/attachd/files")
	viper.SetDefault("storage.url_base", "/files")
	viper.SetDefault("storage.public_dirs", []string{"public", "cms"})
	viper.SetDefault("storage.default_dir", "uploads/misc")

	viper.SetDefault("upload.max_file_size", 50*1024*1024)
	viper.SetDefault("upload.allowed_mime_prefixes", []string{"image/", "application/pdf"})

	viper.SetDefault("image.max_dimension", 1920)
	viper.SetDefault("image.thumbnail_size", 300)
	viper.SetDefault("image.jpeg_quality", 85)

	viper.SetDefault("deletion.recency_window", 5*time.Minute)
	viper.SetDefault("deletion.grace_period", 72*time.Hour)
	viper.SetDefault("deletion.temp_file_ttl", 24*time.Hour)

	viper.SetDefault("cleanup.frequency", 300)
	viper.SetDefault("cleanup.num_workers", 5)

	viper.SetDefault("rate_limiters.default_rps", 10)
	viper.SetDefault("rate_limiters.upload_rps", 2)

	viper.SetDefault("resolve_cache_size", 1024)
}

/*SetupConfig - setup the configuration system */
func SetupConfig(configPath string) {
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()
	viper.SetConfigName("attachd")

	if configPath == "" {
		viper.AddConfigPath("./config")
	} else {
		viper.AddConfigPath(configPath)
	}

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %s", err))
	}

	ReadConfig()
}

// ReadConfig loads the Configuration struct from viper state.
func ReadConfig() {
	Configuration.StorageRoot = viper.GetString("storage.root")
	Configuration.URLBase = viper.GetString("storage.url_base")
	Configuration.PublicDirs = viper.GetStringSlice("storage.public_dirs")
	Configuration.DefaultDir = viper.GetString("storage.default_dir")

	Configuration.MaxFileSize = viper.GetInt64("upload.max_file_size")
	Configuration.AllowedMimePrefixes = viper.GetStringSlice("upload.allowed_mime_prefixes")

	Configuration.MaxImageDimension = viper.GetInt("image.max_dimension")
	Configuration.ThumbnailSize = viper.GetInt("image.thumbnail_size")
	Configuration.JPEGQuality = viper.GetInt("image.jpeg_quality")

	Configuration.RecencyWindow = viper.GetDuration("deletion.recency_window")
	Configuration.GracePeriod = viper.GetDuration("deletion.grace_period")
	Configuration.TempFileTTL = viper.GetDuration("deletion.temp_file_ttl")

	Configuration.CleanupWorkerFreq = viper.GetInt64("cleanup.frequency")
	Configuration.CleanupNumWorkers = viper.GetInt("cleanup.num_workers")

	Configuration.DefaultRPS = viper.GetFloat64("rate_limiters.default_rps")
	Configuration.UploadRPS = viper.GetFloat64("rate_limiters.upload_rps")

	Configuration.ResolveCacheSize = viper.GetInt("resolve_cache_size")

	Configuration.DBHost = viper.GetString("db.host")
	Configuration.DBName = viper.GetString("db.name")
	Configuration.DBPort = viper.GetString("db.port")
	Configuration.DBUserName = viper.GetString("db.user")
	Configuration.DBPassword = viper.GetString("db.password")
}

const (
	DeploymentDevelopment = 0
	DeploymentProduction  = 2
)

type Config struct {
	DeploymentMode byte

	DBHost     string
	DBPort     string
	DBName     string
	DBUserName string
	DBPassword string

	// StorageRoot is the base directory that holds all stored bytes.
	StorageRoot string
	// URLBase is prepended to the relative path when deriving public URLs.
	URLBase string
	// PublicDirs list top-level directories whose files are public by convention.
	PublicDirs []string
	// DefaultDir is the fallback bucket when the caller supplies no usable directory.
	DefaultDir string

	MaxFileSize         int64
	AllowedMimePrefixes []string

	MaxImageDimension int
	ThumbnailSize     int
	JPEGQuality       int

	// RecencyWindow: deletions within this window of upload skip the soft stage.
	RecencyWindow time.Duration
	// GracePeriod a soft-deleted file stays recoverable for.
	GracePeriod time.Duration
	// TempFileTTL after which an unused temporary file counts as orphaned.
	TempFileTTL time.Duration

	CleanupWorkerFreq int64
	CleanupNumWorkers int

	DefaultRPS float64
	UploadRPS  float64

	ResolveCacheSize int
}

/*Configuration of the system */
var Configuration Config

/*Development - is the deployment mode development */
func Development() bool {
	return Configuration.DeploymentMode == DeploymentDevelopment
}
