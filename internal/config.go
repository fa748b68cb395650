package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	SQLite  SQLiteConfig      `yaml:"sqlite"`
	Media   MediaConfig       `yaml:"media"`
	Geo     GeoConfig         `yaml:"geo"`
	Uploads UploadsConfig     `yaml:"uploads"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Media.Validate(); err != nil {
		return err
	}
	if err := c.Geo.Validate(); err != nil {
		return err
	}
	return c.Uploads.Validate()
}

// ApplicationConfig holds application-level configuration. PublicURL is the
// externally reachable origin used to build shareable link URLs.
type ApplicationConfig struct {
	LogLevel  slog.Level `yaml:"log_level"`
	HTTP      HTTPConfig `yaml:"http"`
	PublicURL string     `yaml:"public_url"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.PublicURL, validation.Required),
	); err != nil {
		return err
	}
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// SQLiteConfig holds the path to the link store database.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// MediaConfig holds the object-storage credentials and upload policy.
// CloudName, APIKey and UploadPreset must all be present; the server
// refuses to start without them since every capture upload would fail.
type MediaConfig struct {
	BaseURL        string `yaml:"base_url"`
	CloudName      string `yaml:"cloud_name"`
	APIKey         string `yaml:"api_key"`
	UploadPreset   string `yaml:"upload_preset"`
	Folder         string `yaml:"folder"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Validate validates the media configuration.
func (c *MediaConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required),
		validation.Field(&c.CloudName, validation.Required),
		validation.Field(&c.APIKey, validation.Required),
		validation.Field(&c.UploadPreset, validation.Required),
	)
}

// Timeout returns the upload timeout as a duration.
func (c *MediaConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GeoConfig holds the IP-enrichment provider endpoints. Either URL may be
// empty to disable that provider; enrichment failures are absorbed anyway.
type GeoConfig struct {
	PrimaryURL     string `yaml:"primary_url"`
	FallbackURL    string `yaml:"fallback_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Validate validates the geo configuration.
func (c *GeoConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.TimeoutSeconds, validation.Min(0), validation.Max(60)),
	)
}

// Timeout returns the lookup timeout as a duration.
func (c *GeoConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// UploadsConfig holds the spool directory for in-flight multipart bodies.
type UploadsConfig struct {
	Dir string `yaml:"dir"`
}

// Validate validates the uploads configuration.
func (c *UploadsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
// Credentials have no defaults on purpose.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
			PublicURL: "http://localhost:8080",
		},
		SQLite: SQLiteConfig{
			Path: "./linktrace.db",
		},
		Media: MediaConfig{
			BaseURL:        "https://api.cloudinary.com",
			Folder:         "captured_media",
			TimeoutSeconds: 60,
		},
		Geo: GeoConfig{
			PrimaryURL:     "https://ipapi.co",
			FallbackURL:    "https://ipinfo.io",
			TimeoutSeconds: 5,
		},
		Uploads: UploadsConfig{
			Dir: "./uploads",
		},
	}
}
