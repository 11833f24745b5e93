// Package config loads service configuration from an optional dotenv file
// and the process environment.
//
// The dotenv file is env/.env.<APP_ENV> relative to the working directory.
// Process environment variables override values from the file. Keys keep
// their environment-variable spelling.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Log backend selectors
const (
	LogTypeConsole = "console"
	LogTypeAWS     = "aws"
	LogTypeGCP     = "gcp"
	LogTypeFile    = "file"
)

// Fault policies for process-level failures
const (
	FaultPolicyContinue = "continue"
	FaultPolicyCrash    = "crash"
)

// Config is the complete service configuration.
type Config struct {
	Env            string
	ServiceName    string
	ServiceVersion string
	APIPort        int
	LogType        string
	LogLevel       string
	LogPretty      bool
	LogFile        string
	ConsoleDisable bool

	// ContextNamespace names the per-request execution context.
	ContextNamespace string
	JWTSecretKey     string
	CORSOrigins      []string

	FaultPolicy     string
	ShutdownTimeout time.Duration

	TracingEnable bool
	TraceRatio    float64

	AWSCloudWatch AWSCloudWatch
	GCP           GCP
	AWSS3         AWSS3
	AWSSQS        AWSSQS
}

// AWSCloudWatch configures log shipping to CloudWatch Logs
type AWSCloudWatch struct {
	Enable        bool
	Region        string
	AccessKeyID   string
	SecretKey     string
	LogGroupName  string
	LogStreamName string
}

// GCP configures Cloud Logging and Cloud Trace
type GCP struct {
	Enable        bool
	ProjectName   string
	KeyFile       string
	LogStreamName string
}

// AWSS3 is object storage configuration consumed by application routes.
type AWSS3 struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
}

// AWSSQS is queue configuration consumed by application routes.
type AWSSQS struct {
	AccessKeyID     string
	AccessKey       string
	Region          string
	URL             string
	ARN             string
	DeadLetterQueue string
}

// raw mirrors the environment variable names
type raw struct {
	AppEnv          string  `koanf:"APP_ENV"`
	ServiceName     string  `koanf:"SERVICE_NAME"`
	ServiceVersion  string  `koanf:"SERVICE_VERSION"`
	APIPort         int     `koanf:"API_PORT"`
	LogType         string  `koanf:"LOG_TYPE"`
	LogLevel        string  `koanf:"LOG_LEVEL"`
	LogPretty       bool    `koanf:"LOG_PRETTY"`
	LogFile         string  `koanf:"LOG_FILE"`
	ConsoleDisable  bool    `koanf:"LOG_CONSOLE_DISABLE"`
	CLSNamespace    string  `koanf:"CLS_NAMESPACE"`
	JWTSecretKey    string  `koanf:"JWT_SECRET_KEY"`
	CORSOrigins     string  `koanf:"CORS_WHITELIST_ORIGINS"`
	FaultPolicy     string  `koanf:"FAULT_POLICY"`
	ShutdownTimeout string  `koanf:"SHUTDOWN_TIMEOUT"`
	TracingEnable   bool    `koanf:"TRACING_ENABLE"`
	TraceRatio      float64 `koanf:"TRACE_RATIO"`

	AWSLogEnable      bool   `koanf:"AWS_LOG_ENABLE"`
	AWSLogGroupName   string `koanf:"AWS_LOG_GROUP_NAME"`
	AWSLogStreamName  string `koanf:"AWS_LOG_STREAM_NAME"`
	AWSLogAccessKeyID string `koanf:"AWS_LOG_ACCESS_KEY_ID"`
	AWSLogSecretKey   string `koanf:"AWS_LOG_SECRET_KEY"`
	AWSLogRegion      string `koanf:"AWS_LOG_REGION"`

	GCPLogEnable     bool   `koanf:"GCP_LOG_ENABLE"`
	GCPProjectName   string `koanf:"GCP_PROJECT_NAME"`
	GCPKeyFile       string `koanf:"GCP_KEY_FILE"`
	GCPLogStreamName string `koanf:"GCP_LOG_STREAM_NAME"`

	S3AccessKeyID     string `koanf:"AWS_S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `koanf:"AWS_S3_SECRET_ACCESS_KEY"`
	S3Region          string `koanf:"AWS_S3_REGION"`
	S3BucketName      string `koanf:"AWS_S3_BUCKET_NAME"`

	SQSAccessKeyID     string `koanf:"AWS_SQS_ACCESS_KEY_ID"`
	SQSAccessKey       string `koanf:"AWS_SQS_ACCESS_KEY"`
	SQSRegion          string `koanf:"AWS_SQS_REGION"`
	SQSURL             string `koanf:"AWS_SQS_URL"`
	SQSARN             string `koanf:"AWS_SQS_ARN"`
	SQSDeadLetterQueue string `koanf:"AWS_SQS_DEAD_LETTER_QUEUE"`
}

// Options controls where configuration is read from
type Options struct {
	// Dir holds the .env.<APP_ENV> files. Defaults to "env".
	Dir string
	// File overrides the dotenv path entirely.
	File string
	// Environ supplies the environment; nil means os.Environ.
	Environ func() []string
}

// Load reads configuration, applies defaults and validates it.
func Load(opts Options) (*Config, error) {
	if opts.Dir == "" {
		opts.Dir = "env"
	}
	environ := opts.Environ
	if environ == nil {
		environ = os.Environ
	}

	k := koanf.New(".")

	// Only APP_ENV is needed to locate the dotenv file.
	appEnv := lookup(environ(), "APP_ENV")
	path := opts.File
	if path == "" && appEnv != "" {
		path = filepath.Join(opts.Dir, ".env."+appEnv)
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), dotenv.Parser()); err != nil {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
		} else if opts.File != "" {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(envProvider(environ), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var r raw
	if err := k.UnmarshalWithConf("", &r, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg, err := r.build()
	if err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// envProvider loads the supplied environment without key rewriting
func envProvider(environ func() []string) koanf.Provider {
	return env.Provider(".", env.Opt{
		TransformFunc: func(k, v string) (string, any) {
			return k, v
		},
		EnvironFunc: environ,
	})
}

func lookup(environ []string, key string) string {
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok && k == key {
			return v
		}
	}
	return ""
}

func (r raw) build() (*Config, error) {
	var timeout time.Duration
	if r.ShutdownTimeout != "" {
		d, err := time.ParseDuration(r.ShutdownTimeout)
		if err != nil {
			return nil, fmt.Errorf("SHUTDOWN_TIMEOUT: %w", err)
		}
		timeout = d
	}

	return &Config{
		Env:              r.AppEnv,
		ServiceName:      r.ServiceName,
		ServiceVersion:   r.ServiceVersion,
		APIPort:          r.APIPort,
		LogType:          strings.ToLower(r.LogType),
		LogLevel:         r.LogLevel,
		LogPretty:        r.LogPretty,
		LogFile:          r.LogFile,
		ConsoleDisable:   r.ConsoleDisable,
		ContextNamespace: r.CLSNamespace,
		JWTSecretKey:     r.JWTSecretKey,
		CORSOrigins:      splitList(r.CORSOrigins),
		FaultPolicy:      strings.ToLower(r.FaultPolicy),
		ShutdownTimeout:  timeout,
		TracingEnable:    r.TracingEnable,
		TraceRatio:       r.TraceRatio,
		AWSCloudWatch: AWSCloudWatch{
			Enable:        r.AWSLogEnable,
			Region:        r.AWSLogRegion,
			AccessKeyID:   r.AWSLogAccessKeyID,
			SecretKey:     r.AWSLogSecretKey,
			LogGroupName:  r.AWSLogGroupName,
			LogStreamName: r.AWSLogStreamName,
		},
		GCP: GCP{
			Enable:        r.GCPLogEnable,
			ProjectName:   r.GCPProjectName,
			KeyFile:       r.GCPKeyFile,
			LogStreamName: r.GCPLogStreamName,
		},
		AWSS3: AWSS3{
			AccessKeyID:     r.S3AccessKeyID,
			SecretAccessKey: r.S3SecretAccessKey,
			Region:          r.S3Region,
			BucketName:      r.S3BucketName,
		},
		AWSSQS: AWSSQS{
			AccessKeyID:     r.SQSAccessKeyID,
			AccessKey:       r.SQSAccessKey,
			Region:          r.SQSRegion,
			URL:             r.SQSURL,
			ARN:             r.SQSARN,
			DeadLetterQueue: r.SQSDeadLetterQueue,
		},
	}, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SetDefaults fills unset values
func (c *Config) SetDefaults() {
	if c.Env == "" {
		c.Env = "development"
	}
	if c.ServiceName == "" {
		c.ServiceName = "api"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "1.0.0"
	}
	if c.APIPort == 0 {
		c.APIPort = 3000
	}
	if c.LogType == "" {
		c.LogType = LogTypeConsole
	}
	if c.FaultPolicy == "" {
		c.FaultPolicy = FaultPolicyContinue
	}
	if c.TraceRatio == 0 {
		c.TraceRatio = 0.1
	}
}

// Validate checks the configuration for startup-fatal problems
func (c *Config) Validate() error {
	if c.ContextNamespace == "" {
		return errors.New("CLS_NAMESPACE is required")
	}
	if c.APIPort < 1 || c.APIPort > 65535 {
		return fmt.Errorf("API_PORT %d out of range", c.APIPort)
	}
	switch c.LogType {
	case LogTypeConsole, LogTypeFile:
	case LogTypeAWS:
		cw := c.AWSCloudWatch
		if cw.Enable && (cw.Region == "" || cw.LogGroupName == "" || cw.LogStreamName == "") {
			return errors.New("AWS_LOG_REGION, AWS_LOG_GROUP_NAME and AWS_LOG_STREAM_NAME are required when AWS_LOG_ENABLE=true")
		}
	case LogTypeGCP:
		if c.GCP.Enable && c.GCP.ProjectName == "" {
			return errors.New("GCP_PROJECT_NAME is required when GCP_LOG_ENABLE=true")
		}
	default:
		return fmt.Errorf("unknown LOG_TYPE %q", c.LogType)
	}
	switch c.FaultPolicy {
	case FaultPolicyContinue, FaultPolicyCrash:
	default:
		return fmt.Errorf("unknown FAULT_POLICY %q", c.FaultPolicy)
	}
	if c.ShutdownTimeout < 0 {
		return errors.New("SHUTDOWN_TIMEOUT must not be negative")
	}
	return nil
}

// Addr returns the listen address for APIPort
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.APIPort)
}
