package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func environ(kv ...string) func() []string {
	return func() []string { return kv }
}

func writeEnvFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoad_FromDotenvWithOverrides(t *testing.T) {
	dir := t.TempDir()
	writeEnvFile(t, dir, ".env.staging", `API_PORT=4000
LOG_TYPE=aws
CLS_NAMESPACE=api-ns
JWT_SECRET_KEY=from-file
CORS_WHITELIST_ORIGINS=example.com, app.example.org ,
AWS_LOG_ENABLE=true
AWS_LOG_REGION=ap-south-1
AWS_LOG_GROUP_NAME=api
AWS_LOG_STREAM_NAME=api-staging
AWS_S3_BUCKET_NAME=uploads
AWS_SQS_URL=https://sqs.example/queue
SHUTDOWN_TIMEOUT=15s
`)

	cfg, err := Load(Options{
		Dir:     dir,
		Environ: environ("APP_ENV=staging", "JWT_SECRET_KEY=from-env", "FAULT_POLICY=CRASH"),
	})
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Env)
	assert.Equal(t, 4000, cfg.APIPort)
	assert.Equal(t, ":4000", cfg.Addr())
	assert.Equal(t, LogTypeAWS, cfg.LogType)
	assert.Equal(t, "api-ns", cfg.ContextNamespace)
	assert.Equal(t, "from-env", cfg.JWTSecretKey, "environment overrides dotenv")
	assert.Equal(t, []string{"example.com", "app.example.org"}, cfg.CORSOrigins)
	assert.True(t, cfg.AWSCloudWatch.Enable)
	assert.Equal(t, "ap-south-1", cfg.AWSCloudWatch.Region)
	assert.Equal(t, "api-staging", cfg.AWSCloudWatch.LogStreamName)
	assert.Equal(t, "uploads", cfg.AWSS3.BucketName)
	assert.Equal(t, "https://sqs.example/queue", cfg.AWSSQS.URL)
	assert.Equal(t, FaultPolicyCrash, cfg.FaultPolicy)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(Options{
		Dir:     t.TempDir(),
		Environ: environ("CLS_NAMESPACE=ns"),
	})
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, 3000, cfg.APIPort)
	assert.Equal(t, LogTypeConsole, cfg.LogType)
	assert.Equal(t, FaultPolicyContinue, cfg.FaultPolicy)
	assert.Equal(t, time.Duration(0), cfg.ShutdownTimeout)
	assert.Empty(t, cfg.CORSOrigins)
}

func TestLoad_MissingDotenvForAppEnvIsIgnored(t *testing.T) {
	cfg, err := Load(Options{
		Dir:     t.TempDir(),
		Environ: environ("APP_ENV=production", "CLS_NAMESPACE=ns"),
	})
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Env)
}

func TestLoad_ExplicitFileMustExist(t *testing.T) {
	_, err := Load(Options{
		File:    filepath.Join(t.TempDir(), "missing.env"),
		Environ: environ("CLS_NAMESPACE=ns"),
	})
	assert.Error(t, err)
}

func TestLoad_GCP(t *testing.T) {
	dir := t.TempDir()
	writeEnvFile(t, dir, "gcp.env", "LOG_TYPE=gcp\nGCP_LOG_ENABLE=true\nGCP_PROJECT_NAME=proj\nGCP_KEY_FILE=/secrets/key.json\nCLS_NAMESPACE=ns\n")

	cfg, err := Load(Options{File: filepath.Join(dir, "gcp.env"), Environ: environ()})
	require.NoError(t, err)
	assert.Equal(t, LogTypeGCP, cfg.LogType)
	assert.Equal(t, GCP{Enable: true, ProjectName: "proj", KeyFile: "/secrets/key.json"}, cfg.GCP)
}

func TestLoad_InvalidShutdownTimeout(t *testing.T) {
	_, err := Load(Options{Dir: t.TempDir(), Environ: environ("CLS_NAMESPACE=ns", "SHUTDOWN_TIMEOUT=soon")})
	assert.ErrorContains(t, err, "SHUTDOWN_TIMEOUT")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := Config{ContextNamespace: "ns"}
		c.SetDefaults()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing namespace", mutate: func(c *Config) { c.ContextNamespace = "" }, wantErr: "CLS_NAMESPACE"},
		{name: "port out of range", mutate: func(c *Config) { c.APIPort = 70000 }, wantErr: "API_PORT"},
		{name: "unknown log type", mutate: func(c *Config) { c.LogType = "syslog" }, wantErr: "LOG_TYPE"},
		{
			name: "aws enabled without group",
			mutate: func(c *Config) {
				c.LogType = LogTypeAWS
				c.AWSCloudWatch = AWSCloudWatch{Enable: true, Region: "us-east-1", LogStreamName: "s"}
			},
			wantErr: "AWS_LOG_GROUP_NAME",
		},
		{
			name: "aws disabled without settings",
			mutate: func(c *Config) {
				c.LogType = LogTypeAWS
			},
		},
		{
			name: "gcp enabled without project",
			mutate: func(c *Config) {
				c.LogType = LogTypeGCP
				c.GCP.Enable = true
			},
			wantErr: "GCP_PROJECT_NAME",
		},
		{name: "unknown fault policy", mutate: func(c *Config) { c.FaultPolicy = "ignore" }, wantErr: "FAULT_POLICY"},
		{name: "negative timeout", mutate: func(c *Config) { c.ShutdownTimeout = -time.Second }, wantErr: "SHUTDOWN_TIMEOUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"a", "b"}, splitList(" a ,, b "))
}
