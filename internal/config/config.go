// ABOUTME: Layered configuration for circuit breaker and retry policy defaults
// ABOUTME: viper reads env/flag/file layers, mergo overlays them onto the built-in defaults

package config

import (
	"strings"

	"dario.cat/mergo"
	"github.com/spf13/viper"

	"github.com/forgeflow/core/internal/storage"
	"github.com/forgeflow/core/pkg/types"
)

// Config is the scheduler's resolved runtime configuration.
type Config struct {
	MaxConcurrency         int
	CircuitBreaker         types.CircuitBreakerOptions
	RetryPolicy            types.RetryPolicyOptions
	WebhookSignatureHeader string
	HistoryDataDir         string
	OutputBackend          string
	OutputS3               storage.S3Config
	OutputS3Prefix         string
}

// Defaults returns the built-in configuration every layered override
// is merged onto.
func Defaults() Config {
	return Config{
		MaxConcurrency:         4,
		CircuitBreaker:         types.DefaultCircuitBreakerOptions(),
		RetryPolicy:            types.DefaultRetryPolicyOptions(),
		WebhookSignatureHeader: "X-Forgeflow-Signature",
		HistoryDataDir:         "",
		OutputBackend:          "memory",
	}
}

// Load reads configuration from environment variables (prefixed
// FORGEFLOW_) and, if configPath is non-empty, from a file, then
// merges the result over Defaults(). File and environment values take
// precedence over the built-in defaults; environment values take
// precedence over the file.
func Load(configPath string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FORGEFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	overrides := Config{}

	if v.IsSet("max_concurrency") {
		overrides.MaxConcurrency = v.GetInt("max_concurrency")
	}
	if v.IsSet("webhook_signature_header") {
		overrides.WebhookSignatureHeader = v.GetString("webhook_signature_header")
	}
	if v.IsSet("history_data_dir") {
		overrides.HistoryDataDir = v.GetString("history_data_dir")
	}
	if v.IsSet("output_backend") {
		overrides.OutputBackend = v.GetString("output_backend")
	}
	if v.IsSet("output_s3.bucket") {
		overrides.OutputS3.Bucket = v.GetString("output_s3.bucket")
	}
	if v.IsSet("output_s3.region") {
		overrides.OutputS3.Region = v.GetString("output_s3.region")
	}
	if v.IsSet("output_s3.access_key_id") {
		overrides.OutputS3.AccessKeyID = v.GetString("output_s3.access_key_id")
	}
	if v.IsSet("output_s3.secret_access_key") {
		overrides.OutputS3.SecretAccessKey = v.GetString("output_s3.secret_access_key")
	}
	if v.IsSet("output_s3.session_token") {
		overrides.OutputS3.SessionToken = v.GetString("output_s3.session_token")
	}
	if v.IsSet("output_s3.prefix") {
		overrides.OutputS3Prefix = v.GetString("output_s3.prefix")
	}
	if v.IsSet("circuit_breaker.failure_threshold") {
		overrides.CircuitBreaker.FailureThreshold = v.GetInt("circuit_breaker.failure_threshold")
	}
	if v.IsSet("circuit_breaker.sampling_duration") {
		overrides.CircuitBreaker.SamplingDuration = v.GetDuration("circuit_breaker.sampling_duration")
	}
	if v.IsSet("circuit_breaker.half_open_requests") {
		overrides.CircuitBreaker.HalfOpenRequests = v.GetInt("circuit_breaker.half_open_requests")
	}
	if v.IsSet("circuit_breaker.open_duration") {
		overrides.CircuitBreaker.OpenDuration = v.GetDuration("circuit_breaker.open_duration")
	}
	if v.IsSet("retry_policy.max_retry_count") {
		overrides.RetryPolicy.MaxRetryCount = v.GetInt("retry_policy.max_retry_count")
	}
	if v.IsSet("retry_policy.initial_delay_milliseconds") {
		overrides.RetryPolicy.InitialDelayMilliseconds = v.GetInt64("retry_policy.initial_delay_milliseconds")
	}
	if v.IsSet("retry_policy.backoff_multiplier") {
		overrides.RetryPolicy.BackoffMultiplier = v.GetFloat64("retry_policy.backoff_multiplier")
	}
	if v.IsSet("retry_policy.max_delay_milliseconds") {
		overrides.RetryPolicy.MaxDelayMilliseconds = v.GetInt64("retry_policy.max_delay_milliseconds")
	}

	return Merge(Defaults(), overrides)
}

// Merge overlays non-zero fields of override onto base, returning the
// merged result. base is never mutated.
func Merge(base, override Config) (Config, error) {
	merged := base
	if err := mergo.Merge(&merged, override, mergo.WithOverride()); err != nil {
		return Config{}, err
	}
	return merged, nil
}
