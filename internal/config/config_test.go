package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.LogLevel)
	}
	if cfg.IUNRetry != 3 {
		t.Errorf("expected IUN retry 3, got %d", cfg.IUNRetry)
	}
	if cfg.NumberOfPresignedRequest != 15 {
		t.Errorf("expected 15 presigned requests, got %d", cfg.NumberOfPresignedRequest)
	}
	if cfg.VerifyAttachmentSHA256 {
		t.Error("digest verification should be off by default")
	}
	if cfg.S3Bucket != "" {
		t.Errorf("expected no bucket by default, got %q", cfg.S3Bucket)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ENV", "production")
	t.Setenv("IUN_RETRY", "0")
	t.Setenv("ATTACHMENT_VERIFY_SHA256", "true")
	t.Setenv("IDENTITY_CACHE_TTL", "1h")
	t.Setenv("S3_BUCKET", "pn-attachments")
	t.Setenv("SQS_STATUS_QUEUE_URL", "http://localhost:4566/000000000000/pn-status")
	t.Setenv("AWS_ENDPOINT_URL", "http://localhost:4566")
	t.Setenv("STATUS_POLL_INTERVAL", "2s")
	t.Setenv("REDIS_POOL_SIZE", "40")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Errorf("expected env 'production', got %s", cfg.Env)
	}
	if cfg.IUNRetry != 0 {
		t.Errorf("expected raw IUN retry 0, got %d", cfg.IUNRetry)
	}
	if !cfg.VerifyAttachmentSHA256 {
		t.Error("expected digest verification on")
	}
	if cfg.IdentityCacheTTL != time.Hour {
		t.Errorf("expected 1h cache ttl, got %s", cfg.IdentityCacheTTL)
	}
	if cfg.S3Bucket != "pn-attachments" {
		t.Errorf("unexpected bucket %q", cfg.S3Bucket)
	}
	if cfg.AWSEndpoint != "http://localhost:4566" || cfg.StatusPollInterval != 2*time.Second {
		t.Errorf("unexpected aws endpoint %q / poll interval %s", cfg.AWSEndpoint, cfg.StatusPollInterval)
	}
	if cfg.RedisPoolSize != 40 {
		t.Errorf("expected redis pool size 40, got %d", cfg.RedisPoolSize)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"PORT", "eighty"},
		{"IUN_RETRY", "many"},
		{"ATTACHMENT_VERIFY_SHA256", "maybe"},
		{"PRESIGN_TTL", "15"},
		{"STATUS_POLL_INTERVAL", "soon"},
		{"REDIS_POOL_SIZE", "big"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestDBConfig(t *testing.T) {
	t.Setenv("DB_HOST", "postgres")
	t.Setenv("DB_MAX_CONNS", "10")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	dbc := cfg.DBConfig()
	if dbc.Host != "postgres" || dbc.MaxConns != 10 || dbc.Database != "pn_delivery" {
		t.Errorf("unexpected db config %+v", dbc)
	}
}
