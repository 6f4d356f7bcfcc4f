package awscfg

import (
	"context"
	"testing"
)

func TestLoad_StaticCredentials(t *testing.T) {
	cfg, err := Load(context.Background(), Options{Region: "eu-south-1", AccessKey: "minio", SecretKey: "minio123"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Region != "eu-south-1" {
		t.Errorf("expected region eu-south-1, got %s", cfg.Region)
	}

	creds, err := cfg.Credentials.Retrieve(context.Background())
	if err != nil {
		t.Fatalf("retrieve credentials: %v", err)
	}
	if creds.AccessKeyID != "minio" {
		t.Errorf("expected static access key, got %s", creds.AccessKeyID)
	}
}
