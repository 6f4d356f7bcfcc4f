package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

func testS3Store() *S3Store {
	awsCfg := aws.Config{
		Region:      "eu-south-1",
		Credentials: credentials.NewStaticCredentialsProvider("minio", "minio123", ""),
	}
	return NewS3Store(awsCfg, S3Config{Bucket: "pn-attachments", Endpoint: "http://localhost:9000"}, zap.NewNop())
}

func TestS3Store_PresignPut(t *testing.T) {
	s := testS3Store()

	up, err := s.PresignPut(context.Background(), "preload/paId-1/k1", "application/pdf", 15*time.Minute)
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if up.Method != "PUT" {
		t.Errorf("expected PUT, got %s", up.Method)
	}
	if !strings.HasPrefix(up.URL, "http://localhost:9000/pn-attachments/preload/paId-1/k1?") {
		t.Errorf("unexpected url %s", up.URL)
	}
	if !strings.Contains(up.URL, "X-Amz-Signature=") {
		t.Error("expected a signed url")
	}
}

func TestIsNotFound(t *testing.T) {
	if !isNotFound(fmt.Errorf("wrapped: %w", &types.NoSuchKey{})) {
		t.Error("NoSuchKey should be not found")
	}
	if !isNotFound(&types.NotFound{}) {
		t.Error("NotFound should be not found")
	}
	if isNotFound(errors.New("timeout")) {
		t.Error("generic error should not be not found")
	}
}
