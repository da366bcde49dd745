package sqlgen

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestDetectScheme(t *testing.T) {
	tests := []struct {
		path     string
		expected urlScheme
	}{
		{"data/local.db", schemeLocal},
		{"/abs/path.db", schemeLocal},
		{"file:///tmp/x.db", schemeFile},
		{"s3://bucket/key.db", schemeS3},
		{"S3://bucket/key.db", schemeS3},
		{"http://host/x.db", schemeHTTP},
		{"https://host/x.db", schemeHTTPS},
	}

	for _, test := range tests {
		if got := detectScheme(test.path); got != test.expected {
			t.Errorf("detectScheme(%q) = %s, expected %s", test.path, got, test.expected)
		}
	}
}

func TestParseS3URL(t *testing.T) {
	bucket, key, err := parseS3URL("s3://bucket/deep/key.db")
	if err != nil {
		t.Fatalf("Failed to parse S3 URL: %v", err)
	}

	if bucket != "bucket" || key != "deep/key.db" {
		t.Errorf("Parsed %s/%s, expected bucket/deep/key.db", bucket, key)
	}

	if _, _, err := parseS3URL("s3://bucket-only"); err == nil {
		t.Error("Expected error for URL without key")
	}
}

func TestVerifyObjectLocal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "present.db")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	if err := VerifyObject(context.Background(), path, nil); err != nil {
		t.Errorf("Expected existing file to verify, got %v", err)
	}

	if err := VerifyObject(context.Background(), "file://"+path, nil); err != nil {
		t.Errorf("Expected file:// URL to verify, got %v", err)
	}

	missing := filepath.Join(t.TempDir(), "missing.db")
	if err := VerifyObject(context.Background(), missing, nil); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestVerifyObjectDispatch(t *testing.T) {
	origS3, origHTTP := headS3, headHTTP
	defer func() {
		headS3, headHTTP = origS3, origHTTP
	}()

	var s3URL, httpURL string

	headS3 = func(ctx context.Context, url string, opts *S3Options) error {
		s3URL = url
		return nil
	}
	headHTTP = func(ctx context.Context, url string) error {
		httpURL = url
		return nil
	}

	if err := VerifyObject(context.Background(), "s3://bucket/key.db", nil); err != nil {
		t.Fatalf("Failed to verify S3 target: %v", err)
	}

	if s3URL != "s3://bucket/key.db" {
		t.Errorf("S3 verifier got %q", s3URL)
	}

	if err := VerifyObject(context.Background(), "https://host/data.db", nil); err != nil {
		t.Fatalf("Failed to verify HTTP target: %v", err)
	}

	if httpURL != "https://host/data.db" {
		t.Errorf("HTTP verifier got %q", httpURL)
	}
}
