// Attach target verification for local paths, S3 and HTTP URLs.
package sqlgen

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Options carries explicit credentials for verification requests. The
// zero value falls back to the ambient credential chain.
type S3Options struct {
	AccessKey string
	SecretKey string
	Region    string
	Endpoint  string // Optional: custom S3-compatible endpoint
}

// urlScheme represents the scheme of a URL
type urlScheme string

const (
	schemeFile  urlScheme = "file"
	schemeS3    urlScheme = "s3"
	schemeHTTP  urlScheme = "http"
	schemeHTTPS urlScheme = "https"
	schemeLocal urlScheme = "local" // no scheme, local path
)

// detectScheme detects the URL scheme from a path string
func detectScheme(path string) urlScheme {
	lowerPath := strings.ToLower(path)
	switch {
	case strings.HasPrefix(lowerPath, "s3://"):
		return schemeS3
	case strings.HasPrefix(lowerPath, "https://"):
		return schemeHTTPS
	case strings.HasPrefix(lowerPath, "http://"):
		return schemeHTTP
	case strings.HasPrefix(lowerPath, "file://"):
		return schemeFile
	default:
		return schemeLocal
	}
}

// VerifyObject checks that an attach target exists without opening it.
// Local paths are checked with a stat, S3 URLs with a head request and
// HTTP URLs with a HEAD. Failing here turns a cryptic worker-side attach
// error into one that names the missing target.
func VerifyObject(ctx context.Context, path string, opts *S3Options) error {
	switch detectScheme(path) {
	case schemeLocal:
		return statLocal(path)

	case schemeFile:
		return statLocal(strings.TrimPrefix(path, "file://"))

	case schemeS3:
		return headS3(ctx, path, opts)

	case schemeHTTP, schemeHTTPS:
		return headHTTP(ctx, path)

	default:
		return fmt.Errorf("unsupported URL scheme: %s", path)
	}
}

// parseS3URL parses s3://bucket/key into bucket and key parts
func parseS3URL(url string) (bucket, key string, err error) {
	path := strings.TrimPrefix(url, "s3://")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) < 2 {
		return "", "", fmt.Errorf("invalid S3 URL: %s", url)
	}
	return parts[0], parts[1], nil
}

// getS3Client creates an S3 client with the given configuration
func getS3Client(ctx context.Context, opts *S3Options) (*s3.Client, error) {
	var loadOpts []func(*config.LoadOptions) error

	// Set region if provided
	if opts != nil && opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}

	// Set explicit credentials if provided
	if opts != nil && opts.AccessKey != "" && opts.SecretKey != "" {
		creds := credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")
		loadOpts = append(loadOpts, config.WithCredentialsProvider(creds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := []func(*s3.Options){}
	if opts != nil && opts.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true // For S3-compatible services
		})
	}

	return s3.NewFromConfig(awsCfg, clientOpts...), nil
}

// ChainCredentials resolves the ambient AWS credential chain into secret
// options the worker understands. Used for secrets that name a
// credential chain instead of carrying keys inline.
func ChainCredentials(ctx context.Context) (map[string]string, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve credentials: %w", err)
	}

	options := map[string]string{
		"KEY_ID": creds.AccessKeyID,
		"SECRET": creds.SecretAccessKey,
	}

	if creds.SessionToken != "" {
		options["SESSION_TOKEN"] = creds.SessionToken
	}

	if awsCfg.Region != "" {
		options["REGION"] = awsCfg.Region
	}

	return options, nil
}

// statLocal wraps os.Stat - used to allow the function to be swapped in tests
var statLocal = func(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("attach target not found: %w", err)
	}
	return nil
}

// headS3 issues a HeadObject request - swapped in tests
var headS3 = func(ctx context.Context, url string, opts *S3Options) error {
	bucket, key, err := parseS3URL(url)
	if err != nil {
		return err
	}

	client, err := getS3Client(ctx, opts)
	if err != nil {
		return err
	}

	_, err = client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to head S3 object: %w", err)
	}

	return nil
}

// headHTTP issues an HTTP HEAD request - swapped in tests
var headHTTP = func(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP request returned status %d", resp.StatusCode)
	}

	return nil
}
