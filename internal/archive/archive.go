// Package archive keeps the raw bytes of uploaded files so an ingest can be
// replayed or audited later.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/oklog/ulid/v2"
	"github.com/onaplatform/ona-api/internal/config"
	"github.com/rs/zerolog/log"
)

// Archive stores an uploaded file and returns the key it was stored under.
// An empty key means nothing was kept.
type Archive interface {
	Put(ctx context.Context, tenantID, filename, contentType string, data []byte) (string, error)
}

// Open builds the archive selected by cfg.Backend.
func Open(ctx context.Context, cfg config.ArchiveConfig) (Archive, error) {
	switch cfg.Backend {
	case "", "none":
		return Nop{}, nil
	case "local":
		return NewLocal(cfg.Dir)
	case "s3":
		return NewS3(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Backend)
	}
}

// Nop discards uploads.
type Nop struct{}

func (Nop) Put(context.Context, string, string, string, []byte) (string, error) { return "", nil }

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// objectKey is tenant/YYYY/MM/DD/<ulid>-<name>.
func objectKey(tenantID, filename string, now time.Time) string {
	name := unsafeChars.ReplaceAllString(filepath.Base(filename), "_")
	if name == "" || name == "." || name == "_" {
		name = "upload"
	}
	tenant := unsafeChars.ReplaceAllString(tenantID, "_")
	return path.Join(tenant, now.UTC().Format("2006/01/02"), ulid.Make().String()+"-"+name)
}

// Local writes uploads below a directory.
type Local struct {
	dir string
	now func() time.Time
}

// NewLocal creates dir if needed.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &Local{dir: dir, now: time.Now}, nil
}

func (l *Local) Put(ctx context.Context, tenantID, filename, _ string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := objectKey(tenantID, filename, l.now())
	full := filepath.Join(l.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o640); err != nil {
		return "", fmt.Errorf("write archive file: %w", err)
	}
	return key, nil
}

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 uploads to an S3-compatible bucket.
type S3 struct {
	client putObjectAPI
	bucket string
	prefix string
	now    func() time.Time
}

// NewS3 loads AWS configuration, preferring static keys when configured,
// and points the client at a custom endpoint (MinIO etc.) when one is set.
func NewS3(ctx context.Context, cfg config.ArchiveConfig) (*S3, error) {
	optFns := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.S3Region)}
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")
		optFns = append(optFns, awsconfig.WithCredentialsProvider(creds))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.S3Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		})
	}

	log.Info().Str("bucket", cfg.S3Bucket).Str("region", cfg.S3Region).Msg("Archiving uploads to S3")
	return newS3WithClient(s3.NewFromConfig(awsCfg, s3Opts...), cfg.S3Bucket, cfg.S3Prefix), nil
}

func newS3WithClient(client putObjectAPI, bucket, prefix string) *S3 {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3{client: client, bucket: bucket, prefix: prefix, now: time.Now}
}

func (a *S3) Put(ctx context.Context, tenantID, filename, contentType string, data []byte) (string, error) {
	key := a.prefix + objectKey(tenantID, filename, a.now())
	input := &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata:      map[string]string{"tenant-id": tenantID},
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := a.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", a.bucket, key, err)
	}
	return key, nil
}
