package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/openfroyo/ironfleet/pkg/engine"
)

// S3Config configures the S3 backend. Any S3-compatible endpoint works.
type S3Config struct {
	Endpoint     string `toml:"endpoint"`
	Region       string `toml:"region"`
	Bucket       string `toml:"bucket"`
	Prefix       string `toml:"prefix"`
	AccessKey    string `toml:"access_key"`
	SecretKey    string `toml:"secret_key"`
	UsePathStyle bool   `toml:"use_path_style"`
}

type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3 stores one JSON object per document at <prefix>/<kind>/<name>.json.
type S3 struct {
	api    s3API
	bucket string
	prefix string
}

// NewS3 creates an S3 directory from static credentials.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 directory: bucket is required")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		config.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return newS3(client, cfg.Bucket, cfg.Prefix), nil
}

func newS3(api s3API, bucket, prefix string) *S3 {
	return &S3{api: api, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (d *S3) key(kind Kind, name string) string {
	return path.Join(d.prefix, string(kind), name+".json")
}

func (d *S3) kindPrefix(kind Kind) string {
	return path.Join(d.prefix, string(kind)) + "/"
}

// Lookup implements Directory.
func (d *S3) Lookup(ctx context.Context, kind Kind, name string) (Document, error) {
	out, err := d.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(kind, name)),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, NotFound(kind, name)
		}
		return nil, classify(err, "get document", kind, name)
	}
	defer out.Body.Close()

	var doc Document
	if err := json.NewDecoder(out.Body).Decode(&doc); err != nil {
		return nil, engine.NewPermanentError("decode document", err).
			WithCode(engine.ErrCodeLookup).
			WithResource(string(kind) + "/" + name)
	}
	return doc, nil
}

// Save implements Directory.
func (d *S3) Save(ctx context.Context, kind Kind, name string, doc Document) error {
	if err := kind.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", kind, name, err)
	}
	_, err = d.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(d.bucket),
		Key:           aws.String(d.key(kind, name)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return classify(err, "put document", kind, name)
	}
	return nil
}

// Delete implements Directory. S3 deletes are idempotent, so a missing
// document is checked for first.
func (d *S3) Delete(ctx context.Context, kind Kind, name string) error {
	if _, err := d.Lookup(ctx, kind, name); err != nil {
		return err
	}
	_, err := d.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(kind, name)),
	})
	if err != nil {
		return classify(err, "delete document", kind, name)
	}
	return nil
}

// List implements Directory.
func (d *S3) List(ctx context.Context, kind Kind) ([]string, error) {
	prefix := d.kindPrefix(kind)
	paginator := s3.NewListObjectsV2Paginator(d.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(d.bucket),
		Prefix: aws.String(prefix),
	})

	var names []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify(err, "list documents", kind, "")
		}
		for _, obj := range page.Contents {
			if obj.Key == nil || !strings.HasSuffix(*obj.Key, ".json") {
				continue
			}
			name := strings.TrimSuffix(strings.TrimPrefix(*obj.Key, prefix), ".json")
			if name != "" && !strings.Contains(name, "/") {
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

func isNotFoundError(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound" || code == "404"
	}
	return false
}

// classify maps S3 failures onto the engine error classes so the sync
// orchestrator can decide whether to retry.
func classify(err error, message string, kind Kind, name string) error {
	resource := string(kind)
	if name != "" {
		resource += "/" + name
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "SlowDown", "Throttling", "ThrottlingException", "RequestLimitExceeded":
			return engine.NewThrottledError(message, err).
				WithCode(engine.ErrCodeRateLimited).
				WithResource(resource)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return engine.NewPermanentError(message, err).
				WithCode(engine.ErrCodePermissionDenied).
				WithResource(resource)
		case "NoSuchBucket":
			return engine.NewPermanentError(message, err).
				WithCode(engine.ErrCodeNotFound).
				WithResource(resource)
		}
	}
	return engine.NewTransientError(message, err).
		WithCode(engine.ErrCodeLookup).
		WithResource(resource)
}
