package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "github.com/ignite/nurture-engine/internal/config"
	"github.com/ignite/nurture-engine/internal/domain"
)

// s3Putter is the slice of the S3 API the archiver needs.
type s3Putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes nightly run reports to an S3 bucket as JSON. A nil
// archiver is valid and drops reports silently, so callers never need to
// branch on whether archiving is configured.
type S3Archiver struct {
	client s3Putter
	bucket string
	prefix string
}

// NewS3Archiver creates an archiver from config. Returns nil (not an error)
// when archiving is disabled or no bucket is set.
func NewS3Archiver(ctx context.Context, cfg appconfig.ArchiveConfig) (*S3Archiver, error) {
	if !cfg.Enabled || cfg.S3Bucket == "" {
		return nil, nil
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &S3Archiver{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.S3Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// StoreReport writes one run report to
// s3://{bucket}/{prefix}/{date}/{run-id}.json.
func (a *S3Archiver) StoreReport(ctx context.Context, report *domain.RunReport) error {
	if a == nil {
		return nil
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}

	key := a.reportKey(report)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("putting report to S3: %w", err)
	}

	log.Printf("[Archive] Stored run %s at s3://%s/%s", report.ID, a.bucket, key)
	return nil
}

// reportKey builds the object key. The date segment comes from the run's
// start time so retries land on the same key.
func (a *S3Archiver) reportKey(report *domain.RunReport) string {
	prefix := a.prefix
	if prefix == "" {
		prefix = "nightly-reports"
	}
	return fmt.Sprintf("%s/%s/%s.json", prefix, report.StartedAt.UTC().Format("2006-01-02"), report.ID)
}
