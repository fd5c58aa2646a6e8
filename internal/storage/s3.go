package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/OFFIS-RIT/deepresearch/internal/util"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	reportPrefix      = "reports"
	reportContentType = "text/markdown; charset=utf-8"
	linkExpiry        = 15 * time.Minute
)

var ErrStorageDisabled = errors.New("report storage is not configured")

type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// NewS3Client builds a path style S3 client from AWS_REGION, AWS_ENDPOINT,
// AWS_ACCESS_KEY and AWS_SECRET_KEY.
func NewS3Client(ctx context.Context) (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion(util.GetEnvString("AWS_REGION", "us-east-1")),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			util.GetEnv("AWS_ACCESS_KEY"),
			util.GetEnv("AWS_SECRET_KEY"),
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := util.GetEnv("AWS_ENDPOINT")
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = true
	})
	return client, nil
}

// ReportStore keeps rendered reports as markdown objects.
type ReportStore struct {
	objects        objectAPI
	base           *s3.Client
	bucket         string
	publicEndpoint string
}

// NewReportStoreFromEnv returns nil when AWS_BUCKET is not set so that
// callers can treat object storage as optional.
func NewReportStoreFromEnv(ctx context.Context) (*ReportStore, error) {
	bucket := util.GetEnv("AWS_BUCKET")
	if bucket == "" {
		return nil, nil
	}
	client, err := NewS3Client(ctx)
	if err != nil {
		return nil, err
	}
	return NewReportStore(client, bucket, util.GetEnv("AWS_PUBLIC_ENDPOINT")), nil
}

func NewReportStore(client *s3.Client, bucket, publicEndpoint string) *ReportStore {
	return &ReportStore{
		objects:        client,
		base:           client,
		bucket:         bucket,
		publicEndpoint: publicEndpoint,
	}
}

// ReportKey is the object key of the report of runID.
func ReportKey(runID string) string {
	return fmt.Sprintf("%s/%s.md", reportPrefix, runID)
}

func (s *ReportStore) PutReport(ctx context.Context, runID string, report string) (string, error) {
	if s == nil {
		return "", ErrStorageDisabled
	}
	key := ReportKey(runID)
	_, err := s.objects.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(report),
		ContentType: aws.String(reportContentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload report to S3: %w", err)
	}
	return key, nil
}

func (s *ReportStore) GetReport(ctx context.Context, key string) (string, error) {
	if s == nil {
		return "", ErrStorageDisabled
	}
	result, err := s.objects.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get report from S3: %w", err)
	}
	defer result.Body.Close()

	body, err := io.ReadAll(result.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read report: %w", err)
	}
	return string(body), nil
}

func (s *ReportStore) DeleteReport(ctx context.Context, key string) error {
	if s == nil {
		return ErrStorageDisabled
	}
	_, err := s.objects.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete report from S3: %w", err)
	}
	return nil
}

// DownloadLink presigns a GET for key against AWS_PUBLIC_ENDPOINT. A path in
// the public endpoint is kept as prefix of the signed path, for deployments
// behind a reverse proxy.
func (s *ReportStore) DownloadLink(ctx context.Context, key string) (string, error) {
	if s == nil || s.base == nil {
		return "", ErrStorageDisabled
	}

	publicURL, err := url.Parse(s.publicEndpoint)
	if err != nil || publicURL.Scheme == "" || publicURL.Host == "" {
		return "", fmt.Errorf("invalid AWS_PUBLIC_ENDPOINT: %q", s.publicEndpoint)
	}
	prefix := strings.TrimSuffix(publicURL.Path, "/")
	publicBase := fmt.Sprintf("%s://%s", publicURL.Scheme, publicURL.Host)

	opts := s.base.Options()
	presignClient := s3.NewFromConfig(
		aws.Config{
			Region:      opts.Region,
			Credentials: opts.Credentials,
			HTTPClient:  opts.HTTPClient,
		},
		func(o *s3.Options) {
			o.BaseEndpoint = aws.String(publicBase)
			o.UsePathStyle = true
		},
	)

	out, err := s3.NewPresignClient(presignClient).PresignGetObject(
		ctx,
		&s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		},
		s3.WithPresignExpires(linkExpiry),
	)
	if err != nil {
		return "", fmt.Errorf("failed to generate download link: %w", err)
	}

	if prefix == "" {
		return out.URL, nil
	}
	signed, err := url.Parse(out.URL)
	if err != nil {
		return "", fmt.Errorf("failed to parse presigned url: %w", err)
	}
	signed.Path = prefix + signed.Path
	return signed.String(), nil
}
