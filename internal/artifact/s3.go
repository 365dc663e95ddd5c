package artifact

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	logx "fetchrelay/pkg/logx"
)

// Object is a republished artifact in the blob store.
type Object struct {
	Key  string
	URL  string
	Name string
	Size int64
}

// S3Settings configures the blob store client.
type S3Settings struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	KeyPrefix       string
	PublicBaseURL   string
	UsePathStyle    bool
}

// Publisher republishes local artifacts to S3-compatible storage.
type Publisher struct {
	log      logx.Logger
	client   *s3.Client
	settings S3Settings
}

func NewPublisher(ctx context.Context, settings S3Settings, log logx.Logger) (*Publisher, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(settings.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(settings.AccessKeyID, settings.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("s3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if settings.Endpoint != "" {
			o.BaseEndpoint = aws.String(settings.Endpoint)
		}
		o.UsePathStyle = settings.UsePathStyle
	})
	return &Publisher{log: log, client: client, settings: settings}, nil
}

// Publish uploads the local file under a collision-free key and returns the
// resulting object with its public URL.
func (p *Publisher) Publish(ctx context.Context, local Local) (Object, error) {
	f, err := os.Open(local.Path)
	if err != nil {
		return Object{}, err
	}
	defer f.Close()

	key := path.Join(p.settings.KeyPrefix, uuid.NewString(), local.Name)
	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:             aws.String(p.settings.Bucket),
		Key:                aws.String(key),
		Body:               f,
		ContentLength:      aws.Int64(local.Size),
		ContentDisposition: aws.String(fmt.Sprintf("attachment; filename=%q", local.Name)),
	})
	if err != nil {
		return Object{}, fmt.Errorf("s3 put %s: %w", key, err)
	}

	obj := Object{Key: key, URL: p.publicURL(key), Name: local.Name, Size: local.Size}
	p.log.Info("artifact published",
		logx.String("key", key),
		logx.Int64("size", local.Size))
	return obj, nil
}

func (p *Publisher) publicURL(key string) string {
	escaped := (&url.URL{Path: key}).EscapedPath()
	escaped = strings.TrimPrefix(escaped, "/")
	if base := strings.TrimSuffix(p.settings.PublicBaseURL, "/"); base != "" {
		return base + "/" + escaped
	}
	if p.settings.Endpoint != "" {
		base := strings.TrimSuffix(p.settings.Endpoint, "/")
		if p.settings.UsePathStyle {
			return base + "/" + p.settings.Bucket + "/" + escaped
		}
		return base + "/" + escaped
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", p.settings.Bucket, p.settings.Region, escaped)
}
