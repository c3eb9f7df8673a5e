package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	cfg "github.com/maheshrc27/postpublisher/configs"
)

// MediaService turns stored image references into URLs platforms can fetch.
// References that already are http(s) URLs pass through untouched; anything
// else is an object key in the R2 bucket and gets a presigned GET URL.
type MediaService struct {
	presigner *s3.PresignClient
	bucket    string
	expiry    time.Duration
}

func NewMediaService(ctx context.Context, c cfg.Config) (*MediaService, error) {
	client, err := R2Client(ctx, c.R2)
	if err != nil {
		return nil, err
	}
	expiry := c.MediaURLExpiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &MediaService{
		presigner: s3.NewPresignClient(client),
		bucket:    c.R2.BucketName,
		expiry:    expiry,
	}, nil
}

func R2Client(ctx context.Context, r2 cfg.R2) (*s3.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(r2.AccessKey, r2.SecretKey, "")),
		config.WithRegion("auto"),
	)
	if err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("load r2 config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", r2.AccountID))
	}), nil
}

func (m *MediaService) Resolve(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "http://") {
		return ref, nil
	}

	req, err := m.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(strings.TrimPrefix(ref, "/")),
	}, s3.WithPresignExpires(m.expiry))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", ref, err)
	}
	return req.URL, nil
}
