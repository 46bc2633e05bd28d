package storage

import (
	"context"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	aws_config "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"hearthside/comms/internal/apperr"
	"hearthside/comms/internal/config"
	"hearthside/comms/internal/models"
)

// allowedMediaTypes is the attachment MIME allow-list.
var allowedMediaTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"image/gif":       true,
	"application/pdf": true,
}

// IMediaService is the external media collaborator boundary: uploads go
// straight to the bucket via presigned PUT, reads are enriched with
// short-lived presigned GET URLs on every access (URLs are never cached
// past their TTL).
type IMediaService interface {
	GeneratePresignedPutURL(ctx context.Context, actor models.Party, threadID, filename, contentType string) (url string, key string, err error)
	// Attach validates refs against the MIME allow-list and verifies the
	// objects exist. Called while linking attachments to a message.
	Attach(ctx context.Context, refs []models.MediaRef) error
	// EnrichWithURL fills in fresh presigned GET URLs.
	EnrichWithURL(ctx context.Context, refs []models.MediaRef) ([]models.MediaRef, error)
	Delete(ctx context.Context, keys []string) error
}

type s3Media struct {
	cfg           *config.Config
	s3Client      *s3.Client
	presignClient *s3.PresignClient
}

// NewS3Media creates the S3-backed media service.
func NewS3Media(cfg *config.Config) (IMediaService, error) {
	awsCfg, err := aws_config.LoadDefaultConfig(context.TODO(),
		aws_config.WithRegion(cfg.AwsRegion),
		aws_config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AwsAccessKeyID,
			cfg.AwsSecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	return &s3Media{
		cfg:           cfg,
		s3Client:      client,
		presignClient: s3.NewPresignClient(client),
	}, nil
}

// ValidateMediaType checks one content type against the allow-list.
func ValidateMediaType(contentType string) error {
	if !allowedMediaTypes[contentType] {
		return apperr.Validation("media type %q is not allowed", contentType)
	}
	return nil
}

func (s *s3Media) GeneratePresignedPutURL(ctx context.Context, actor models.Party, threadID, filename, contentType string) (string, string, error) {
	if err := ValidateMediaType(contentType); err != nil {
		return "", "", err
	}
	key := fmt.Sprintf("threads/%s/%s/%s_%s", threadID, actor.ID.String(), uuid.NewString(), filename)

	req, err := s.presignClient.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.AwsS3Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(s.cfg.MediaURLTTL))
	if err != nil {
		return "", "", fmt.Errorf("failed to presign PUT for key %s: %w", key, err)
	}
	return req.URL, key, nil
}

func (s *s3Media) Attach(ctx context.Context, refs []models.MediaRef) error {
	for _, ref := range refs {
		if err := ValidateMediaType(ref.ContentType); err != nil {
			return err
		}
		_, err := s.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.cfg.AwsS3Bucket),
			Key:    aws.String(ref.Key),
		})
		if err != nil {
			return apperr.Wrap(apperr.KindValidation, err, "attachment %s was not uploaded", ref.Key)
		}
	}
	return nil
}

func (s *s3Media) EnrichWithURL(ctx context.Context, refs []models.MediaRef) ([]models.MediaRef, error) {
	enriched := make([]models.MediaRef, len(refs))
	for i, ref := range refs {
		req, err := s.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.cfg.AwsS3Bucket),
			Key:    aws.String(ref.Key),
		}, s3.WithPresignExpires(s.cfg.MediaURLTTL))
		if err != nil {
			return nil, fmt.Errorf("failed to presign GET for key %s: %w", ref.Key, err)
		}
		ref.URL = req.URL
		enriched[i] = ref
	}
	return enriched, nil
}

func (s *s3Media) Delete(ctx context.Context, keys []string) error {
	for _, key := range keys {
		_, err := s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.cfg.AwsS3Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			log.Printf("Failed to delete media object %s: %v", key, err)
			return fmt.Errorf("failed to delete media object %s: %w", key, err)
		}
	}
	return nil
}
