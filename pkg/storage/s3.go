package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// MaxImageSize is the largest accepted document or avatar upload (5MB).
	MaxImageSize = 5 * 1024 * 1024
	// FolderKYCDocuments is the S3 prefix for identity document images.
	FolderKYCDocuments = "kyc/documents"
	// FolderKYCSelfies is the S3 prefix for selfie images.
	FolderKYCSelfies = "kyc/selfies"
	// FolderAvatars is the S3 prefix for user avatars.
	FolderAvatars = "avatars"
)

// Allowed image MIME types and extensions.
var (
	AllowedImageTypes = map[string]string{
		"image/jpeg": ".jpg",
		"image/jpg":  ".jpg",
		"image/png":  ".png",
		"image/webp": ".webp",
	}
	AllowedImageExtensions = map[string]string{
		".jpg":  "image/jpeg",
		".jpeg": "image/jpeg",
		".png":  "image/png",
		".webp": "image/webp",
	}
)

// S3Config holds S3 client configuration.
type S3Config struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	KYCBucket            string
	MediaBucket          string
	PresignExpireMinutes int
}

// Object is an upload handed to the blob store.
type Object struct {
	Folder      string
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
	Private     bool
}

// S3 is the blob store for KYC documents and avatars.
type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	cfg      S3Config
	logger   *zap.Logger
}

// NewS3 creates an S3 client using credentials from config or .env (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY).
func NewS3(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	accessKey := cfg.AccessKeyID
	secretKey := cfg.SecretAccessKey
	if accessKey == "" || secretKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey, secretKey, "",
		)))
		logger.Info("S3 client using static credentials", zap.String("region", cfg.Region), zap.String("kyc_bucket", cfg.KYCBucket))
	} else {
		logger.Warn("S3 client using default credential chain (AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY not set)")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024
	})
	return &S3{
		client:   client,
		uploader: uploader,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// ValidateImage checks type and size of an image upload.
func ValidateImage(contentType, filename string, size int64) error {
	if size > MaxImageSize {
		return fmt.Errorf("file exceeds %d MB", MaxImageSize/(1024*1024))
	}
	if _, ok := AllowedImageTypes[strings.ToLower(contentType)]; ok {
		return nil
	}
	if _, ok := AllowedImageExtensions[strings.ToLower(path.Ext(filename))]; ok {
		return nil
	}
	return fmt.Errorf("unsupported file type %q", contentType)
}

// ContentTypeForFilename returns the MIME type for an image filename extension.
func ContentTypeForFilename(filename string) string {
	if ct, ok := AllowedImageExtensions[strings.ToLower(path.Ext(filename))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// ObjectKey returns {folder}/{uuid}{ext} so user-supplied names never collide or traverse.
func ObjectKey(folder, filename, contentType string) string {
	ext := strings.ToLower(path.Ext(filename))
	if _, ok := AllowedImageExtensions[ext]; !ok {
		ext = AllowedImageTypes[strings.ToLower(contentType)]
	}
	return path.Join(folder, uuid.NewString()+ext)
}

// Put uploads obj and returns a reference. Private objects go to the KYC bucket and the
// reference is "s3://bucket/key"; public objects go to the media bucket and the reference is their URL.
func (s *S3) Put(ctx context.Context, obj Object) (string, error) {
	bucket := s.cfg.MediaBucket
	if obj.Private {
		bucket = s.cfg.KYCBucket
	}
	contentType := obj.ContentType
	if contentType == "" {
		contentType = ContentTypeForFilename(obj.Filename)
	}
	key := ObjectKey(obj.Folder, obj.Filename, contentType)
	if err := s.upload(ctx, bucket, key, contentType, obj.Body, obj.Size, obj.Private); err != nil {
		return "", err
	}
	s.logger.Info("object stored", zap.String("bucket", bucket), zap.String("key", key))
	if obj.Private {
		return "s3://" + bucket + "/" + key, nil
	}
	return s.PublicObjectURL(bucket, key), nil
}

// PresignedURL returns a time-limited GET URL for a private "s3://bucket/key" reference.
func (s *S3) PresignedURL(ctx context.Context, ref string) (string, error) {
	bucket, key, ok := ParseReference(ref)
	if !ok {
		return ref, nil
	}
	presignClient := s3.NewPresignClient(s.client)
	req, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.PresignExpire()
	})
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return req.URL, nil
}

// ParseReference splits an "s3://bucket/key" reference.
func ParseReference(ref string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(ref, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, found = strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

// PresignExpire returns the configured presign duration.
func (s *S3) PresignExpire() time.Duration {
	if s.cfg.PresignExpireMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(s.cfg.PresignExpireMinutes) * time.Minute
}

// PublicObjectURL returns the public URL for an object in a public bucket.
func (s *S3) PublicObjectURL(bucket, key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, s.cfg.Region, key)
}

// Delete removes the object behind a reference returned by Put.
func (s *S3) Delete(ctx context.Context, ref string) error {
	bucket, key, ok := ParseReference(ref)
	if !ok {
		prefix := fmt.Sprintf("https://%s.s3.%s.amazonaws.com/", s.cfg.MediaBucket, s.cfg.Region)
		k, found := strings.CutPrefix(ref, prefix)
		if !found {
			return fmt.Errorf("unrecognized object reference %q", ref)
		}
		bucket, key = s.cfg.MediaBucket, k
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func (s *S3) upload(ctx context.Context, bucket, key, contentType string, body io.Reader, contentLength int64, private bool) error {
	var contentLengthPtr *int64
	if contentLength > 0 {
		contentLengthPtr = &contentLength
	}
	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentType:   aws.String(contentType),
		ContentLength: contentLengthPtr,
	}
	if private {
		input.ServerSideEncryption = types.ServerSideEncryptionAes256
	} else {
		input.ACL = types.ObjectCannedACLPublicRead
	}
	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	return nil
}
