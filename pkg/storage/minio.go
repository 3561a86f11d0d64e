package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
	"github.com/zentra/nbot/config"
)

var (
	ErrImageTooLarge  = errors.New("image exceeds download limit")
	ErrFetchFailed    = errors.New("failed to fetch image")
	ErrNotImageSource = errors.New("source did not return an image")
)

// MaxSourceBytes bounds a single download from a catalog CDN.
const MaxSourceBytes = 8 << 20

var MinIOClient *minio.Client

func ConnectMinIO(cfg *config.Config) (*minio.Client, error) {
	client, err := minio.New(cfg.Storage.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Storage.AccessKey, cfg.Storage.SecretKey, ""),
		Secure: cfg.Storage.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bucket := cfg.Storage.BucketEmotes
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
		}
		log.Info().Str("bucket", bucket).Msg("Created MinIO bucket")
	}

	MinIOClient = client
	log.Info().Str("endpoint", cfg.Storage.Endpoint).Msg("Connected to MinIO")

	return client, nil
}

// ImageStore downloads emote source images and keeps a copy in object
// storage so that repeated uploads of the same emote skip the CDN.
type ImageStore struct {
	client     *minio.Client
	bucket     string
	httpClient *http.Client
}

// NewImageStore returns a store backed by client. A nil client disables
// the bucket layer and every Fetch goes to the network.
func NewImageStore(client *minio.Client, bucket string) *ImageStore {
	return &ImageStore{
		client:     client,
		bucket:     bucket,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// ObjectName is the bucket key for a source URL.
func ObjectName(sourceURL string) string {
	sum := sha256.Sum256([]byte(sourceURL))
	return "sources/" + hex.EncodeToString(sum[:])
}

// Fetch returns the bytes behind sourceURL.
func (s *ImageStore) Fetch(ctx context.Context, sourceURL string) ([]byte, error) {
	objectName := ObjectName(sourceURL)

	if s.client != nil {
		data, err := s.getObject(ctx, objectName)
		if err == nil {
			return data, nil
		}
		if minio.ToErrorResponse(err).Code != "NoSuchKey" {
			log.Warn().Err(err).Str("object", objectName).Msg("Image store read failed, downloading")
		}
	}

	data, contentType, err := s.download(ctx, sourceURL)
	if err != nil {
		return nil, err
	}

	if s.client != nil {
		_, err := s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType: contentType,
		})
		if err != nil {
			log.Warn().Err(err).Str("object", objectName).Msg("Failed to store source image")
		}
	}

	return data, nil
}

func (s *ImageStore) getObject(ctx context.Context, objectName string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	return io.ReadAll(obj)
}

func (s *ImageStore) download(ctx context.Context, sourceURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: status %d", ErrFetchFailed, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxSourceBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	if len(data) > MaxSourceBytes {
		return nil, "", ErrImageTooLarge
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	if !IsImageContentType(contentType) {
		return nil, "", fmt.Errorf("%w: %s", ErrNotImageSource, contentType)
	}

	return data, contentType, nil
}

// IsImageContentType checks if the content type is a supported image format
func IsImageContentType(contentType string) bool {
	switch contentType {
	case "image/jpeg", "image/png", "image/gif", "image/webp":
		return true
	default:
		return false
	}
}
