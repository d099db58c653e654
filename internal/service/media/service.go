// Package media stores profile and applicant images as content-addressed
// objects and hands out references, keeping image bytes out of the
// document store.
package media

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"

	"kerjabareng/internal/config"
)

const maxImageSize = 5 << 20 // 5 MiB

type Service interface {
	UploadImage(ctx context.Context, reader io.Reader, contentType string) (string, error)
}

type service struct {
	client *minio.Client
	cfg    *config.Config
}

func NewService(client *minio.Client, cfg *config.Config) Service {
	return &service{client: client, cfg: cfg}
}

// UploadImage writes the image under images/<sha256> and returns its
// public reference. Re-uploading identical bytes lands on the same
// object, so references are stable and deduplicated.
func (s *service) UploadImage(ctx context.Context, reader io.Reader, contentType string) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("media storage is not configured")
	}

	data, err := io.ReadAll(io.LimitReader(reader, maxImageSize+1))
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	if len(data) > maxImageSize {
		return "", fmt.Errorf("image exceeds %d bytes", maxImageSize)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("image is empty")
	}

	sum := sha256.Sum256(data)
	objectName := "images/" + hex.EncodeToString(sum[:])

	_, err = s.client.PutObject(ctx, s.cfg.MinIOBucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}

	scheme := "http"
	if s.cfg.MinIOPublicUseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.cfg.MinIOPublicEndpoint, s.cfg.MinIOBucket, objectName), nil
}
