// Package reportstore archives sweep reports as JSON objects.
package reportstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

var ErrReportTooLarge = errors.New("report too large")

const contentType = "application/json"

type Store struct {
	client *s3.Client

	// uploadPartSize should be greater than or equal 5MB.
	// See github.com/aws/aws-sdk-go-v2/feature/s3/manager.
	uploadPartSize int64
}

func NewStore(client *s3.Client) *Store {
	return &Store{
		client:         client,
		uploadPartSize: 5 * 1024 * 1024,
	}
}

// Key returns the object key of a report.
func Key(kind, runID string, at time.Time) string {
	return fmt.Sprintf("reports/%s/%s-%s.json", kind, at.UTC().Format("20060102T150405Z"), runID)
}

type StorePutParams struct {
	Kind   string    // required
	RunID  string    // required
	At     time.Time // required
	Report any       // required, encoded as JSON
}

// Put uploads the report and returns its key.
func (s *Store) Put(ctx context.Context, params *StorePutParams) (string, error) {
	body := &bytes.Buffer{}
	enc := json.NewEncoder(body)
	enc.SetIndent("", "  ")
	if err := enc.Encode(params.Report); err != nil {
		return "", fmt.Errorf("reportstore.Store: %w", err)
	}

	key := Key(params.Kind, params.RunID, params.At)
	uploader := manager.NewUploader(s.client, func(u *manager.Uploader) {
		u.PartSize = s.uploadPartSize
	})
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      &BucketName,
		Key:         &key,
		Body:        bytes.NewReader(body.Bytes()),
		ContentType: ptr(contentType),
	})
	if err != nil {
		if apiErr := smithy.APIError(nil); errors.As(err, &apiErr) && apiErr.ErrorCode() == "EntityTooLarge" {
			err = errors.Join(ErrReportTooLarge, err)
		}
		return "", fmt.Errorf("reportstore.Store: %w", err)
	}

	return key, nil
}

// Get downloads the report stored under key and decodes it into v.
func (s *Store) Get(ctx context.Context, key string, v any) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &BucketName,
		Key:    &key,
	})
	if err != nil {
		return fmt.Errorf("reportstore.Store: %w", err)
	}
	defer out.Body.Close()

	if err = json.NewDecoder(out.Body).Decode(v); err != nil {
		return fmt.Errorf("reportstore.Store: %w", err)
	}
	return nil
}

func ptr[T any](v T) *T {
	return &v
}
