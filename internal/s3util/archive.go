// Package s3util stores session images in S3.
package s3util

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/fpang/garment-studio/internal/garment"
	"github.com/rs/zerolog/log"
)

// maxDeleteObjects is the S3 DeleteObjects limit per call.
const maxDeleteObjects = 1000

// S3API is the subset of the S3 client used by Archive.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// Archive keeps image bytes in a bucket. It satisfies store.ImageArchive.
type Archive struct {
	client S3API
	bucket string
}

// NewArchive creates an Archive on the given bucket.
func NewArchive(client S3API, bucket string) *Archive {
	return &Archive{client: client, bucket: bucket}
}

// Put uploads an image. Keys are content-addressed, so rewriting a key
// rewrites identical bytes.
func (a *Archive) Put(ctx context.Context, key string, img *garment.Image) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &a.bucket,
		Key:         &key,
		Body:        bytes.NewReader(img.Data),
		ContentType: aws.String(img.MIMEType),
		Tagging:     objectTagging(key),
	})
	if err != nil {
		return fmt.Errorf("S3 PutObject %s: %w", key, err)
	}
	log.Debug().Str("bucket", a.bucket).Str("key", key).Int("bytes", len(img.Data)).Msg("Image archived to S3")
	return nil
}

// Get downloads an image.
func (a *Archive) Get(ctx context.Context, key string) (*garment.Image, error) {
	result, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &a.bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, fmt.Errorf("S3 GetObject %s: %w", key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return &garment.Image{MIMEType: aws.ToString(result.ContentType), Data: data}, nil
}

// DeletePrefix removes every object under prefix.
func (a *Archive) DeletePrefix(ctx context.Context, prefix string) error {
	var ids []s3types.ObjectIdentifier
	paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: &a.bucket,
		Prefix: &prefix,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("S3 ListObjectsV2 %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			ids = append(ids, s3types.ObjectIdentifier{Key: obj.Key})
		}
	}

	for i := 0; i < len(ids); i += maxDeleteObjects {
		end := i + maxDeleteObjects
		if end > len(ids) {
			end = len(ids)
		}
		_, err := a.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: &a.bucket,
			Delete: &s3types.Delete{Objects: ids[i:end], Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("S3 DeleteObjects (%d keys): %w", end-i, err)
		}
	}

	log.Info().Str("bucket", a.bucket).Str("prefix", prefix).Int("objects", len(ids)).Msg("Archived images deleted")
	return nil
}
