package volume

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of the S3 client the volume uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3 maps a Volume onto an S3-compatible bucket. Directories are key
// prefixes; MkdirAll is a no-op because a prefix exists once an object
// is written under it.
type S3 struct {
	api    S3API
	bucket string
	prefix string
}

// NewS3 returns a volume storing objects under prefix in bucket.
func NewS3(api S3API, bucket, prefix string) *S3 {
	return &S3{api: api, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (v *S3) Kind() string { return "s3" }

func (v *S3) key(name string) string {
	name = strings.Trim(name, "/")
	if v.prefix == "" {
		return name
	}
	if name == "" {
		return v.prefix
	}
	return v.prefix + "/" + name
}

func (v *S3) ReadDir(ctx context.Context, dir string) ([]Entry, error) {
	listPrefix := v.key(dir)
	if listPrefix != "" {
		listPrefix += "/"
	}

	var out []Entry
	input := &s3.ListObjectsV2Input{
		Bucket:    &v.bucket,
		Prefix:    aws.String(listPrefix),
		Delimiter: aws.String("/"),
	}
	for {
		resp, err := v.api.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("listing s3://%s/%s: %w", v.bucket, listPrefix, err)
		}
		for _, cp := range resp.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), listPrefix), "/")
			if name != "" {
				out = append(out, Entry{Name: name, IsDir: true})
			}
		}
		for _, obj := range resp.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), listPrefix)
			if name != "" && !strings.Contains(name, "/") {
				out = append(out, Entry{Name: name})
			}
		}
		if !aws.ToBool(resp.IsTruncated) || resp.NextContinuationToken == nil {
			break
		}
		input.ContinuationToken = resp.NextContinuationToken
	}
	return out, nil
}

func (v *S3) MkdirAll(context.Context, string) error {
	return nil
}

func (v *S3) WriteFile(ctx context.Context, name string, data []byte) error {
	key := v.key(name)
	_, err := v.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &v.bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("uploading %s to S3: %w", key, err)
	}
	return nil
}

func (v *S3) ReadFile(ctx context.Context, name string) ([]byte, error) {
	key := v.key(name)
	resp, err := v.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &v.bucket,
		Key:    &key,
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, errors.Join(ErrNotExist, fmt.Errorf("downloading %s from S3: %w", key, err))
		}
		return nil, fmt.Errorf("downloading %s from S3: %w", key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading S3 response for %s: %w", key, err)
	}
	return data, nil
}

func (v *S3) Remove(ctx context.Context, name string) error {
	key := v.key(name)
	_, err := v.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &v.bucket,
		Key:    &key,
	})
	if err != nil {
		return fmt.Errorf("deleting %s from S3: %w", key, err)
	}
	return nil
}
