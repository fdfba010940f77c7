package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/OFFIS-RIT/tvkpi/internal/util"
	"github.com/OFFIS-RIT/tvkpi/pkg/store"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const defaultMaxTries = 3

// NewClientParams configures an S3 compatible endpoint.
type NewClientParams struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// NewClient builds a path-style S3 client. The SDK's own retries are
// disabled; Blobs retries on its own.
func NewClient(ctx context.Context, params NewClientParams) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(params.Region),
		config.WithRetryMaxAttempts(1),
	}
	if params.Endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(params.Endpoint))
	}
	if params.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			params.AccessKey,
			params.SecretKey,
			"",
		)))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	}), nil
}

// Blobs stores objects in one bucket below an optional key prefix.
type Blobs struct {
	client   *s3.Client
	bucket   string
	prefix   string
	maxTries int
}

// NewBlobs returns a BlobStore for bucket. prefix may be empty.
func NewBlobs(client *s3.Client, bucket, prefix string) *Blobs {
	return &Blobs{
		client:   client,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		maxTries: defaultMaxTries,
	}
}

// NewStore returns a ResultStore keeping JSON objects in bucket.
func NewStore(client *s3.Client, bucket, prefix string) *store.JSONStore {
	return store.NewJSONStore(NewBlobs(client, bucket, prefix))
}

func (b *Blobs) key(key string) string {
	if b.prefix == "" {
		return key
	}
	return path.Join(b.prefix, key)
}

func (b *Blobs) Put(ctx context.Context, key string, data []byte) error {
	objectKey := b.key(key)
	return util.RetryErrWithContext(ctx, b.maxTries, func(ctx context.Context) error {
		_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(b.bucket),
			Key:         aws.String(objectKey),
			Body:        bytes.NewReader(data),
			ContentType: aws.String("application/json"),
		})
		if err != nil {
			return fmt.Errorf("failed to upload %s to S3: %w", objectKey, err)
		}
		return nil
	})
}

func (b *Blobs) Get(ctx context.Context, key string) ([]byte, error) {
	objectKey := b.key(key)
	return util.RetryWithContext(ctx, b.maxTries, func(ctx context.Context) ([]byte, error) {
		result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(objectKey),
		})
		if err != nil {
			if isNotFound(err) {
				return nil, util.Permanent(fmt.Errorf("%s: %w", objectKey, store.ErrNotFound))
			}
			return nil, fmt.Errorf("failed to get %s from S3: %w", objectKey, err)
		}
		defer result.Body.Close()

		buf := new(bytes.Buffer)
		if _, err := io.Copy(buf, result.Body); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", objectKey, err)
		}
		return buf.Bytes(), nil
	})
}

// List returns all keys below the store prefix, relative to it.
func (b *Blobs) List(ctx context.Context) ([]string, error) {
	var keys []string
	listInput := &s3.ListObjectsV2Input{Bucket: aws.String(b.bucket)}
	if b.prefix != "" {
		listInput.Prefix = aws.String(b.prefix + "/")
	}

	for {
		listOutput, err := b.client.ListObjectsV2(ctx, listInput)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects in %s: %w", b.bucket, err)
		}
		for _, obj := range listOutput.Contents {
			if obj.Key == nil {
				continue
			}
			k := *obj.Key
			if b.prefix != "" {
				k = strings.TrimPrefix(k, b.prefix+"/")
			}
			keys = append(keys, k)
		}
		if listOutput.IsTruncated != nil && *listOutput.IsTruncated {
			listInput.ContinuationToken = listOutput.NextContinuationToken
		} else {
			break
		}
	}
	return keys, nil
}

func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var respErr *awshttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound
}
