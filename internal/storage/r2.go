package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/mathsnotes/server/internal/circuitbreaker"
	"github.com/mathsnotes/server/internal/config"
	"github.com/mathsnotes/server/internal/metrics"
	"github.com/oklog/ulid/v2"
)

const headConcurrency = 8

// NewClient builds an S3 client for the configured endpoint (R2 by default).
func NewClient(ctx context.Context, cfg config.StorageConfig) (*s3.Client, error) {
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config for storage: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// R2Store wraps the object operations the shop needs.
type R2Store struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	keyPrefix string
	breakers  *circuitbreaker.Manager
	metrics   *metrics.Metrics
}

// NewR2Store creates a store over client. breakers and m may be nil.
func NewR2Store(client *s3.Client, bucket, keyPrefix string, breakers *circuitbreaker.Manager, m *metrics.Metrics) *R2Store {
	return &R2Store{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    bucket,
		keyPrefix: keyPrefix,
		breakers:  breakers,
		metrics:   m,
	}
}

func (s *R2Store) call(operation string, fn func() error) error {
	done := metrics.MeasureCall(s.metrics.ObserveStorageCall, operation)
	err := circuitbreaker.Run(s.breakers, circuitbreaker.ServiceStorage, fn)
	done(err)
	return err
}

// PresignGet returns a time-limited download URL for key. Signing is local,
// so the object is not checked for existence.
func (s *R2Store) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	var url string
	err := s.call("presign", func() error {
		req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(ttl))
		if err != nil {
			return err
		}
		url = req.URL
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("presign get object %s: %w", key, err)
	}
	return url, nil
}

// Head fetches one object's size, type and metadata.
func (s *R2Store) Head(ctx context.Context, key string) (Object, error) {
	var out *s3.HeadObjectOutput
	err := s.call("head", func() error {
		var err error
		out, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if isNotFound(err) {
			// A missing object is an answer, not a backend failure.
			return nil
		}
		return err
	})
	if err != nil {
		return Object{}, fmt.Errorf("head object %s: %w", key, err)
	}
	if out == nil {
		return Object{}, ErrNotFound
	}
	return Object{
		Key:          key,
		Name:         baseName(key),
		Size:         aws.ToInt64(out.ContentLength),
		LastModified: aws.ToTime(out.LastModified),
		ContentType:  aws.ToString(out.ContentType),
		Metadata:     out.Metadata,
	}, nil
}

// List returns every supported document in the bucket with its metadata. A
// failed HEAD degrades to the listing's basic fields.
func (s *R2Store) List(ctx context.Context) ([]Object, error) {
	var listed []types.Object
	err := s.call("list", func() error {
		listed = listed[:0]
		p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(s.bucket),
		})
		for p.HasMorePages() {
			page, err := p.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, obj := range page.Contents {
				if IsSupported(aws.ToString(obj.Key)) {
					listed = append(listed, obj)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}

	objects := make([]Object, len(listed))
	sem := make(chan struct{}, headConcurrency)
	var wg sync.WaitGroup
	for i, item := range listed {
		key := aws.ToString(item.Key)
		objects[i] = Object{
			Key:          key,
			Name:         baseName(key),
			Size:         aws.ToInt64(item.Size),
			LastModified: aws.ToTime(item.LastModified),
		}
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			head, err := s.Head(ctx, key)
			if err != nil {
				return
			}
			objects[i].ContentType = head.ContentType
			objects[i].Metadata = head.Metadata
		}(i, key)
	}
	wg.Wait()

	sort.SliceStable(objects, func(a, b int) bool { return objects[a].Key < objects[b].Key })
	return objects, nil
}

// Upload describes a new document.
type Upload struct {
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
	Metadata    map[string]string
}

// Put stores an upload under `<prefix><ulid>-<safe name>` and returns the
// stored object.
func (s *R2Store) Put(ctx context.Context, up Upload) (Object, error) {
	if !IsSupported(up.FileName) {
		return Object{}, ErrUnsupportedType
	}
	contentType := up.ContentType
	if ct, ok := ContentTypeFor(up.FileName); ok && (contentType == "" || contentType == "application/octet-stream") {
		contentType = ct
	}

	key := s.keyPrefix + ulid.Make().String() + "-" + SafeName(up.FileName)
	md := SanitizeAll(up.Metadata)
	md[MetaFileType] = contentType

	err := s.call("put", func() error {
		input := &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			Body:        up.Body,
			ContentType: aws.String(contentType),
			Metadata:    md,
		}
		if up.Size > 0 {
			input.ContentLength = aws.Int64(up.Size)
		}
		_, err := s.client.PutObject(ctx, input)
		return err
	})
	if err != nil {
		return Object{}, fmt.Errorf("put object %s: %w", key, err)
	}

	return Object{
		Key:          key,
		Name:         up.FileName,
		Size:         up.Size,
		LastModified: time.Now().UTC(),
		ContentType:  contentType,
		Metadata:     md,
	}, nil
}

// Delete removes key. Deleting a missing key succeeds.
func (s *R2Store) Delete(ctx context.Context, key string) error {
	err := s.call("delete", func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == 404
}
