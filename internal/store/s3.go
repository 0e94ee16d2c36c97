package store

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"wsk-go/internal/ops"
)

// S3Store keeps artifacts in an S3 bucket under <prefix>/<kind>/<name>.
// It exists for operators who want ruleset snapshots and escrow copies held
// off the workstation entirely.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

var _ ops.Store = (*S3Store)(nil)

// NewS3Store creates a store backed by the given bucket, using the default
// AWS credential chain.
func NewS3Store(ctx context.Context, bucket, prefix, region string) (*S3Store, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	if region != "" {
		optFns = append(optFns, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   strings.TrimSuffix(prefix, "/"),
	}, nil
}

func (s *S3Store) key(kind, name string) string {
	if s.prefix == "" {
		return kind + "/" + name
	}
	return s.prefix + "/" + kind + "/" + name
}

func (s *S3Store) Put(kind, name string, r io.Reader, size int64) error {
	_, err := s.uploader.Upload(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(kind, name)),
		Body:   r,
	})
	if err != nil {
		return fmt.Errorf("uploading %s/%s: %w", kind, name, err)
	}
	return nil
}

func (s *S3Store) Get(kind, name string, w io.Writer) error {
	out, err := s.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(kind, name)),
	})
	if err != nil {
		return fmt.Errorf("fetching %s/%s: %w", kind, name, err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("reading %s/%s: %w", kind, name, err)
	}
	return nil
}

func (s *S3Store) List(kind string) ([]string, error) {
	prefix := s.key(kind, "")

	var names []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(context.Background())
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", kind, err)
		}
		for _, obj := range page.Contents {
			names = append(names, strings.TrimPrefix(aws.ToString(obj.Key), prefix))
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *S3Store) Latest(kind string) (string, error) {
	names, err := s.List(kind)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", nil
	}
	return names[len(names)-1], nil
}
