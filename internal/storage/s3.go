package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/opensandbox/codespace/pkg/types"
)

// S3Config holds the configuration for the S3 storage backend.
type S3Config struct {
	Endpoint        string
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
	Prefix          string // key prefix for workspace files, e.g. "workspace/"
}

// S3Store keeps workspace files as objects, one per path.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Store creates a new S3 file store.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	opts := []func(*s3.Options){
		func(o *s3.Options) {
			o.Region = cfg.Region
			if cfg.AccessKeyID != "" {
				o.Credentials = credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID, cfg.SecretAccessKey, "",
				)
			}
			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
		},
	}

	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &S3Store{
		client: s3.New(s3.Options{}, opts...),
		bucket: cfg.Bucket,
		prefix: prefix,
	}, nil
}

func (s *S3Store) key(p string) (string, string, error) {
	rel, err := Clean(p)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s", err, p)
	}
	if rel == "." {
		return rel, s.prefix, nil
	}
	return rel, s.prefix + rel, nil
}

func (s *S3Store) Read(ctx context.Context, p string) ([]byte, error) {
	rel, key, err := s.key(p)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, rel)
		}
		return nil, fmt.Errorf("failed to download %s from S3: %w", rel, err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// List returns the direct children of dir, treating "/" in keys as the
// directory separator.
func (s *S3Store) List(ctx context.Context, dir string) ([]types.EntryInfo, error) {
	rel, key, err := s.key(dir)
	if err != nil {
		return nil, err
	}
	prefix := key
	if rel != "." {
		prefix += "/"
	}

	var entries []types.EntryInfo
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s in S3: %w", rel, err)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			entries = append(entries, types.EntryInfo{Name: name, IsDir: true, Path: path.Join(rel, name)})
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" {
				continue
			}
			entries = append(entries, types.EntryInfo{
				Name: name,
				Size: aws.ToInt64(obj.Size),
				Path: path.Join(rel, name),
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (s *S3Store) Write(ctx context.Context, p string, data []byte) error {
	rel, key, err := s.key(p)
	if err != nil {
		return err
	}
	if rel == "." {
		return fmt.Errorf("%w: cannot write workspace root", ErrInvalidPath)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to S3: %w", rel, err)
	}
	return nil
}

func (s *S3Store) Delete(ctx context.Context, p string) error {
	rel, key, err := s.key(p)
	if err != nil {
		return err
	}
	if rel == "." {
		return fmt.Errorf("%w: cannot delete workspace root", ErrInvalidPath)
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s from S3: %w", rel, err)
	}
	return nil
}
