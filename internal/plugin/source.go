// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/samber/oops"
)

// Source reads plugin files. Paths are slash-separated and relative to the
// source root. A missing file yields an error matching fs.ErrNotExist.
type Source interface {
	ReadFile(ctx context.Context, name string) ([]byte, error)
}

// FSSource reads plugin files from a file system, usually os.DirFS.
type FSSource struct {
	fsys fs.FS
}

// NewFSSource creates a Source over fsys.
func NewFSSource(fsys fs.FS) *FSSource {
	return &FSSource{fsys: fsys}
}

// ReadFile implements Source.
func (s *FSSource) ReadFile(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err //nolint:wrapcheck // context errors pass through
	}
	data, err := fs.ReadFile(s.fsys, path.Clean(name))
	if err != nil {
		return nil, oops.In("source").With("path", name).Wrap(err)
	}
	return data, nil
}

// objectGetter is the part of the S3 client the source uses.
type objectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config configures an S3Source.
type S3Config struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string // optional, for S3-compatible servers such as MinIO
	PathStyle bool
}

// S3Source reads plugin files from an S3 bucket.
type S3Source struct {
	client objectGetter
	bucket string
	prefix string
}

// NewS3Source creates an S3 source using the default AWS credential chain.
func NewS3Source(ctx context.Context, cfg S3Config) (*S3Source, error) {
	if cfg.Bucket == "" {
		return nil, oops.In("source").New("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, oops.In("source").With("bucket", cfg.Bucket).Wrap(err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newS3Source(client, cfg.Bucket, cfg.Prefix), nil
}

func newS3Source(client objectGetter, bucket, prefix string) *S3Source {
	return &S3Source{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// ReadFile implements Source.
func (s *S3Source) ReadFile(ctx context.Context, name string) ([]byte, error) {
	key := path.Clean(name)
	if s.prefix != "" {
		key = s.prefix + "/" + key
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			err = errors.Join(fs.ErrNotExist, err)
		}
		return nil, oops.In("source").With("bucket", s.bucket).With("key", key).Wrap(err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, oops.In("source").With("bucket", s.bucket).With("key", key).Wrap(err)
	}
	return data, nil
}
