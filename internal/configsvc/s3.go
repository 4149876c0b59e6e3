package configsvc

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cenkalti/backoff/v4"

	logx "iris/pkg/logx"
)

// s3API is the subset of *s3.Client used here. The SDK has no mock, so
// tests provide their own implementation.
type s3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// newS3Client is overwritten in tests.
var newS3Client = func(cfg aws.Config) s3API {
	return s3.NewFromConfig(cfg)
}

type S3Options struct {
	Bucket          string
	Prefix          string
	Region          string
	Profile         string
	CredentialsFile string

	// RetryMaxElapsed bounds the retries of one Fetch; 0 disables retries.
	RetryMaxElapsed time.Duration
}

// S3Source mirrors s3://<bucket>/<prefix> into the download dir.
type S3Source struct {
	client s3API
	opts   S3Options
	log    logx.Logger
}

func NewS3Source(ctx context.Context, opts S3Options, log logx.Logger) (*S3Source, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, fmt.Errorf("s3 source: bucket is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(opts.Profile))
	}
	if opts.CredentialsFile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedCredentialsFiles([]string{opts.CredentialsFile}))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3Source{client: newS3Client(cfg), opts: opts, log: log}, nil
}

func (s *S3Source) prefix() string {
	p := strings.Trim(s.opts.Prefix, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

func (s *S3Source) Fetch(ctx context.Context, dest string) ([]string, error) {
	var files []string
	op := func() error {
		var err error
		files, err = stage(dest, func(tmp string) ([]string, error) {
			return s.download(ctx, tmp)
		})
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	if s.opts.RetryMaxElapsed <= 0 {
		if err := op(); err != nil {
			return nil, err
		}
		return files, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = s.opts.RetryMaxElapsed
	notify := func(err error, wait time.Duration) {
		s.log.Warn("s3 download failed; retrying",
			logx.String("bucket", s.opts.Bucket), logx.Duration("backoff", wait), logx.Err(err))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}
	return files, nil
}

func (s *S3Source) download(ctx context.Context, dir string) ([]string, error) {
	prefix := s.prefix()
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.opts.Bucket),
		Prefix: aws.String(prefix),
	})

	var files []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", s.opts.Bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}
			rel := strings.TrimPrefix(key, prefix)
			target, err := localPath(dir, rel)
			if err != nil {
				return nil, err
			}
			if err := s.getObject(ctx, key, target); err != nil {
				return nil, err
			}
			files = append(files, rel)
		}
	}
	s.log.Info("downloaded config objects",
		logx.String("bucket", s.opts.Bucket), logx.Int("objects", len(files)))
	return files, nil
}

func (s *S3Source) getObject(ctx context.Context, key, target string) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("get s3://%s/%s: %w", s.opts.Bucket, key, err)
	}
	defer out.Body.Close()
	if err := writeStream(target, out.Body); err != nil {
		return fmt.Errorf("write %s: %w", target, err)
	}
	return nil
}

// Upload publishes every regular file below dir under the source prefix.
// Returns the object keys written, in walk order.
func (s *S3Source) Upload(ctx context.Context, dir string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		key := path.Join(strings.TrimSuffix(s.prefix(), "/"), filepath.ToSlash(rel))
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.opts.Bucket),
			Key:    aws.String(key),
			Body:   f,
		}); err != nil {
			return fmt.Errorf("put s3://%s/%s: %w", s.opts.Bucket, key, err)
		}
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("uploaded config objects", logx.String("bucket", s.opts.Bucket), logx.Int("objects", len(keys)))
	return keys, nil
}
