package writerbackends

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3 uploads objects to a bucket with static credentials. An endpoint
// option points it at any S3 compatible store.
type S3 struct {
	bucket   string
	prefix   string
	uploader *manager.Uploader
}

// options: bucket, region, accessKey, secretKey, prefix, endpoint.
func newS3(opts map[string]string) (*S3, error) {
	for _, k := range []string{"bucket", "region", "accessKey", "secretKey"} {
		if opts[k] == "" {
			return nil, fmt.Errorf("s3: %s is required", k)
		}
	}

	creds := credentials.NewStaticCredentialsProvider(opts["accessKey"], opts["secretKey"], "")
	client := s3.New(s3.Options{
		Region:      opts["region"],
		Credentials: creds,
	}, func(o *s3.Options) {
		if ep := opts["endpoint"]; ep != "" {
			o.BaseEndpoint = aws.String(ep)
			o.UsePathStyle = true
		}
	})

	return &S3{
		bucket:   opts["bucket"],
		prefix:   opts["prefix"],
		uploader: manager.NewUploader(client),
	}, nil
}

func (s *S3) Name() string {
	return "s3:" + s.bucket
}

func (s *S3) Put(ctx context.Context, name string, r io.Reader) error {
	key := path.Join(s.prefix, name)
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String("application/zip"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload object %s to bucket %s: %w", key, s.bucket, err)
	}
	return nil
}
