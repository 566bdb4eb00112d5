package storage

import (
	"context"
	"fmt"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	s3manager "github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "github.com/kustosproject/kustos/internal/config"
)

// S3Replicator mirrors committed backup files into an S3 bucket. It is a
// post-commit side channel: the local file under the canonical name is
// the source of truth and upload failures never fail the backup.
type S3Replicator struct {
	uploader *s3manager.Uploader
	bucket   string
	prefix   string
}

func NewS3Replicator(cfg appconfig.S3Config) (*S3Replicator, error) {
	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)

	return &S3Replicator{
		uploader: s3manager.NewUploader(client),
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
	}, nil
}

// Upload copies the committed file to <prefix>/<remoteKey>, preserving the
// kind/name/filename layout of the local backup root.
func (r *S3Replicator) Upload(ctx context.Context, localPath, remoteKey string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open backup file: %w", err)
	}
	defer file.Close()

	key := path.Join(r.prefix, remoteKey)

	_, err = r.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: &r.bucket,
		Key:    &key,
		Body:   file,
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	return nil
}
