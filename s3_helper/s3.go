package s3_helper

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/danthegoodman1/kvsql/gologger"
	"github.com/rs/zerolog"
	s3_pq "github.com/xitongsys/parquet-go-source/s3"
	"github.com/xitongsys/parquet-go/source"
)

var (
	logger = gologger.NewLogger()
)

type (
	Config struct {
		Region   string
		Bucket   string
		Endpoint string
	}

	// Client reads and writes objects in one bucket, with credentials from
	// the AWS_* environment.
	Client struct {
		bucket string
		sess   *session.Session
		s3     *s3.S3
	}
)

func New(cfg Config) (*Client, error) {
	s3Config := &aws.Config{
		Region:      aws.String(cfg.Region),
		Credentials: credentials.NewEnvCredentials(),
	}
	if cfg.Endpoint != "" {
		s3Config.Endpoint = aws.String(cfg.Endpoint)
		s3Config.S3ForcePathStyle = aws.Bool(true)
	}

	s3Session, err := session.NewSession(s3Config)
	if err != nil {
		return nil, fmt.Errorf("error making new session: %w", err)
	}
	return &Client{
		bucket: cfg.Bucket,
		sess:   s3Session,
		s3:     s3.New(s3Session),
	}, nil
}

// Write uploads data under fileName.
func (c *Client) Write(ctx context.Context, fileName string, data []byte) error {
	_, err := c.WriteBytesToS3(ctx, fileName, data, aws.String("application/vnd.apache.parquet"))
	return err
}

func (c *Client) WriteBytesToS3(ctx context.Context, fileName string, data []byte, contentType *string) (*s3manager.UploadOutput, error) {
	ctx = logger.WithContext(ctx)
	logger := zerolog.Ctx(ctx)

	uploader := s3manager.NewUploader(c.sess)
	input := &s3manager.UploadInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(fileName),
		Body:        bytes.NewReader(data),
		ContentType: contentType,
	}

	s := time.Now()
	output, err := uploader.UploadWithContext(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("error uploading to s3: %w", err)
	}

	d := time.Since(s)
	logger.Debug().Str("fileName", fileName).Int64("durationNS", d.Nanoseconds()).Str("durationHuman", d.String()).Msg("uploaded file to s3")

	return output, nil
}

// Read downloads fileName.
func (c *Client) Read(ctx context.Context, fileName string) ([]byte, error) {
	return c.ReadBytesFromS3(ctx, fileName)
}

func (c *Client) ReadBytesFromS3(ctx context.Context, fileName string) ([]byte, error) {
	ctx = logger.WithContext(ctx)
	logger := zerolog.Ctx(ctx)

	downloader := s3manager.NewDownloader(c.sess)
	buf := &aws.WriteAtBuffer{}

	s := time.Now()
	_, err := downloader.DownloadWithContext(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(fileName),
	})
	if err != nil {
		return nil, fmt.Errorf("error downloading from s3: %w", err)
	}

	d := time.Since(s)
	logger.Debug().Str("fileName", fileName).Int64("durationNS", d.Nanoseconds()).Str("durationHuman", d.String()).Msg("downloaded file from s3")

	return buf.Bytes(), nil
}

// Open returns a seekable parquet reader over fileName.
func (c *Client) Open(ctx context.Context, fileName string) (source.ParquetFile, error) {
	r, err := s3_pq.NewS3FileReaderWithParams(ctx, s3_pq.S3FileReaderParams{
		Bucket:   c.bucket,
		Key:      fileName,
		S3Client: c.s3,
	})
	if err != nil {
		return nil, fmt.Errorf("error in NewS3FileReaderWithParams: %w", err)
	}
	return r, nil
}
