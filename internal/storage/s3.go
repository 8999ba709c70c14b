package storage

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "tickflow/config"
	"tickflow/internal/models"
	"tickflow/logger"
)

type priceParquetRecord struct {
	Symbol    string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price     float64 `parquet:"name=price, type=DOUBLE"`
	Timestamp int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

type memFile struct {
	buffer *bytes.Buffer
}

func newMemFile() *memFile {
	return &memFile{buffer: &bytes.Buffer{}}
}

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, fmt.Errorf("read not supported") }
func (m *memFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFile) Close() error                              { return nil }
func (m *memFile) Bytes() []byte                             { return m.buffer.Bytes() }

// S3Store persists price update batches to S3 as parquet files, one object
// per flush, partitioned by date.
type S3Store struct {
	cfg    appconfig.S3Config
	client *s3.Client
	log    *logger.Log
}

func NewS3Store(ctx context.Context, cfg appconfig.S3Config) (*S3Store, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("s3 storage disabled")
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return &S3Store{
		cfg:    cfg,
		client: client,
		log:    logger.GetLogger(),
	}, nil
}

// Write encodes the batch as parquet and uploads one object.
func (s *S3Store) Write(ctx context.Context, updates []models.PriceUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	data, err := s.encodeParquet(updates)
	if err != nil {
		return err
	}

	key := s.objectKey(time.Now().UTC())
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type": "parquet",
			"records":      fmt.Sprintf("%d", len(updates)),
		},
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("upload price batch: %w", err)
	}

	s.log.WithComponent("s3_store").WithFields(logger.Fields{
		"key":     key,
		"records": len(updates),
		"bytes":   len(data),
	}).Debug("price batch uploaded")
	return nil
}

// Ping verifies the bucket is reachable.
func (s *S3Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.cfg.Bucket)}); err != nil {
		return fmt.Errorf("head bucket %s: %w", s.cfg.Bucket, err)
	}
	return nil
}

func (s *S3Store) encodeParquet(updates []models.PriceUpdate) ([]byte, error) {
	mem := newMemFile()
	pw, err := writer.NewParquetWriter(mem, new(priceParquetRecord), 1)
	if err != nil {
		return nil, fmt.Errorf("new parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, update := range updates {
		record := priceParquetRecord{
			Symbol:    update.Symbol,
			Price:     update.Price,
			Timestamp: update.TimestampMs,
		}
		if err := pw.Write(record); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("write price record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finalize price parquet: %w", err)
	}
	return mem.Bytes(), nil
}

func (s *S3Store) objectKey(now time.Time) string {
	filename := fmt.Sprintf("prices_%s%s.parquet",
		now.Format("20060102150405"), uuid.NewString())
	key := filepath.Join(
		s.cfg.Prefix,
		"prices",
		fmt.Sprintf("date=%s", now.Format("2006-01-02")),
		filename,
	)
	return filepath.ToSlash(key)
}
