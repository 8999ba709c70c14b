package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	appconfig "tickflow/config"
	"tickflow/internal/models"
	"tickflow/logger"
)

func TestNewS3StoreRequiresEnabledConfig(t *testing.T) {
	if _, err := NewS3Store(context.Background(), appconfig.S3Config{}); err == nil {
		t.Error("disabled s3 config accepted")
	}
}

func TestEncodeParquetProducesData(t *testing.T) {
	s := &S3Store{log: logger.GetLogger()}

	data, err := s.encodeParquet([]models.PriceUpdate{
		{Symbol: "BTC", Price: 50000.5, TimestampMs: 1748779200000},
		{Symbol: "ETH", Price: 3000.25, TimestampMs: 1748779200001},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(data) == 0 {
		t.Error("empty parquet payload")
	}
	// parquet files start and end with the PAR1 magic
	if !strings.HasPrefix(string(data), "PAR1") || !strings.HasSuffix(string(data), "PAR1") {
		t.Error("payload missing parquet magic bytes")
	}
}

func TestObjectKeyLayout(t *testing.T) {
	s := &S3Store{cfg: appconfig.S3Config{Prefix: "tickflow"}}

	now := time.Date(2025, 6, 1, 12, 30, 45, 0, time.UTC)
	key := s.objectKey(now)

	if !strings.HasPrefix(key, "tickflow/prices/date=2025-06-01/prices_20250601123045") {
		t.Errorf("key = %q", key)
	}
	if !strings.HasSuffix(key, ".parquet") {
		t.Errorf("key %q missing parquet suffix", key)
	}
	if strings.Contains(key, "\\") {
		t.Errorf("key %q contains backslashes", key)
	}
}
