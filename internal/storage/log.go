package storage

import (
	"context"

	"tickflow/internal/models"
	"tickflow/logger"
)

// LogStore is the stand-in price store used when S3 is disabled. Writes are
// logged and discarded so the rest of the pipeline keeps its normal shape in
// local runs.
type LogStore struct {
	log *logger.Log
}

func NewLogStore() *LogStore {
	return &LogStore{log: logger.GetLogger()}
}

func (s *LogStore) Write(_ context.Context, updates []models.PriceUpdate) error {
	s.log.WithComponent("log_store").WithFields(logger.Fields{
		"records": len(updates),
	}).Debug("discarding price updates, S3 storage disabled")
	return nil
}

func (s *LogStore) Ping(context.Context) error {
	return nil
}
