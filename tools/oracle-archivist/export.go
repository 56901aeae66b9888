package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// parquetUpdate is the on-disk Parquet row shape for one mirrored update.
type parquetUpdate struct {
	OracleID    int64  `parquet:"name=oracle_id, type=INT64"`
	Slot        int32  `parquet:"name=slot, type=INT32"`
	Value       string `parquet:"name=value, type=BYTE_ARRAY, convertedtype=UTF8"`
	LastChanged int64  `parquet:"name=last_changed, type=INT64"`
	RecordedAt  string `parquet:"name=recorded_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// ExportParquet batches every update recorded at or after since into a
// Parquet file at path, for analytics export off the SQLite mirror.
func (s *Storage) ExportParquet(ctx context.Context, path string, since time.Time) (int, error) {
	updates, err := s.UpdatesSince(ctx, since)
	if err != nil {
		return 0, err
	}
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("oracle-archivist: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetUpdate), 1)
	if err != nil {
		file.Close()
		return 0, fmt.Errorf("oracle-archivist: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, u := range updates {
		row := &parquetUpdate{
			OracleID:    int64(u.OracleID),
			Slot:        int32(u.Slot),
			Value:       u.Value,
			LastChanged: u.LastChanged,
			RecordedAt:  u.RecordedAt.UTC().Format(time.RFC3339),
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return 0, fmt.Errorf("oracle-archivist: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return 0, fmt.Errorf("oracle-archivist: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return 0, fmt.Errorf("oracle-archivist: close parquet file: %w", err)
	}
	return len(updates), nil
}
