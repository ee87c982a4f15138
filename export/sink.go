package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/source"
)

type (
	// Sink stores exported parquet files by relative file name.
	Sink interface {
		Write(ctx context.Context, fileName string, data []byte) error
		Read(ctx context.Context, fileName string) ([]byte, error)
		// Open returns a seekable reader for parquet-go
		Open(ctx context.Context, fileName string) (source.ParquetFile, error)
	}

	// LocalSink writes files under Dir.
	LocalSink struct {
		Dir string
	}
)

func (ls LocalSink) path(fileName string) string {
	return filepath.Join(ls.Dir, filepath.FromSlash(fileName))
}

func (ls LocalSink) Write(_ context.Context, fileName string, data []byte) error {
	full := ls.path(fileName)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("error in os.MkdirAll: %w", err)
	}
	fw, err := local.NewLocalFileWriter(full)
	if err != nil {
		return fmt.Errorf("error in local.NewLocalFileWriter: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		fw.Close()
		return fmt.Errorf("error writing %s: %w", full, err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("error closing %s: %w", full, err)
	}
	return nil
}

func (ls LocalSink) Read(_ context.Context, fileName string) ([]byte, error) {
	b, err := os.ReadFile(ls.path(fileName))
	if err != nil {
		return nil, fmt.Errorf("error in os.ReadFile: %w", err)
	}
	return b, nil
}

func (ls LocalSink) Open(_ context.Context, fileName string) (source.ParquetFile, error) {
	fr, err := local.NewLocalFileReader(ls.path(fileName))
	if err != nil {
		return nil, fmt.Errorf("error in local.NewLocalFileReader: %w", err)
	}
	return fr, nil
}
