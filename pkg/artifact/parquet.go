// pkg/artifact/parquet.go
package artifact

import (
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"
)

// WriteParquet writes rows as an atomic parquet artifact. The row type's
// parquet struct tags define the column names
func WriteParquet[T any](s *Store, path string, rows []T) error {
	return s.WriteAtomic(path, func(w io.Writer) error {
		pw := parquet.NewGenericWriter[T](w)
		if len(rows) > 0 {
			if _, err := pw.Write(rows); err != nil {
				pw.Close()
				return fmt.Errorf("failed to write parquet rows: %w", err)
			}
		}
		if err := pw.Close(); err != nil {
			return fmt.Errorf("failed to finalize parquet file: %w", err)
		}
		return nil
	})
}

// ReadParquet reads every row of a parquet artifact
func ReadParquet[T any](s *Store, path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parquet artifact %s: %w", path, err)
	}
	return rows, nil
}
