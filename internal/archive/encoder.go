package archive

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"vgclog/internal/pool"

	"github.com/klauspost/compress/gzip"
)

// compressFile gzips the file at path.
//
// The gzip writer and the output buffer come from the shared pools; the
// result is copied out so the pooled buffer can be reused while the
// caller still holds the bytes.
func compressFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}
	defer f.Close()

	buf := pool.BufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer pool.PutBuffer(buf)

	gz := pool.GzipPool.Get().(*gzip.Writer)
	defer pool.GzipPool.Put(gz)
	gz.Reset(buf)

	if _, err := io.Copy(gz, f); err != nil {
		_ = gz.Close()
		return nil, fmt.Errorf("archive: compress %s: %w", path, err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("archive: compress %s: %w", path, err)
	}

	data := make([]byte, buf.Len())
	copy(data, buf.Bytes())
	return data, nil
}
