package archive

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"vgclog/internal/clock"
	"vgclog/internal/config"
	"vgclog/internal/metrics"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
)

const metaSuffix = ".meta.json"

// Spool keeps archives whose upload failed on local disk until a later
// drain can upload them.
//
// Each spooled archive is a data file named like its object, plus a
// <name>.meta.json sidecar recording where it came from. Age is judged by
// the unix prefix of the name, not by mtime.
type Spool struct {
	dir         string
	prefix      string // key prefix for archives that validate
	spoolPrefix string // key prefix for archives that do not
	maxAge      time.Duration
	maxSize     int64

	log     zerolog.Logger
	metrics *metrics.Metrics

	size atomic.Int64 // bytes of data files currently in dir
	now  func() int64
}

type spoolMeta struct {
	Source  string `json:"source"`
	Bytes   int64  `json:"bytes"`
	Spooled int64  `json:"spooled"`
}

// NewSpool creates the spool directory if needed and restores the size and
// file gauges from what is already there. Sidecars without a data file are
// removed.
func NewSpool(cfg config.Archive, log zerolog.Logger, m *metrics.Metrics) (*Spool, error) {
	if err := os.MkdirAll(cfg.SpoolDir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: spool dir: %w", err)
	}

	s := &Spool{
		dir:         cfg.SpoolDir,
		prefix:      cfg.Prefix,
		spoolPrefix: cfg.SpoolPrefix,
		maxAge:      cfg.SpoolMaxAge,
		maxSize:     cfg.SpoolMaxSizeBytes,
		log:         log,
		metrics:     m,
		now:         clock.Unix,
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("archive: read spool dir: %w", err)
	}

	var total, count int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, metaSuffix) {
			data := strings.TrimSuffix(name, metaSuffix)
			if _, err := os.Stat(filepath.Join(s.dir, data)); errors.Is(err, os.ErrNotExist) {
				_ = os.Remove(filepath.Join(s.dir, name))
			}
			continue
		}
		if info, err := e.Info(); err == nil {
			total += info.Size()
			count++
		}
	}

	s.size.Store(total)
	atomic.AddInt64(&m.SpoolSizeBytes, total)
	atomic.AddInt64(&m.SpoolFilesCurrent, count)

	if count > 0 {
		log.Info().Int64("files", count).Int64("bytes", total).Msg("spool restored")
	}
	return s, nil
}

// Save writes one archive to the spool. A full spool evicts its oldest
// files first; if data alone exceeds the limit it is dropped and counted.
func (s *Spool) Save(name string, data []byte, source string) error {
	if len(data) == 0 {
		return nil
	}

	size := int64(len(data))
	if !s.ensureCapacity(size) {
		s.log.Error().Str("name", name).Int64("bytes", size).Msg("spool full, archive dropped")
		atomic.AddInt64(&s.metrics.SpoolDropped, 1)
		return nil
	}

	dataPath := filepath.Join(s.dir, name)
	if err := os.WriteFile(dataPath, data, 0o600); err != nil {
		return fmt.Errorf("archive: spool write %s: %w", name, err)
	}

	meta, _ := json.Marshal(spoolMeta{Source: source, Bytes: size, Spooled: s.now()})
	_ = os.WriteFile(dataPath+metaSuffix, meta, 0o600)

	s.size.Add(size)
	atomic.AddInt64(&s.metrics.SpoolSizeBytes, size)
	atomic.AddInt64(&s.metrics.SpoolFilesCurrent, 1)
	atomic.AddInt64(&s.metrics.SpoolEnqueued, 1)
	return nil
}

// ensureCapacity removes the oldest data files until incoming fits.
// It reports false once there is nothing left to remove.
func (s *Spool) ensureCapacity(incoming int64) bool {
	if s.maxSize <= 0 {
		return true
	}
	for s.size.Load()+incoming > s.maxSize {
		oldest := s.oldest()
		if oldest == "" {
			return false
		}
		s.remove(oldest, true)
		s.log.Warn().Str("name", oldest).Msg("spool capacity, removed oldest")
	}
	return true
}

// ProcessOne handles the oldest spooled archive: it is deleted when past
// the age limit, otherwise uploaded through put and deleted on success.
// Archives that no longer decompress to verbose GC output go under the
// spool prefix instead of the normal one. It reports whether there was a
// file to handle.
func (s *Spool) ProcessOne(ctx context.Context, r *retrier) bool {
	if ctx.Err() != nil {
		return false
	}

	name := s.oldest()
	if name == "" {
		return false
	}
	dataPath := filepath.Join(s.dir, name)

	info, err := os.Stat(dataPath)
	if err != nil {
		_ = os.Remove(dataPath + metaSuffix)
		atomic.AddInt64(&s.metrics.SpoolFilesCurrent, -1)
		return true
	}

	if s.maxAge > 0 {
		if sec, ok := unixFromName(name); ok {
			age := time.Duration(s.now()-sec) * time.Second
			if age > s.maxAge {
				s.remove(name, true)
				s.log.Info().Str("name", name).Dur("age", age).Msg("spool entry expired")
				return true
			}
		}
	}

	f, err := os.Open(dataPath)
	if err != nil {
		s.log.Warn().Err(err).Str("name", name).Msg("spool open failed")
		return false
	}
	defer f.Close()

	prefix := s.prefix
	if !validArchive(f) {
		prefix = s.spoolPrefix
	}
	key := objectKey(prefix, name)

	if err := r.put(ctx, key, f, info.Size()); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("spool reupload failed")
		return false
	}

	source := ""
	if raw, err := os.ReadFile(dataPath + metaSuffix); err == nil {
		var meta spoolMeta
		if json.Unmarshal(raw, &meta) == nil {
			source = meta.Source
		}
	}

	s.remove(name, false)
	atomic.AddInt64(&s.metrics.SpoolReuploaded, 1)
	s.log.Info().Str("key", key).Str("source", source).Msg("spool reuploaded")
	return true
}

// remove deletes a data file and its sidecar and updates the gauges.
func (s *Spool) remove(name string, expired bool) {
	dataPath := filepath.Join(s.dir, name)
	if info, err := os.Stat(dataPath); err == nil {
		s.size.Add(-info.Size())
		atomic.AddInt64(&s.metrics.SpoolSizeBytes, -info.Size())
	}
	_ = os.Remove(dataPath)
	_ = os.Remove(dataPath + metaSuffix)

	atomic.AddInt64(&s.metrics.SpoolFilesCurrent, -1)
	if expired {
		atomic.AddInt64(&s.metrics.SpoolFilesExpired, 1)
	}
}

// oldest returns the lexically smallest data file name, which is the
// oldest because names start with unix seconds. Directory listings are
// unordered, so it always sorts.
func (s *Spool) oldest() string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return ""
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == "" || name[0] == '.' || strings.HasSuffix(name, metaSuffix) {
			continue
		}
		files = append(files, name)
	}
	if len(files) == 0 {
		return ""
	}
	sort.Strings(files)
	return files[0]
}

// validArchive reports whether f is gzip whose first line opens a verbose
// GC document or element. It leaves f at an unspecified offset.
func validArchive(f io.ReadSeeker) bool {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return false
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		return false
	}
	defer gz.Close()

	line, err := bufio.NewReader(gz).ReadBytes('\n')
	if err != nil && err != io.EOF {
		return false
	}
	return bytes.HasPrefix(bytes.TrimSpace(line), []byte("<"))
}
