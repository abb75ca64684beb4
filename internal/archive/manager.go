// Package archive ships finished verbose GC log files to object storage.
//
// The file sink reports every file it finishes (rotation advance,
// reconfigure, close). Enqueue takes the path without blocking, because
// it is called from the goroutine that closed a GC cycle. A single upload
// loop compresses and uploads each file; failed uploads go to a local
// spool, which is drained between jobs and while idle.
package archive

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"vgclog/internal/config"
	"vgclog/internal/metrics"

	"github.com/rs/zerolog"
)

const (
	// spoolBatch is how many spooled archives are tried per drain, so
	// fresh files and the spool both make progress.
	spoolBatch = 3
	// idleDrain is the spool drain interval while no files arrive.
	idleDrain = time.Second
)

// Manager owns the upload queue and the upload loop.
type Manager struct {
	prefix   string
	instance string

	log     zerolog.Logger
	metrics *metrics.Metrics
	retry   *retrier
	spool   *Spool

	mu     sync.RWMutex
	closed bool
	jobs   chan string

	ctx    context.Context
	cancel context.CancelFunc

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New builds a manager around up. It fails only when the spool directory
// cannot be prepared.
func New(cfg config.Config, up Uploader, log zerolog.Logger, m *metrics.Metrics) (*Manager, error) {
	spool, err := NewSpool(cfg.Archive, log, m)
	if err != nil {
		return nil, err
	}

	queue := cfg.Archive.QueueSize
	if queue <= 0 {
		queue = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		prefix:   cfg.Archive.Prefix,
		instance: cfg.InstanceID,
		log:      log,
		metrics:  m,
		retry:    newRetrier(up, m, cfg.Archive.Retries),
		spool:    spool,
		jobs:     make(chan string, queue),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start runs the upload loop.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.uploadLoop()
}

// Enqueue queues a finished file. It never blocks: a full queue or a
// stopped manager drops the file and reports false.
func (m *Manager) Enqueue(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		atomic.AddInt64(&m.metrics.ArchiveDropped, 1)
		return false
	}

	select {
	case m.jobs <- path:
		return true
	default:
		atomic.AddInt64(&m.metrics.ArchiveDropped, 1)
		m.log.Warn().Str("path", path).Msg("archive queue full, file not shipped")
		return false
	}
}

// Shutdown stops taking files and waits for queued ones to be uploaded
// or spooled. When ctx expires first, in-flight uploads are cancelled.
func (m *Manager) Shutdown(ctx context.Context) {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		close(m.jobs)
		m.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.cancel()
		<-done
	}
	m.cancel()
}

func (m *Manager) uploadLoop() {
	defer m.wg.Done()

	idle := time.NewTicker(idleDrain)
	defer idle.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return

		case path, ok := <-m.jobs:
			if !ok {
				m.log.Info().Msg("archive uploader exiting")
				return
			}
			m.ship(m.ctx, path)
			m.drain(m.ctx)

		case <-idle.C:
			m.drain(m.ctx)
		}
	}
}

// ship compresses and uploads one finished file; a failed upload is
// spooled. Files that cannot be read are logged and counted as dropped.
func (m *Manager) ship(ctx context.Context, path string) {
	data, err := compressFile(path)
	if err != nil {
		atomic.AddInt64(&m.metrics.ArchiveDropped, 1)
		m.log.Warn().Err(err).Str("path", path).Msg("archive skipped")
		return
	}

	name := objectName(m.instance, path)
	key := objectKey(m.prefix, name)

	if err := m.retry.put(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
		m.log.Warn().Err(err).Str("path", path).Msg("archive upload failed, spooling")
		if err := m.spool.Save(name, data, filepath.Clean(path)); err != nil {
			m.log.Error().Err(err).Str("path", path).Msg("spool save failed")
		}
		return
	}

	atomic.AddInt64(&m.metrics.ArchiveUploads, 1)
	m.log.Debug().Str("key", key).Int("bytes", len(data)).Msg("archived")
}

func (m *Manager) drain(ctx context.Context) {
	for i := 0; i < spoolBatch; i++ {
		if !m.spool.ProcessOne(ctx, m.retry) {
			return
		}
	}
}
