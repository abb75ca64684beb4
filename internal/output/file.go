package output

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"vgclog/internal/clock"
)

// DefaultCycles is the cycles-per-file used when rotation is requested
// without a cycle count.
const DefaultCycles = 10

// FileOutput writes verbose output to a file, optionally rotating across a
// bounded set of numbered files.
//
// Rotation: with Files = F and Cycles = C, after k completed cycles the
// active index is (start + k/C) mod F and the in-file cycle is k mod C.
// Each file is truncated when it is reopened.
type FileOutput struct {
	base

	template string // parsed, '#' already rewritten
	rotating bool
	files    int
	cycles   int

	currentFile  int // 0-based
	currentCycle int

	file *os.File
	path string

	tokens Tokens
}

// NewFile opens the first file named by spec. In rotation mode the start
// index is the first missing file, or else the least recently modified one,
// so a restart does not always overwrite the first file.
func NewFile(env Env, spec Spec) (*FileOutput, error) {
	f := &FileOutput{
		base:   newBase(env),
		tokens: Tokens{PID: os.Getpid(), Start: clock.ProcessStart()},
	}
	if err := f.apply(spec); err != nil {
		f.release()
		return nil, err
	}
	return f, nil
}

func (f *FileOutput) Type() Type { return TypeFile }

// Path is the concrete path of the open file, empty when closed.
func (f *FileOutput) Path() string {
	if f.file == nil {
		return ""
	}
	return f.path
}

// CurrentFile is the 0-based rotation index.
func (f *FileOutput) CurrentFile() int { return f.currentFile }

// CurrentCycle is the number of cycles written to the current file.
func (f *FileOutput) CurrentCycle() int { return f.currentCycle }

func (f *FileOutput) FormatAndOutput(indent int, format string, args ...any) {
	f.appendLine(f.dst(), formatLine(indent, format, args...))
}

func (f *FileOutput) EndOfCycle() {
	f.flush(f.dst())
	if f.file != nil {
		if err := f.file.Sync(); err != nil {
			f.env.Log.Debug().Err(err).Str("path", f.path).Msg("verbose file sync failed")
		}
	}

	if !f.rotating {
		return
	}

	f.currentCycle++
	if f.currentCycle < f.cycles {
		return
	}

	f.closeFile()
	f.currentCycle = 0
	f.currentFile = (f.currentFile + 1) % f.files
	atomic.AddInt64(&f.env.Metrics.FilesRotated, 1)

	if err := f.openFile(); err != nil {
		// writes fall back to the error stream until the next rotation
		f.env.Log.Warn().Err(err).Msg("verbose file rotation failed")
	}
}

func (f *FileOutput) CloseStream() {
	f.closeFile()
}

// Reconfigure switches to a new template or rotation policy. Buffered lines
// are written to the old file before it is closed.
func (f *FileOutput) Reconfigure(spec Spec) error {
	f.closeFile()
	f.currentCycle = 0
	return f.apply(spec)
}

func (f *FileOutput) Kill() {
	f.closeFile()
	f.release()
}

func (f *FileOutput) apply(spec Spec) error {
	f.rotating = spec.Files > 0
	f.files = spec.Files
	f.cycles = spec.Cycles
	if f.rotating && f.cycles <= 0 {
		f.cycles = DefaultCycles
	}
	f.template = ParseTemplate(spec.Target, f.rotating)

	f.currentFile = 0
	if f.rotating {
		f.currentFile = f.startIndex()
	}
	return f.openFile()
}

// startIndex picks the first index with no file, else the index whose
// file was modified longest ago.
func (f *FileOutput) startIndex() int {
	oldest := 0
	var oldestMod time.Time

	for i := 0; i < f.files; i++ {
		info, err := os.Stat(f.expand(i))
		if err != nil {
			return i
		}
		if i == 0 || info.ModTime().Before(oldestMod) {
			oldest = i
			oldestMod = info.ModTime()
		}
	}
	return oldest
}

func (f *FileOutput) expand(index int) string {
	tok := f.tokens
	tok.Seq = index
	return Expand(f.template, tok)
}

// openFile opens the current index, creating missing parent directories and
// retrying once if the first attempt fails.
func (f *FileOutput) openFile() error {
	path := f.expand(f.currentFile)

	file, err := create(path)
	if err != nil {
		if dir := filepath.Dir(path); dir != "." {
			if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
				f.env.Log.Debug().Err(mkErr).Str("dir", dir).Msg("verbose file directory create failed")
			}
		}
		file, err = create(path)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrOpenFailed, path, err)
	}

	f.file = file
	f.path = path
	atomic.AddInt64(&f.env.Metrics.FilesOpened, 1)
	f.writeOut(file, header())

	f.env.Log.Debug().Str("path", path).Int("index", f.currentFile).Msg("verbose file opened")
	return nil
}

func create(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
}

// closeFile flushes, writes the footer and closes the current file.
func (f *FileOutput) closeFile() {
	if f.file == nil {
		return
	}
	f.flush(f.file)
	f.writeOut(f.file, footer())

	if err := f.file.Close(); err != nil {
		f.env.Log.Warn().Err(err).Str("path", f.path).Msg("verbose file close failed")
	}
	f.file = nil

	if f.env.OnFileClosed != nil {
		f.env.OnFileClosed(f.path)
	}
}

// dst keeps a nil *os.File from turning into a non-nil io.Writer.
func (f *FileOutput) dst() io.Writer {
	if f.file == nil {
		return nil
	}
	return f.file
}

var _ Agent = (*FileOutput)(nil)
