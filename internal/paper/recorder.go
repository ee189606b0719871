package paper

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/denniswon/modular-trading-agent/internal/execution"
)

// FillLog appends booked fills to a JSON-lines file. Sequence numbers continue
// across restarts so a reopened log stays strictly increasing.
type FillLog struct {
	mu     sync.Mutex
	file   *os.File
	w      *bufio.Writer
	seq    int64
	failed int
	log    zerolog.Logger
}

type fillLine struct {
	Seq int64 `json:"seq"`
	execution.Fill
}

// OpenFillLog opens path for appending, creating parent directories as needed.
func OpenFillLog(path string, log zerolog.Logger) (*FillLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("fill log dir: %w", err)
	}
	existing, err := ReadFillLog(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open fill log: %w", err)
	}
	return &FillLog{
		file: file,
		w:    bufio.NewWriter(file),
		seq:  int64(len(existing)),
		log:  log.With().Str("component", "fill_log").Str("path", path).Logger(),
	}, nil
}

// Record writes one line per fill and flushes it. Write failures are logged and counted.
func (l *FillLog) Record(fill execution.Fill) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		l.failed++
		return
	}
	l.seq++
	b, err := json.Marshal(fillLine{Seq: l.seq, Fill: fill})
	if err == nil {
		b = append(b, '\n')
		if _, err = l.w.Write(b); err == nil {
			err = l.w.Flush()
		}
	}
	if err != nil {
		l.failed++
		l.log.Warn().Err(err).Str("order_id", fill.OrderID).Msg("fill not persisted")
	}
}

// Failures reports fills that could not be written.
func (l *FillLog) Failures() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failed
}

// Close flushes and closes the file; later records are counted as failures.
func (l *FillLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.w.Flush()
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	return err
}

// ReadFillLog decodes every fill in a log written by FillLog.
func ReadFillLog(path string) ([]execution.Fill, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var fills []execution.Fill
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for n := 1; sc.Scan(); n++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var fill execution.Fill
		if err := json.Unmarshal(sc.Bytes(), &fill); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, n, err)
		}
		fills = append(fills, fill)
	}
	return fills, sc.Err()
}
