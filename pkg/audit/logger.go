package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/newtron-network/rosguard/pkg/util"
)

// Logger stores workflow audit events.
type Logger interface {
	Log(event *Event) error
	Query(filter Filter) ([]*Event, error)
	Close() error
}

// backupLayout suffixes rotated files. It sorts lexically in time order and
// keeps rotations within one second apart distinct.
const backupLayout = "20060102-150405.000000000"

// FileLogger appends events as JSON lines to one file and rotates it into
// timestamped backups next to it.
type FileLogger struct {
	path     string
	rotation RotationConfig

	mu   sync.RWMutex
	file *os.File
	size int64
}

// RotationConfig bounds the audit log on disk. Zero values disable rotation
// and pruning respectively.
type RotationConfig struct {
	MaxSize    int64
	MaxBackups int
}

// NewFileLogger opens (or creates) the audit log at path.
func NewFileLogger(path string, rotation RotationConfig) (*FileLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}
	l := &FileLogger{path: path, rotation: rotation}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FileLogger) open() error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("opening audit log: %w", err)
	}
	l.file, l.size = f, info.Size()
	return nil
}

// Log appends one event. The file is rotated first when the line would push
// a non-empty file past MaxSize.
func (l *FileLogger) Log(event *Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding audit event %s: %w", event.ID, err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return fmt.Errorf("audit log %s is closed", l.path)
	}
	if limit := l.rotation.MaxSize; limit > 0 && l.size > 0 && l.size+int64(len(line)) > limit {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("rotating audit log: %w", err)
		}
	}
	n, err := l.file.Write(line)
	l.size += int64(n)
	return err
}

// Query returns matching events from the current file and its backups,
// newest first. Offset and Limit apply after filtering.
func (l *FileLogger) Query(filter Filter) ([]*Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var events []*Event
	for _, path := range append([]string{l.path}, l.backups()...) {
		found, err := readEvents(path, filter)
		if err != nil {
			return nil, err
		}
		events = append(events, found...)
		if filter.Limit > 0 && len(events) >= filter.Offset+filter.Limit {
			break
		}
	}

	if filter.Offset >= len(events) {
		return []*Event{}, nil
	}
	events = events[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(events) {
		events = events[:filter.Limit]
	}
	return events, nil
}

// readEvents returns the matching events of one file, newest first. A
// missing file holds no events; malformed lines are skipped.
func readEvents(path string, filter Filter) ([]*Event, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []*Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for n := 1; scanner.Scan(); n++ {
		e := &Event{}
		if err := json.Unmarshal(scanner.Bytes(), e); err != nil {
			util.Warnf("audit: %s line %d is not an event: %v", filepath.Base(path), n, err)
			continue
		}
		if filter.matches(e) {
			events = append(events, e)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// Close closes the log file. Later Log calls fail; Query keeps working.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// rotate moves the current file aside and prunes old backups. Caller holds
// l.mu for writing.
func (l *FileLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return err
	}
	l.file = nil
	if err := os.Rename(l.path, l.path+"."+time.Now().Format(backupLayout)); err != nil {
		return err
	}
	if err := l.open(); err != nil {
		return err
	}

	if keep := l.rotation.MaxBackups; keep > 0 {
		for _, old := range l.backupsAfter(keep) {
			if err := os.Remove(old); err != nil {
				util.Warnf("audit: removing old backup: %v", err)
			}
		}
	}
	return nil
}

// backups lists rotated files, newest first.
func (l *FileLogger) backups() []string {
	return l.backupsAfter(0)
}

// backupsAfter lists rotated files older than the newest skip, newest first.
func (l *FileLogger) backupsAfter(skip int) []string {
	entries, err := os.ReadDir(filepath.Dir(l.path))
	if err != nil {
		return nil
	}
	prefix := filepath.Base(l.path) + "."
	var names []string
	for _, e := range entries {
		suffix, ok := strings.CutPrefix(e.Name(), prefix)
		if !ok || e.IsDir() {
			continue
		}
		if _, err := time.Parse(backupLayout, suffix); err == nil {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	if skip >= len(names) {
		return nil
	}
	paths := make([]string, 0, len(names)-skip)
	for _, name := range names[skip:] {
		paths = append(paths, filepath.Join(filepath.Dir(l.path), name))
	}
	return paths
}

var (
	defaultMu     sync.RWMutex
	defaultLogger Logger
)

// SetDefaultLogger installs the logger behind the package-level Query. nil
// removes it.
func SetDefaultLogger(logger Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = logger
}

// Query searches the default logger. Without one there is no history.
func Query(filter Filter) ([]*Event, error) {
	defaultMu.RLock()
	l := defaultLogger
	defaultMu.RUnlock()
	if l == nil {
		return []*Event{}, nil
	}
	return l.Query(filter)
}
