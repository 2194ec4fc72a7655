// Package writer emits training statistics and artifacts.
package writer

import (
	"fmt"
	"log"
	"os"
	"sort"
)

// Writer consumes per-step statistics and saved checkpoint files. Only
// rank 0 of a training group writes.
type Writer interface {
	// Write records one step's named statistics.
	Write(step int, stats map[string]float64)

	// SaveArtifact registers a file on disk under a stable artifact
	// name.
	SaveArtifact(name, path string) error
}

// Log is a Writer that prints statistics to a standard logger and
// tracks artifacts as symlinks under a directory.
type Log struct {
	logger *log.Logger
	dir    string
}

// NewLog returns a Log writing to stderr and registering artifacts
// under dir. An empty dir disables artifact registration.
func NewLog(dir string) *Log {
	return &Log{
		logger: log.New(os.Stderr, "", log.LstdFlags),
		dir:    dir,
	}
}

// Write prints the statistics on one line with keys in sorted order so
// the output is stable across runs.
func (l *Log) Write(step int, stats map[string]float64) {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	line := fmt.Sprintf("step %d:", step)
	for _, k := range keys {
		line += fmt.Sprintf(" %v=%.5g", k, stats[k])
	}
	l.logger.Println(line)
}

// SaveArtifact points a stable symlink at the latest file registered
// under name.
func (l *Log) SaveArtifact(name, path string) error {
	if l.dir == "" {
		return nil
	}
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("saveArtifact: could not create artifact "+
			"directory: %v", err)
	}

	abs := path
	link := l.dir + "/" + name
	tmp := link + ".tmp"
	if err := os.Symlink(abs, tmp); err != nil {
		return fmt.Errorf("saveArtifact: could not link artifact: %v", err)
	}
	if err := os.Rename(tmp, link); err != nil {
		return fmt.Errorf("saveArtifact: could not publish artifact: %v",
			err)
	}
	l.logger.Printf("artifact %v -> %v", name, path)
	return nil
}
