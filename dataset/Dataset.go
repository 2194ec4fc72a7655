// Package dataset implements the offline expert-episode dataset and
// the resumable random sampler whose cursor is checkpointed with the
// rest of the training state.
package dataset

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pranav-putta/bcnav/episode"
	"gorgonia.org/tensor"
)

// EpisodeRecord is the on-disk form of an episode: one gob-encoded
// record per file. Frames are flattened with their shape recorded so
// decoding does not depend on tensor internals.
type EpisodeRecord struct {
	FrameShape []int
	Rgbs       []float64
	Goals      []float64
	Actions    []int
	Rewards    []float64
	Dones      []bool
	Successes  []bool
}

// Episode converts the record back into an episode value.
func (r EpisodeRecord) Episode() (episode.Episode, error) {
	frameSize := tensor.Shape(r.FrameShape).TotalSize()
	if frameSize < 1 {
		return episode.Episode{}, fmt.Errorf("episode: invalid frame shape %v",
			r.FrameShape)
	}
	if len(r.Rgbs)%frameSize != 0 {
		return episode.Episode{}, fmt.Errorf("episode: %v frame values do "+
			"not divide into frames of %v elements", len(r.Rgbs), frameSize)
	}
	n := len(r.Rgbs) / frameSize
	shape := append([]int{n}, r.FrameShape...)

	return episode.Episode{
		Rgbs: tensor.New(tensor.WithShape(shape...),
			tensor.WithBacking(append([]float64(nil), r.Rgbs...))),
		Goals: tensor.New(tensor.WithShape(shape...),
			tensor.WithBacking(append([]float64(nil), r.Goals...))),
		Actions:   append([]int(nil), r.Actions...),
		Rewards:   append([]float64(nil), r.Rewards...),
		Dones:     append([]bool(nil), r.Dones...),
		Successes: append([]bool(nil), r.Successes...),
	}, nil
}

// Record converts an episode into its on-disk form.
func Record(ep episode.Episode) EpisodeRecord {
	return EpisodeRecord{
		FrameShape: append([]int(nil), ep.FrameShape()...),
		Rgbs:       append([]float64(nil), ep.Rgbs.Data().([]float64)...),
		Goals:      append([]float64(nil), ep.Goals.Data().([]float64)...),
		Actions:    append([]int(nil), ep.Actions...),
		Rewards:    append([]float64(nil), ep.Rewards...),
		Dones:      append([]bool(nil), ep.Dones...),
		Successes:  append([]bool(nil), ep.Successes...),
	}
}

// WriteEpisode writes one episode to path as a gob-encoded record.
func WriteEpisode(path string, ep episode.Episode) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writeEpisode: could not create file: %v", err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(Record(ep)); err != nil {
		return fmt.Errorf("writeEpisode: could not encode episode: %v", err)
	}
	return nil
}

// ListFiles returns the sorted episode files under dir.
func ListFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.bin"))
	if err != nil {
		return nil, fmt.Errorf("listFiles: %v", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("listFiles: no episode files under %v", dir)
	}
	sort.Strings(files)
	return files, nil
}

// Dataset is a lazily loaded collection of episode files.
type Dataset struct {
	files []string
}

// Open returns a dataset over the given episode files.
func Open(files []string) (*Dataset, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("open: dataset has no files")
	}
	return &Dataset{files: append([]string(nil), files...)}, nil
}

// Len returns the number of episodes in the dataset.
func (d *Dataset) Len() int { return len(d.files) }

// Episode loads and decodes episode i.
func (d *Dataset) Episode(i int) (episode.Episode, error) {
	if i < 0 || i >= len(d.files) {
		return episode.Episode{}, fmt.Errorf("episode: index %v out of "+
			"range [0, %v)", i, len(d.files))
	}

	file, err := os.Open(d.files[i])
	if err != nil {
		return episode.Episode{}, fmt.Errorf("episode: could not open %v: %v",
			d.files[i], err)
	}
	defer file.Close()

	var record EpisodeRecord
	if err := gob.NewDecoder(file).Decode(&record); err != nil {
		return episode.Episode{}, fmt.Errorf("episode: could not decode "+
			"%v: %v", d.files[i], err)
	}

	ep, err := record.Episode()
	if err != nil {
		return episode.Episode{}, fmt.Errorf("episode: %v: %v", d.files[i],
			err)
	}
	return ep, nil
}
