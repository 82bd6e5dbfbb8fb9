package log

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"time"
)

// Filter selects capture events. Zero fields match everything.
type Filter struct {
	SessionID string
	Direction *Direction
	Layer     *Layer
	Category  *Category

	// TimeStart is inclusive, TimeEnd exclusive.
	TimeStart *time.Time
	TimeEnd   *time.Time

	// Device matches the display address, e.g. "0x87654321".
	Device string

	// Command matches decoded frames by command ID.
	Command *uint8

	// Channel matches events captured on one radio channel.
	Channel *uint8

	// AuthFailures keeps only drops caused by a failed MIC.
	AuthFailures bool
}

func (f *Filter) matches(event Event) bool {
	switch {
	case f.SessionID != "" && event.SessionID != f.SessionID:
		return false
	case f.Direction != nil && event.Direction != *f.Direction:
		return false
	case f.Layer != nil && event.Layer != *f.Layer:
		return false
	case f.Category != nil && event.Category != *f.Category:
		return false
	case f.TimeStart != nil && event.Timestamp.Before(*f.TimeStart):
		return false
	case f.TimeEnd != nil && !event.Timestamp.Before(*f.TimeEnd):
		return false
	case f.Device != "" && event.Device != f.Device:
		return false
	case f.Command != nil && (event.Command == nil || event.Command.Command != *f.Command):
		return false
	case f.Channel != nil && event.Channel != *f.Channel:
		return false
	case f.AuthFailures && (event.Drop == nil || !event.Drop.AuthFailure):
		return false
	}
	return true
}

// Reader streams events from a capture. A rotated predecessor written by
// FileLogger is read first, so events come back in capture order.
type Reader struct {
	files   []*os.File
	decoder *Decoder
	filter  Filter
}

// NewReader reads every event of the capture at path.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader reads the events of the capture at path that match
// filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	r := &Reader{filter: filter}
	if prev, err := os.Open(RotatedPath(path)); err == nil {
		r.files = append(r.files, prev)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	cur, err := os.Open(path)
	if err != nil {
		r.Close()
		return nil, err
	}
	r.files = append(r.files, cur)

	readers := make([]io.Reader, len(r.files))
	for i, f := range r.files {
		readers[i] = f
	}
	r.decoder = NewDecoder(io.MultiReader(readers...))
	return r, nil
}

// Next returns the next matching event, or io.EOF at the end.
func (r *Reader) Next() (Event, error) {
	for {
		event, err := r.decoder.Decode()
		if err != nil {
			return Event{}, err
		}
		if r.filter.matches(event) {
			return event, nil
		}
	}
}

// Close closes every file the reader opened.
func (r *Reader) Close() error {
	var errs []error
	for _, f := range r.files {
		errs = append(errs, f.Close())
	}
	return errors.Join(errs...)
}
