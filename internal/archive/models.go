package archive

import (
	"math"
	"time"
)

// SourceID uniquely identifies a video source.
type SourceID int64

// ChunkID uniquely identifies a stored video chunk.
type ChunkID int64

// Status is the lifecycle state of a source.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusPaused   Status = "PAUSED"
	StatusFinished Status = "FINISHED"
	StatusError    Status = "ERROR"
)

func (s Status) String() string { return string(s) }

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusFinished, StatusError:
		return true
	}
	return false
}

// Terminal reports whether a capture loop ended in s on its own.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusError
}

// Source is a configured video origin. URL is either a remote URL or a
// file:// URL of an uploaded file.
type Source struct {
	ID        SourceID
	Name      string
	URL       string
	Status    Status
	StatusMsg string
}

// Chunk is one finalized, non-empty chunk file covering [StartTime, EndTime].
type Chunk struct {
	ID        ChunkID
	SourceID  SourceID
	FilePath  string
	StartTime time.Time
	EndTime   time.Time
}

// Covers reports whether t falls inside the chunk, both ends inclusive.
func (c Chunk) Covers(t time.Time) bool {
	return !t.Before(c.StartTime) && !t.After(c.EndTime)
}

// Overlaps reports whether the chunk intersects [start, end].
func (c Chunk) Overlaps(start, end time.Time) bool {
	return !c.EndTime.Before(start) && !c.StartTime.After(end)
}

// EpochSeconds converts t to fractional seconds since the Unix epoch.
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// FromEpochSeconds is the inverse of EpochSeconds.
func FromEpochSeconds(s float64) time.Time {
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9)))
}
