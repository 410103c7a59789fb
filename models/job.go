package models

import (
	"errors"
	"fmt"
	"time"
)

// Status is the externally visible state of a job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// ErrInvalidTransition is returned when a patch would move a job backwards
// or out of a terminal state.
var ErrInvalidTransition = errors.New("invalid status transition")

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusError
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusDone, StatusError:
		return true
	}
	return false
}

// CanTransition enforces queued -> processing -> {done|error}. A queued job
// may also fail directly (it never ran). Same-state patches are allowed.
func (s Status) CanTransition(to Status) bool {
	if s == to {
		return true
	}
	switch s {
	case StatusQueued:
		return to == StatusProcessing || to == StatusError
	case StatusProcessing:
		return to == StatusDone || to == StatusError
	default:
		return false
	}
}

// Job is the persisted record for one submission.
type Job struct {
	ID             string       `json:"id"`
	Status         Status       `json:"status"`
	Progress       int          `json:"progress"`
	VariationCount int          `json:"variations"`
	EffectConfig   EffectConfig `json:"settings"`
	InputPath      string       `json:"input_path"`
	OriginalName   string       `json:"original_name,omitempty"`
	Outputs        []string     `json:"outputs"`
	ArchivePath    string       `json:"zip_path,omitempty"`
	Error          string       `json:"error,omitempty"`
	CallbackURL    string       `json:"callback_url,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// JobPatch is a partial update. Nil fields are left untouched.
type JobPatch struct {
	Status      *Status
	Progress    *int
	Outputs     []string
	ArchivePath *string
	Error       *string
}

// Apply validates the patch against the current record and mutates it in
// place. Progress never moves backwards; a lower value is ignored rather than
// rejected so that out-of-order best-effort updates stay harmless.
func (j *Job) Apply(p JobPatch, now time.Time) error {
	if j.Status.IsTerminal() {
		// A replayed terminal write (retry after an ambiguous failure) is a no-op.
		if p.Status != nil && *p.Status == j.Status {
			return nil
		}
		return fmt.Errorf("%w: job %s is already %s", ErrInvalidTransition, j.ID, j.Status)
	}

	next := j.Status
	if p.Status != nil {
		if !p.Status.Valid() {
			return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, *p.Status)
		}
		if !j.Status.CanTransition(*p.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, *p.Status)
		}
		next = *p.Status
	}
	if p.Outputs != nil && len(p.Outputs) > j.VariationCount {
		return fmt.Errorf("outputs (%d) exceed variation count (%d)", len(p.Outputs), j.VariationCount)
	}
	if p.ArchivePath != nil && next != StatusDone {
		return fmt.Errorf("archive path can only be set on a done job")
	}
	if next == StatusDone && j.Status != StatusDone {
		outputs := j.Outputs
		if p.Outputs != nil {
			outputs = p.Outputs
		}
		if len(outputs) != j.VariationCount {
			return fmt.Errorf("done job must have %d outputs, has %d", j.VariationCount, len(outputs))
		}
	}

	if p.Progress != nil {
		v := clampProgress(*p.Progress)
		if v > j.Progress {
			j.Progress = v
		}
	}
	if p.Outputs != nil {
		j.Outputs = append([]string(nil), p.Outputs...)
	}
	if p.ArchivePath != nil {
		j.ArchivePath = *p.ArchivePath
	}
	if p.Error != nil {
		j.Error = *p.Error
	}
	if next == StatusDone {
		j.Progress = 100
	}
	j.Status = next
	j.UpdatedAt = now
	return nil
}

func clampProgress(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// StatusPtr and friends build patches inline.
func StatusPtr(s Status) *Status { return &s }

func IntPtr(v int) *int { return &v }

func StringPtr(s string) *string { return &s }

// Descriptor is what the scheduler queues: enough to run the job without a
// store round-trip.
type Descriptor struct {
	ID             string
	InputPath      string
	VariationCount int
	EffectConfig   EffectConfig
	CallbackURL    string
}

// Descriptor builds the scheduler entry for a stored job.
func (j Job) Descriptor() Descriptor {
	return Descriptor{
		ID:             j.ID,
		InputPath:      j.InputPath,
		VariationCount: j.VariationCount,
		EffectConfig:   j.EffectConfig,
		CallbackURL:    j.CallbackURL,
	}
}
