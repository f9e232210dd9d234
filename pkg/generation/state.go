package generation

import (
	"time"

	"storybookai/pkg/domain"
)

const (
	PollInterval    = 3 * time.Second
	MaxPolls        = 60
	CompletionDelay = 1500 * time.Millisecond
)

// Progress values reported along the way.
const (
	ProgressSubmitting = 10
	ProgressSubmitted  = 20
	ProgressCover      = 70
	ProgressComplete   = 100
)

// Phase is the state of a generation job as seen by the client.
type Phase string

const (
	PhaseSubmitting Phase = "submitting"
	PhaseStory      Phase = "story"
	PhaseCover      Phase = "cover"
	PhaseComplete   Phase = "complete"
	PhaseTimedOut   Phase = "timed_out"
	PhaseAborted    Phase = "aborted"
	PhaseFailed     Phase = "failed"
)

// Step is the stage shown to the user.
type Step string

const (
	StepStory    Step = "story"
	StepCover    Step = "cover"
	StepPDF      Step = "pdf"
	StepComplete Step = "complete"
)

func (s Step) Label() string {
	switch s {
	case StepStory:
		return "Creating your story"
	case StepCover:
		return "Designing magical cover"
	case StepPDF:
		return "Crafting your book"
	case StepComplete:
		return "Your story is ready!"
	}
	return ""
}

// State is a snapshot of one generation job.
type State struct {
	BookID   int64
	Phase    Phase
	Progress int
	Attempts int
}

// Submitting is the state before the job exists on the server.
func Submitting() State {
	return State{Phase: PhaseSubmitting, Progress: ProgressSubmitting}
}

// Start is the state right after the server accepted the job.
func Start(bookID int64) State {
	return State{BookID: bookID, Phase: PhaseStory, Progress: ProgressSubmitted}
}

// Step maps the phase to the visible stage. A ready cover means the PDF is
// what is being worked on next.
func (s State) Step() Step {
	switch s.Phase {
	case PhaseCover:
		return StepPDF
	case PhaseComplete:
		return StepComplete
	}
	return StepStory
}

func (s State) Terminal() bool {
	switch s.Phase {
	case PhaseComplete, PhaseTimedOut, PhaseAborted, PhaseFailed:
		return true
	}
	return false
}

// Transition applies one successful status poll.
func Transition(s State, status domain.GenerationStatus) State {
	if s.Terminal() {
		return s
	}
	s.Attempts++
	switch {
	case status.PDFReady:
		s.Phase = PhaseComplete
		s.Progress = ProgressComplete
		return s
	case status.CoverReady:
		s.Phase = PhaseCover
		s = raise(s, ProgressCover)
	}
	return ceiling(s)
}

// MissedPoll applies a status poll that failed. It still counts toward the ceiling.
func MissedPoll(s State) State {
	if s.Terminal() {
		return s
	}
	s.Attempts++
	return ceiling(s)
}

// Advance applies a cosmetic progress milestone while the story is being written.
func Advance(s State, progress int) State {
	if s.Phase != PhaseStory {
		return s
	}
	return raise(s, progress)
}

// Abort marks the job as abandoned by the caller.
func Abort(s State) State {
	if s.Terminal() {
		return s
	}
	s.Phase = PhaseAborted
	return s
}

func ceiling(s State) State {
	if s.Attempts >= MaxPolls {
		s.Phase = PhaseTimedOut
	}
	return s
}

func raise(s State, progress int) State {
	if progress > s.Progress {
		s.Progress = progress
	}
	return s
}
