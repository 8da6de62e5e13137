package skeleton

import "github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/errs"

// Handle is the external pause/resume/terminate wrapper from §4.7.
// Creating a handle before the skeleton is RUNNING is an error; once
// created it may outlive the loop it was built against (terminate is
// just destroy).
type Handle struct {
	s *Skeleton
}

// NewHandle wraps a RUNNING skeleton. Creating it earlier is an error.
func NewHandle(s *Skeleton) (*Handle, error) {
	if s.State() != StateRunning {
		return nil, errs.New(errs.InvalidState, "pause/resume handle requires a RUNNING skeleton")
	}
	return &Handle{s: s}, nil
}

// Pause sets the pause flag; the loop sleeps without polling until Resume.
func (h *Handle) Pause() { h.s.loader.pause() }

// Resume clears the pause flag.
func (h *Handle) Resume() { h.s.loader.resume() }

// Terminate is equivalent to Destroy.
func (h *Handle) Terminate() { h.s.Destroy() }
