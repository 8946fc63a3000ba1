package sequencer

import (
	"context"

	"github.com/ahrav/go-reviewflow/internal/domain"
	"github.com/ahrav/go-reviewflow/internal/flow/poll"
)

// StartPoll follows jobID on behalf of step. Every snapshot is projected into
// the store under progress.<step> and emitted as a PollProgress event. The
// task stops when the job is terminal, when CancelPolls(step) or Reset is
// called, or when ctx ends.
func (s *Sequencer) StartPoll(ctx context.Context, step domain.StepID, jobID string) (*poll.Handle, error) {
	var h *poll.Handle
	ready := make(chan struct{})

	observer := func(snap poll.Snapshot) {
		s.project(step, snap)
		if snap.Terminal() {
			<-ready
			s.forget(step, h)
		}
	}

	h, err := s.engine.StartObserved(ctx, jobID, s.api.GetStatus, nil, s.opts.PollInterval, observer)
	if err != nil {
		close(ready)
		return nil, err
	}

	s.pollMu.Lock()
	if s.polls[step] == nil {
		s.polls[step] = make(map[*poll.Handle]struct{})
	}
	if !h.Snapshot().Terminal() {
		s.polls[step][h] = struct{}{}
	}
	s.pollMu.Unlock()
	close(ready)

	return h, nil
}

// CancelPolls cancels every poll task started for step.
func (s *Sequencer) CancelPolls(step domain.StepID) int {
	s.pollMu.Lock()
	handles := s.polls[step]
	delete(s.polls, step)
	s.pollMu.Unlock()

	for h := range handles {
		s.engine.Cancel(h)
	}
	if len(handles) > 0 {
		s.logger.Info("poll tasks cancelled", "step", step, "count", len(handles))
	}
	return len(handles)
}

// ActivePolls returns the number of running poll tasks for step.
func (s *Sequencer) ActivePolls(step domain.StepID) int {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()
	return len(s.polls[step])
}

func (s *Sequencer) cancelAllPolls() {
	s.pollMu.Lock()
	steps := make([]domain.StepID, 0, len(s.polls))
	for step := range s.polls {
		steps = append(steps, step)
	}
	s.pollMu.Unlock()

	for _, step := range steps {
		s.CancelPolls(step)
	}
}

func (s *Sequencer) forget(step domain.StepID, h *poll.Handle) {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()
	delete(s.polls[step], h)
	if len(s.polls[step]) == 0 {
		delete(s.polls, step)
	}
}

// project stores the snapshot as the step's progress read model. It runs on
// the poll goroutine and uses a background context because the task may
// outlive the caller that started it.
func (s *Sequencer) project(step domain.StepID, snap poll.Snapshot) {
	ctx := context.Background()
	progress := snap.Progress()
	if err := s.store.Set(ctx, s.sessionID, progressField(step), progress); err != nil {
		s.logger.Warn("failed to store poll progress",
			"step", step,
			"job_id", snap.JobID,
			"error", err)
	}
	s.emit(ctx, domain.EventTypePollProgress, snap.JobID, progress)
}
