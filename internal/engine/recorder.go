package engine

import "hundred_prisoners/internal/domain"

// Recorder is a StepObserver that keeps the whole trace of a trial.
type Recorder struct {
	Steps []domain.Step
}

func (r *Recorder) OnStep(agentNumber, containerLabel, hiddenNumber int) error {
	r.Steps = append(r.Steps, domain.Step{
		AgentNumber:    agentNumber,
		ContainerLabel: containerLabel,
		HiddenNumber:   hiddenNumber,
	})
	return nil
}

func (r *Recorder) Reset() {
	r.Steps = r.Steps[:0]
}

// Chain fans a step out to several observers in order, stopping at the first
// error.
func Chain(observers ...StepObserver) StepObserver {
	return ObserverFunc(func(agentNumber, containerLabel, hiddenNumber int) error {
		for _, obs := range observers {
			if obs == nil {
				continue
			}
			if err := obs.OnStep(agentNumber, containerLabel, hiddenNumber); err != nil {
				return err
			}
		}
		return nil
	})
}
