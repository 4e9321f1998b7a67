package core

// Scheduler decides the execution order of stages.
type Scheduler struct{}

func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// GetNextSteps returns the steps of the stage at stageIndex, or nil past the
// last stage.
func (s *Scheduler) GetNextSteps(pipeline *Pipeline, stageIndex int) []Step {
	if stageIndex < 0 || stageIndex >= len(pipeline.Stages) {
		return nil
	}
	return pipeline.Stages[stageIndex].Steps
}
