package core

// Pipeline is a build definition handed to the agent.
type Pipeline struct {
	PipelineID string            `yaml:"pipelineId"`
	Variables  map[string]string `yaml:"variables"`
	Stages     []Stage           `yaml:"stages"` // run sequentially
}

// Stage is a named group of steps.
type Stage struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Step is a single shell command.
type Step struct {
	Name string `yaml:"name"`
	Run  string `yaml:"run"`
}

// Label returns the step name, falling back to the command.
func (s Step) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Run
}
