package runs

// Workspace is the set of code locations the orchestrator currently has
// loaded. Launching a run whose code location is not in the workspace is
// a configuration error.
type Workspace interface {
	HasCodeLocation(name string) bool
}

// StaticWorkspace is a fixed list of code locations. An empty list accepts
// every name.
type StaticWorkspace []string

func (w StaticWorkspace) HasCodeLocation(name string) bool {
	if len(w) == 0 {
		return true
	}
	for _, n := range w {
		if n == name {
			return true
		}
	}
	return false
}

// LaunchContext is what the launcher receives for a launch.
type LaunchContext struct {
	Run       *Run
	Workspace Workspace
}
