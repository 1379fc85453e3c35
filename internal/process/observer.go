package process

// Observer receives lifecycle notifications from runners. SpawnFailed is
// called on the goroutine calling Start, everything else on the loop.
type Observer interface {
	RunStarted(command string)
	RunOutput(n int)
	RunFinished(res Result)
	SpawnFailed(command string, err error)
}

// OutputFunc observes output chunks as they are read. The chunk is owned by
// the callee.
type OutputFunc func(chunk []byte)

type nopObserver struct{}

func (nopObserver) RunStarted(string)         {}
func (nopObserver) RunOutput(int)             {}
func (nopObserver) RunFinished(Result)        {}
func (nopObserver) SpawnFailed(string, error) {}
