// Package testutils holds test doubles shared across packages.
package testutils

import (
	"context"
	"os"
	"sync"

	"connectomeutils/pkg/runner"
)

// FakeRunner records commands instead of running them. OnRun, when set, decides
// the result of each call; it may create the files a real tool would produce.
type FakeRunner struct {
	mu       sync.Mutex
	Commands []runner.Command
	OnRun    func(call int, cmd runner.Command) error
}

// Run records cmd and defers to OnRun.
func (f *FakeRunner) Run(ctx context.Context, cmd runner.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	call := len(f.Commands)
	f.Commands = append(f.Commands, cmd)
	onRun := f.OnRun
	f.mu.Unlock()
	if onRun == nil {
		return nil
	}
	return onRun(call, cmd)
}

// Calls returns the number of recorded commands.
func (f *FakeRunner) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Commands)
}

// Touch creates an empty file at path, for use inside OnRun.
func Touch(path string) error {
	return os.WriteFile(path, nil, 0o644)
}
