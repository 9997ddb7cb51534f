package runner

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestCommandString(t *testing.T) {
	c := Command{Name: "mrmath", Args: []string{"b0s.nii.gz", "mean", "meanb0.nii.gz"}}
	test.That(t, c.String(), test.ShouldEqual, "mrmath b0s.nii.gz mean meanb0.nii.gz")
}

func TestExecRunner(t *testing.T) {
	requireShell(t)
	r := NewExecRunner(nil)
	ctx := context.Background()

	t.Run("success with env and dir", func(t *testing.T) {
		dir := t.TempDir()
		err := r.Run(ctx, Command{
			Name: "sh",
			Args: []string{"-c", `printf '%s' "$GREETING" > out.txt`},
			Env:  []string{"GREETING=hello"},
			Dir:  dir,
		})
		test.That(t, err, test.ShouldBeNil)
		got, err := os.ReadFile(filepath.Join(dir, "out.txt"))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, string(got), test.ShouldEqual, "hello")
	})

	t.Run("exit status keeps stderr and exit error", func(t *testing.T) {
		err := r.Run(ctx, Command{Name: "sh", Args: []string{"-c", "echo broken >&2; exit 3"}})
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "broken")

		var exitErr *exec.ExitError
		test.That(t, errors.As(err, &exitErr), test.ShouldBeTrue)
		test.That(t, exitErr.ExitCode(), test.ShouldEqual, 3)
	})

	t.Run("missing binary", func(t *testing.T) {
		err := r.Run(ctx, Command{Name: "definitely-not-a-real-tool-xyz"})
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := r.Run(cctx, Command{Name: "sh", Args: []string{"-c", "sleep 5"}})
		test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
	})
}
