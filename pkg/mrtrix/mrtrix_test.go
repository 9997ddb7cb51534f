package mrtrix

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"connectomeutils/internal/testutils"
	"connectomeutils/pkg/runner"
)

func TestExtractB0sAndMeanB0(t *testing.T) {
	dir := t.TempDir()
	dwi := filepath.Join(dir, "dwi.nii.gz")
	test.That(t, os.WriteFile(dwi, []byte("dwi"), 0o644), test.ShouldBeNil)
	b0s := filepath.Join(dir, "b0s.nii.gz")
	mean := filepath.Join(dir, "meanb0.nii.gz")

	for _, tc := range []struct {
		name    string
		threads int
		want    string
	}{
		{"explicit threads", 4, "4"},
		{"default", 0, "1"},
		{"negative", -2, "1"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fake := &testutils.FakeRunner{}
			err := ExtractB0sAndMeanB0(context.Background(), fake, dwi, b0s, mean, tc.threads)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, fake.Commands, test.ShouldResemble, []runner.Command{
				{Name: "dwiextract", Args: []string{"-bzero", dwi, b0s, "-nthreads", tc.want, "-failonwarn"}},
				{Name: "mrmath", Args: []string{b0s, "mean", mean, "-axis", "3", "-nthreads", tc.want, "-failonwarn"}},
			})
		})
	}
}

func TestExtractB0sMissingDWI(t *testing.T) {
	dir := t.TempDir()
	fake := &testutils.FakeRunner{}
	err := ExtractB0sAndMeanB0(context.Background(), fake, filepath.Join(dir, "none.nii.gz"),
		filepath.Join(dir, "b0s.nii.gz"), filepath.Join(dir, "mean.nii.gz"), 1)
	test.That(t, errors.Is(err, ErrMissingFile), test.ShouldBeTrue)
	test.That(t, fake.Calls(), test.ShouldEqual, 0)
}

func TestExtractB0sStopsOnFailure(t *testing.T) {
	dir := t.TempDir()
	dwi := filepath.Join(dir, "dwi.nii.gz")
	test.That(t, os.WriteFile(dwi, []byte("dwi"), 0o644), test.ShouldBeNil)

	exitErr := &exec.ExitError{}
	fake := &testutils.FakeRunner{
		OnRun: func(call int, cmd runner.Command) error {
			if call == 0 {
				return exitErr
			}
			return nil
		},
	}
	err := ExtractB0sAndMeanB0(context.Background(), fake, dwi, filepath.Join(dir, "b0s.nii.gz"),
		filepath.Join(dir, "mean.nii.gz"), 2)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, fake.Calls(), test.ShouldEqual, 1)

	var target *exec.ExitError
	test.That(t, errors.As(err, &target), test.ShouldBeTrue)
	test.That(t, target, test.ShouldEqual, exitErr)
}
