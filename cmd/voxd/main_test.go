package main

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
)

func TestNewRootCmdRegistersExpectedFlags(t *testing.T) {
	cmd := newRootCmd()
	for _, name := range []string{"mode", "workers", "worker", "daemon", "respawn", "vox-worker", "listen", "metrics-addr"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("missing expected flag --%s", name)
		}
	}
}

func TestNewRootCmdToleratesUnknownFlags(t *testing.T) {
	cmd := newRootCmd()
	var gotVoxWorker int
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		gotVoxWorker = voxWorkerFlag
		return nil
	}
	cmd.SetArgs([]string{"--vox-worker=2", "--some-unrecognized-flag=x"})
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() with an unknown flag should be tolerated, got: %v", err)
	}
	if gotVoxWorker != 2 {
		t.Errorf("vox-worker = %d, want 2", gotVoxWorker)
	}
}
