package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRootCmd_subcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"node", "central"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("Find(%q) = %v, %v", name, cmd, err)
		}
	}
}

func TestRootCmd_rejectsBadConfig(t *testing.T) {
	t.Setenv("APP_ENV", "staging")
	root := newRootCmd()
	root.SetArgs([]string{"--env-file", t.TempDir() + "/missing.env", "central"})
	root.SetOut(&bytes.Buffer{})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "APP_ENV") {
		t.Fatalf("Execute = %v, want APP_ENV error", err)
	}
}
