package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func withArgs(t *testing.T, args ...string) {
	t.Helper()
	orig := os.Args
	os.Args = append([]string{"content-router"}, args...)
	t.Cleanup(func() { os.Args = orig })
}

func TestRunMain(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"version", []string{"version"}, 0},
		{"classify", []string{"classify", "clip.mp4"}, 0},
		{"unknown command", []string{"teleport"}, 1},
		{"select with bad strategy", []string{"select", "clip.mp4", "--strategy", "telepathy"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withArgs(t, tt.args...)
			assert.Equal(t, tt.want, runMain())
		})
	}
}
