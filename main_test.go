package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

type mockApp struct {
	opts   AppOptions
	called map[string]bool
	args   []string
}

func newMockApp() *mockApp {
	return &mockApp{
		called: make(map[string]bool),
	}
}

func (m *mockApp) ApplyOptions(opts AppOptions) { m.opts = opts }

func (m *mockApp) RunSubmaps(_ context.Context, path string) error {
	m.called["RunSubmaps"] = true
	m.args = []string{path}
	return nil
}

func (m *mockApp) RunAlign(_ context.Context, a, b string) error {
	m.called["RunAlign"] = true
	m.args = []string{a, b}
	return nil
}

func (m *mockApp) RunConcat(_ context.Context, out string, inputs []string) error {
	m.called["RunConcat"] = true
	m.args = append([]string{out}, inputs...)
	return nil
}

func (m *mockApp) RunListRuns(context.Context) error {
	m.called["RunListRuns"] = true
	return nil
}

func TestRun_Commands(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		expectedCalled string
		expectedArgs   []string
		verifyOpts     func(*testing.T, AppOptions)
	}{
		{
			name:           "Submaps",
			args:           []string{"submaps", "map.json", "--gt", "gt.json", "-o", "/tmp/out"},
			expectedCalled: "RunSubmaps",
			expectedArgs:   []string{"map.json"},
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.GroundTruth != "gt.json" {
					t.Errorf("expected GroundTruth gt.json, got %s", opts.GroundTruth)
				}
				if opts.OutputDir != "/tmp/out" {
					t.Errorf("expected OutputDir /tmp/out, got %s", opts.OutputDir)
				}
			},
		},
		{
			name:           "Align",
			args:           []string{"--config", "c.yaml", "align", "a.json", "b.json", "--segment-slam", "--robot-a", "acl_jackal", "--robot-b", "acl_jackal2", "--publish"},
			expectedCalled: "RunAlign",
			expectedArgs:   []string{"a.json", "b.json"},
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.ConfigFile != "c.yaml" {
					t.Errorf("expected ConfigFile c.yaml, got %s", opts.ConfigFile)
				}
				if !opts.SegmentSlam {
					t.Error("expected SegmentSlam true")
				}
				if opts.RobotA != "acl_jackal" || opts.RobotB != "acl_jackal2" {
					t.Errorf("unexpected robots %q %q", opts.RobotA, opts.RobotB)
				}
				if !opts.Publish {
					t.Error("expected Publish true")
				}
			},
		},
		{
			name:           "AlignNoStore",
			args:           []string{"align", "a.json", "b.json", "--no-store", "-v"},
			expectedCalled: "RunAlign",
			expectedArgs:   []string{"a.json", "b.json"},
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if !opts.NoStore {
					t.Error("expected NoStore true")
				}
				if !opts.Verbose {
					t.Error("expected Verbose true")
				}
			},
		},
		{
			name:           "Concat",
			args:           []string{"concat", "out.json", "a.json", "b.json", "c.json"},
			expectedCalled: "RunConcat",
			expectedArgs:   []string{"out.json", "a.json", "b.json", "c.json"},
		},
		{
			name:           "Runs",
			args:           []string{"runs"},
			expectedCalled: "RunListRuns",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newMockApp()
			var out bytes.Buffer
			err := run(tt.args, &out, app)
			if err != nil {
				t.Fatalf("run failed: %v", err)
			}

			if !app.called[tt.expectedCalled] {
				t.Errorf("expected %s to be called", tt.expectedCalled)
			}
			if tt.expectedArgs != nil && strings.Join(app.args, " ") != strings.Join(tt.expectedArgs, " ") {
				t.Errorf("expected args %v, got %v", tt.expectedArgs, app.args)
			}
			if app.opts.Out != &out {
				t.Error("expected output writer to be passed through")
			}

			if tt.verifyOpts != nil {
				tt.verifyOpts(t, app.opts)
			}
		})
	}
}

func TestRun_ArgValidation(t *testing.T) {
	tests := [][]string{
		{"submaps"},
		{"align", "a.json"},
		{"concat", "out.json"},
		{"runs", "extra"},
		{"bogus"},
	}
	for _, args := range tests {
		t.Run(strings.Join(args, "_"), func(t *testing.T) {
			app := newMockApp()
			var out bytes.Buffer
			if err := run(args, &out, app); err == nil {
				t.Errorf("expected error for %v", args)
			}
			if len(app.called) != 0 {
				t.Errorf("expected no command to run, got %v", app.called)
			}
		})
	}
}

func TestRun_Help(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	if err := run([]string{"--help"}, &out, app); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(out.String(), "submesh [command]") {
		t.Errorf("expected usage info in output, got: %s", out.String())
	}
}

func TestRun_Default(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	err := run([]string{}, &out, app)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	expectedPrefix := "submesh version: " + Version
	if !strings.Contains(out.String(), expectedPrefix) {
		t.Errorf("expected output to contain version, got: %s", out.String())
	}
	if !strings.Contains(out.String(), "Available Commands") {
		t.Errorf("expected command list, got: %s", out.String())
	}
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"version"}, &out, newMockApp()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if strings.TrimSpace(out.String()) != "submesh version: "+Version {
		t.Errorf("unexpected version output: %q", out.String())
	}
}
