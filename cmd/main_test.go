// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/sysdesign-mentor/searchagent/pkg/agent"
	"github.com/sysdesign-mentor/searchagent/pkg/sessions"
)

func TestInitDefaults(t *testing.T) {
	var opt Options
	opt.InitDefaults()

	if opt.ProviderID != "anthropic" {
		t.Errorf("ProviderID = %q, want anthropic", opt.ProviderID)
	}
	if opt.MaxIterations != agent.DefaultMaxIterations {
		t.Errorf("MaxIterations = %d", opt.MaxIterations)
	}
	if time.Duration(opt.StepTimeout) != agent.DefaultStepTimeout {
		t.Errorf("StepTimeout = %v", time.Duration(opt.StepTimeout))
	}
	if opt.SearchMaxResults != 1 {
		t.Errorf("SearchMaxResults = %d, want 1", opt.SearchMaxResults)
	}
	if diff := cmp.Diff(agent.RunConfig{Backend: "anthropic"}, opt.runConfig()); diff != "" {
		t.Errorf("runConfig mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfiguration(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		check   func(t *testing.T, opt Options)
		wantErr bool
	}{
		{
			name: "overrides",
			config: `
llmProvider: openai
model: gpt-4o-mini
maxIterations: 5
stepTimeout: 30s
searchMaxResults: 3
searchRateLimit: 0.5
extraPromptPaths:
- /etc/searchagent/extra.txt
`,
			check: func(t *testing.T, opt Options) {
				want := Options{
					ProviderID:       "openai",
					ModelID:          "gpt-4o-mini",
					MaxIterations:    5,
					StepTimeout:      Duration(30 * time.Second),
					SearchMaxResults: 3,
					SearchRateLimit:  0.5,
					ExtraPromptPaths: []string{"/etc/searchagent/extra.txt"},
					TracePath:        opt.TracePath,
				}
				if diff := cmp.Diff(want, opt); diff != "" {
					t.Errorf("options mismatch (-want +got):\n%s", diff)
				}
			},
		},
		{
			name:   "partial config keeps defaults",
			config: "quiet: true\n",
			check: func(t *testing.T, opt Options) {
				if !opt.Quiet || opt.ProviderID != "anthropic" || opt.MaxIterations != agent.DefaultMaxIterations {
					t.Errorf("unexpected options %+v", opt)
				}
			},
		},
		{
			name:    "bad duration",
			config:  "stepTimeout: soon\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opt Options
			opt.InitDefaults()
			err := opt.LoadConfiguration([]byte(tt.config))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadConfiguration: %v", err)
			}
			tt.check(t, opt)
		})
	}
}

func TestLoadConfigurationFile(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.yaml")
	second := filepath.Join(dir, "second.yaml")
	if err := os.WriteFile(first, []byte("llmProvider: openai\nmaxIterations: 7\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(second, []byte("maxIterations: 9\n"), 0644); err != nil {
		t.Fatal(err)
	}

	var opt Options
	opt.InitDefaults()
	if err := opt.LoadConfigurationFile([]string{first, filepath.Join(dir, "missing.yaml"), second}); err != nil {
		t.Fatalf("LoadConfigurationFile: %v", err)
	}
	if opt.ProviderID != "openai" || opt.MaxIterations != 9 {
		t.Errorf("got provider %q and max iterations %d, want openai and 9", opt.ProviderID, opt.MaxIterations)
	}
}

func TestBindCLIFlags(t *testing.T) {
	var opt Options
	opt.InitDefaults()
	cmd, err := BuildRootCommand(&opt)
	if err != nil {
		t.Fatalf("BuildRootCommand: %v", err)
	}

	err = cmd.PersistentFlags().Parse([]string{
		"--llm-provider=openai",
		"--model=gpt-4o-mini",
		"--max-iterations=3",
		"--step-timeout=45s",
		"--search-max-results=2",
		"--search-rate-limit=0",
		"--extra-prompt-paths=a.txt",
		"--extra-prompt-paths=b.txt",
		"--quiet",
	})
	if err != nil {
		t.Fatalf("parsing flags: %v", err)
	}

	if opt.ProviderID != "openai" || opt.ModelID != "gpt-4o-mini" || opt.MaxIterations != 3 {
		t.Errorf("unexpected model flags %+v", opt)
	}
	if time.Duration(opt.StepTimeout) != 45*time.Second {
		t.Errorf("StepTimeout = %v, want 45s", time.Duration(opt.StepTimeout))
	}
	if opt.SearchMaxResults != 2 || opt.SearchRateLimit != 0 || !opt.Quiet {
		t.Errorf("unexpected search flags %+v", opt)
	}
	if diff := cmp.Diff([]string{"a.txt", "b.txt"}, opt.ExtraPromptPaths); diff != "" {
		t.Errorf("extra prompt paths mismatch (-want +got):\n%s", diff)
	}
}

func TestVersionCommand(t *testing.T) {
	var opt Options
	opt.InitDefaults()
	cmd, err := BuildRootCommand(&opt)
	if err != nil {
		t.Fatalf("BuildRootCommand: %v", err)
	}
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out.String(), "version: dev") {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestRunRootCommandRejectsUnknownProvider(t *testing.T) {
	var opt Options
	opt.InitDefaults()
	opt.ProviderID = "gemini"

	err := RunRootCommand(context.Background(), opt, []string{"hello"})
	if !errors.Is(err, agent.ErrUnsupportedBackend) {
		t.Errorf("expected ErrUnsupportedBackend, got %v", err)
	}
}

func TestResolveQueryInput(t *testing.T) {
	tests := []struct {
		name     string
		hasStdin bool
		args     []string
		stdin    string
		want     string
		wantErr  bool
	}{
		{name: "argument", args: []string{"what is CQRS?"}, want: "what is CQRS?"},
		{name: "stdin", hasStdin: true, stdin: "  what is CQRS?\n", want: "what is CQRS?"},
		{name: "argument and stdin", hasStdin: true, args: []string{"review this design"}, stdin: "a queue\na cache\n", want: "review this design\na queue\na cache"},
		{name: "empty stdin", hasStdin: true, stdin: "\n\n", wantErr: true},
		{name: "nothing", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveQueryInput(tt.hasStdin, tt.args, strings.NewReader(tt.stdin))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("query = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestListAndDeleteSessions(t *testing.T) {
	manager, err := sessions.NewSessionManagerAt(t.TempDir())
	if err != nil {
		t.Fatalf("NewSessionManagerAt: %v", err)
	}

	var out bytes.Buffer
	if err := listSessions(&out, manager); err != nil {
		t.Fatalf("listSessions: %v", err)
	}
	if !strings.Contains(out.String(), "No sessions found.") {
		t.Errorf("unexpected output %q", out.String())
	}

	session, err := manager.NewSession(sessions.Metadata{Backend: "openai", Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	out.Reset()
	if err := listSessions(&out, manager); err != nil {
		t.Fatalf("listSessions: %v", err)
	}
	if !strings.Contains(out.String(), session.ID) || !strings.Contains(out.String(), "gpt-4o") {
		t.Errorf("expected session %s in %q", session.ID, out.String())
	}

	out.Reset()
	if err := deleteSession(strings.NewReader("n\n"), &out, manager, session.ID); err != nil {
		t.Fatalf("deleteSession: %v", err)
	}
	if !strings.Contains(out.String(), "Deletion cancelled.") {
		t.Errorf("unexpected output %q", out.String())
	}
	if _, err := manager.FindSessionByID(session.ID); err != nil {
		t.Fatalf("session was deleted without confirmation: %v", err)
	}

	out.Reset()
	if err := deleteSession(strings.NewReader("y\n"), &out, manager, session.ID); err != nil {
		t.Fatalf("deleteSession: %v", err)
	}
	if _, err := manager.FindSessionByID(session.ID); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}

	if err := deleteSession(strings.NewReader("y\n"), &out, manager, "missing"); err == nil {
		t.Error("expected error deleting a missing session")
	}
}
