// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package agent

import (
	"errors"
	"fmt"

	"github.com/sysdesign-mentor/searchagent/pkg/api"
)

var (
	// ErrUnsupportedBackend is wrapped by the ConfigError returned for unknown backend names.
	ErrUnsupportedBackend = errors.New("unsupported model backend")

	// ErrInvariantViolation means the conversation is not in a state the loop can handle.
	// It indicates a wiring defect rather than a user error.
	ErrInvariantViolation = errors.New("conversation invariant violated")

	// ErrLoopLimitExceeded is returned when a run needs more agent steps than allowed.
	ErrLoopLimitExceeded = errors.New("maximum number of agent steps exceeded")
)

// ConfigError reports an invalid run configuration. It is never retried.
type ConfigError struct {
	Field string
	Value string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// RunError is returned when a run fails after it started.
// State holds the conversation up to the failure so the caller can retry from it.
type RunError struct {
	Step      Step
	Iteration int
	State     *api.Conversation
	Err       error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run failed in %s step (iteration %d, %d messages): %v", e.Step, e.Iteration, e.State.Len(), e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}
