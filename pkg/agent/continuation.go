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
	"fmt"

	"github.com/sysdesign-mentor/searchagent/pkg/api"
)

// Continuation is the outcome of inspecting the model's latest reply.
type Continuation int

const (
	// ContinuationEnd means the reply is a final answer.
	ContinuationEnd Continuation = iota
	// ContinuationContinue means the reply requests tool calls.
	ContinuationContinue
)

func (c Continuation) String() string {
	switch c {
	case ContinuationEnd:
		return "end"
	case ContinuationContinue:
		return "continue"
	default:
		return fmt.Sprintf("Continuation(%d)", int(c))
	}
}

// ShouldContinue looks only at the last message of conv, which must be an assistant message.
func ShouldContinue(conv *api.Conversation) (Continuation, error) {
	last := conv.Last()
	if last == nil {
		return ContinuationEnd, fmt.Errorf("%w: empty conversation", ErrInvariantViolation)
	}
	if last.Role != api.RoleAssistant {
		return ContinuationEnd, fmt.Errorf("%w: last message has role %q, want %q", ErrInvariantViolation, last.Role, api.RoleAssistant)
	}
	if last.HasToolCalls() {
		return ContinuationContinue, nil
	}
	return ContinuationEnd, nil
}
