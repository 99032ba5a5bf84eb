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
	"context"
	"io"

	"github.com/sysdesign-mentor/searchagent/pkg/api"
)

type Agent interface {
	// Close should be called to free up resources
	io.Closer

	// RunOneRound adds the query to the conversation and runs the agent loop
	// until the model gives a final answer, which is returned.
	RunOneRound(ctx context.Context, query string) (*api.Message, error)
}
