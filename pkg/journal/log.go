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

package journal

import (
	"context"

	"k8s.io/klog/v2"
)

// LogRecorder writes events to the klog logger of the context instead of a file.
// Failed runs are logged unconditionally; other events at Verbosity, 2 when unset.
type LogRecorder struct {
	Verbosity klog.Level
}

var _ Recorder = &LogRecorder{}

func (r *LogRecorder) Write(ctx context.Context, event *Event) error {
	log := klog.FromContext(ctx).WithValues("action", event.Action, "runID", event.RunID)

	if event.Action == ActionRunFailed {
		log.Info("Run failed", "payload", event.Payload)
		return nil
	}

	verbosity := r.Verbosity
	if verbosity == 0 {
		verbosity = 2
	}
	log.V(int(verbosity)).Info("Tracing event", "payload", event.Payload)
	return nil
}

func (r *LogRecorder) Close() error {
	return nil
}
