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
	"time"

	"k8s.io/klog/v2"
)

type contextKey struct{}

// RecorderFromContext returns the recorder stored in ctx, or a LogRecorder.
func RecorderFromContext(ctx context.Context) Recorder {
	recorder, ok := ctx.Value(contextKey{}).(Recorder)
	if !ok || recorder == nil {
		return &LogRecorder{}
	}
	return recorder
}

func ContextWithRecorder(ctx context.Context, recorder Recorder) context.Context {
	return context.WithValue(ctx, contextKey{}, recorder)
}

type runIDKey struct{}

// ContextWithRunID tags events written under ctx with the given run id.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// Record writes an event for action to the recorder in ctx, stamped with the
// current time and the run id of ctx.
func Record(ctx context.Context, action string, payload any) {
	ev := &Event{
		Timestamp: time.Now(),
		RunID:     RunIDFromContext(ctx),
		Action:    action,
		Payload:   payload,
	}
	if err := RecorderFromContext(ctx).Write(ctx, ev); err != nil {
		klog.FromContext(ctx).Error(err, "writing journal event", "action", action)
	}
}
