/*
Copyright 2017 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package events implements the rate-limited event recording layer:
// at most one event per (involved object, reason) per 60 seconds.
package events

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/record"
)

// Event reasons emitted on a HotStandbyDeployment.
const (
	ReasonReconciled        = "Reconciled"
	ReasonChildCreated      = "ChildCreated"
	ReasonChildScaled       = "ChildScaled"
	ReasonTemplateUpdated   = "TemplateUpdated"
	ReasonInvalidSpec       = "InvalidSpec"
	ReasonOwnershipConflict = "OwnershipConflict"
	ReasonProbeErrors       = "ProbeErrors"
)

const dedupeWindow = 60 * time.Second

// RateLimitedRecorder wraps a client-go EventRecorder, limiting each
// (involved object, reason) pair to one event per dedupeWindow so a
// flapping probe or conflict cannot flood the event stream.
type RateLimitedRecorder struct {
	recorder record.EventRecorder

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimitedRecorder wraps recorder.
func NewRateLimitedRecorder(recorder record.EventRecorder) *RateLimitedRecorder {
	return &RateLimitedRecorder{
		recorder: recorder,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Event records a Normal/Warning event on obj, subject to the dedupe
// window per (obj, reason).
func (r *RateLimitedRecorder) Event(obj runtime.Object, eventType, reason, message string) {
	key := dedupeKey(obj, reason)

	r.mu.Lock()
	lim, ok := r.limiters[key]
	if !ok {
		// Burst of 1, refilling once per window.
		lim = rate.NewLimiter(rate.Every(dedupeWindow), 1)
		r.limiters[key] = lim
	}
	allow := lim.Allow()
	r.mu.Unlock()

	if !allow {
		return
	}
	r.recorder.Event(obj, eventType, reason, message)
}

func dedupeKey(obj runtime.Object, reason string) string {
	type named interface {
		GetName() string
		GetNamespace() string
	}
	if n, ok := obj.(named); ok {
		return n.GetNamespace() + "/" + n.GetName() + "/" + reason
	}
	return reason
}

// Normal is a convenience wrapper for a Normal-type event.
func (r *RateLimitedRecorder) Normal(obj runtime.Object, reason, message string) {
	r.Event(obj, corev1.EventTypeNormal, reason, message)
}

// Warning is a convenience wrapper for a Warning-type event.
func (r *RateLimitedRecorder) Warning(obj runtime.Object, reason, message string) {
	r.Event(obj, corev1.EventTypeWarning, reason, message)
}
