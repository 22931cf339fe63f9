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

// Package probe implements the busy-probe engine: a {pod -> busy?}
// table maintained per HotStandbyDeployment, with two interchangeable
// strategies (annotation snapshot, periodic HTTP poll) sharing the
// same table shape.
package probe

import (
	"time"

	"k8s.io/apimachinery/pkg/types"
)

// PodIdentity is the key of the busy-state table: a pod's
// (namespace, name, uid).
type PodIdentity struct {
	Namespace string
	Name      string
	UID       types.UID
}

// Entry is one pod's busy-state table value.
type Entry struct {
	Busy           bool
	LastObserved   time.Time
	LastProbeError string
}

// Snapshot is a consistent point-in-time view of one HSW's busy table.
type Snapshot struct {
	// AsOf is when this snapshot's data was last updated: the
	// watcher-cache time in annotation mode, the last probe-cycle
	// completion time in http mode.
	AsOf time.Time
	// Entries is keyed by PodIdentity. Callers must not mutate it; it
	// is a copy.
	Entries map[PodIdentity]Entry
}

// Busy reports whether id is known-busy in the snapshot. A pod with no
// table entry reads as idle: in annotation mode that is the optimistic
// default for an unobserved pod, in http mode the last known value is
// already baked into the entry each cycle upserts.
func (s Snapshot) Busy(id PodIdentity) bool {
	e, ok := s.Entries[id]
	return ok && e.Busy
}

// Stale reports whether AsOf is older than maxAge, signaling the
// reconciler should schedule an early requeue.
func (s Snapshot) Stale(maxAge time.Duration) bool {
	if s.AsOf.IsZero() {
		return true
	}
	return time.Since(s.AsOf) > maxAge
}

// BusyProber is the contract the reconciler depends on. Two variants
// exist (annotation snapshot, periodic HTTP poll); which one backs a
// given HSW is decided at admission/update time and is invisible to
// callers of Snapshot.
type BusyProber interface {
	// Snapshot returns the current busy-state view for hswKey, pruned
	// to the pods in selected. It never returns an error: on any
	// internal failure it returns the most recent snapshot it has,
	// possibly stale or empty.
	Snapshot(hswKey types.NamespacedName, selected []PodIdentity) Snapshot

	// Close stops any background work (e.g. the http mode's periodic
	// scheduler) associated with this prober.
	Close()
}

// StaleAfterAnnotation is the freshness bound the reconciler applies
// in annotation mode.
const StaleAfterAnnotation = 30 * time.Second

// StaleAfterHTTP returns the freshness bound the reconciler applies in
// http mode: 2x the configured probe period.
func StaleAfterHTTP(period time.Duration) time.Duration {
	return 2 * period
}
