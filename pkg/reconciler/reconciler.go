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

// Package reconciler holds the per-key reconcile algorithm: given one
// HotStandbyDeployment, compute the desired replica count from the
// busy-probe snapshot, converge the child Deployment to it while
// preserving authorship, and write status.
package reconciler

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	kerrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	appsv1alpha1 "github.com/taro0513/HotStandbyDeployment/pkg/apis/apps/v1alpha1"
	"github.com/taro0513/HotStandbyDeployment/pkg/events"
	"github.com/taro0513/HotStandbyDeployment/pkg/metrics"
	"github.com/taro0513/HotStandbyDeployment/pkg/probe"
)

// DefaultRequeueInterval is the bounded interval every successful
// reconcile re-enqueues at, to close the loop against missed events.
const DefaultRequeueInterval = 30 * time.Second

// LongBackoffInterval is used for InvalidSpec/OwnershipConflict, which
// should not retry aggressively.
const LongBackoffInterval = 5 * time.Minute

// reconcileTimeout bounds a single Reconcile call end to end.
const reconcileTimeout = 30 * time.Second

// Reconciler implements controller.Reconciler.
type Reconciler struct {
	Client   client.Client
	Probes   probe.BusyProber
	Recorder *events.RateLimitedRecorder

	// RequeueInterval overrides DefaultRequeueInterval; zero means use
	// the default.
	RequeueInterval time.Duration
}

// Reconcile runs one end-to-end pass for req's HotStandbyDeployment.
func (r *Reconciler) Reconcile(ctx context.Context, req reconcile.Request) (_ reconcile.Result, reconcileErr error) {
	ctx, cancel := context.WithTimeout(ctx, reconcileTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		outcome := "success"
		if reconcileErr != nil {
			outcome = "error"
		}
		metrics.ReconcileDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	// Step 1: load HSW.
	var hsw appsv1alpha1.HotStandbyDeployment
	if err := r.Client.Get(ctx, req.NamespacedName, &hsw); err != nil {
		if kerrors.IsNotFound(err) {
			return reconcile.Result{}, nil
		}
		return reconcile.Result{}, fmt.Errorf("getting %s: %w", req.NamespacedName, err)
	}
	appsv1alpha1.SetDefaults(&hsw)

	// Invalid specs are surfaced but never mutate the child.
	if invalid, reason := validate(&hsw); invalid {
		r.Recorder.Warning(&hsw, events.ReasonInvalidSpec, reason)
		status := desiredStatus(hsw.Status, hsw.Status.BusyCount, hsw.Status.IdleCount, hsw.Status.DesiredReplicas,
			hsw.Generation, appsv1alpha1.ConditionTypeInvalidSpec, metav1.ConditionTrue, "InvalidSpec", reason)
		if err := updateStatus(ctx, r.Client, req.NamespacedName, status); err != nil {
			return reconcile.Result{}, err
		}
		return reconcile.Result{RequeueAfter: LongBackoffInterval}, nil
	}

	// Step 2: resolve child name.
	childName := appsv1alpha1.ChildWorkloadName(hsw.Name)

	// Step 3: list selected pods.
	selected, err := r.listSelectedPods(ctx, &hsw)
	if err != nil {
		return reconcile.Result{}, fmt.Errorf("listing selected pods for %s: %w", req.NamespacedName, err)
	}

	// Keep the busy-probe engine's configuration for this HSW current;
	// a probe-mode change tears down and rebuilds its table.
	if reg, ok := r.Probes.(registerer); ok {
		reg.RegisterOrUpdate(ctx, &hsw)
	}

	// Step 4: count busy.
	ids := make([]probe.PodIdentity, 0, len(selected))
	for _, p := range selected {
		ids = append(ids, probe.PodIdentity{Namespace: p.Namespace, Name: p.Name, UID: p.UID})
	}
	snap := r.Probes.Snapshot(req.NamespacedName, ids)

	var busyCount int32
	probeErrs := 0
	for _, id := range ids {
		if snap.Busy(id) {
			busyCount++
		}
		if e, ok := snap.Entries[id]; ok && e.LastProbeError != "" {
			probeErrs++
		}
	}
	idleCount := int32(len(selected)) - busyCount

	if probeErrs > 0 {
		r.Recorder.Warning(&hsw, events.ReasonProbeErrors,
			fmt.Sprintf("%d of %d selected pods failed their last busy probe", probeErrs, len(selected)))
	}

	// Step 5: compute desired.
	desired := clamp(busyCount+hsw.Spec.IdleTarget, *hsw.Spec.MinReplicas, *hsw.Spec.MaxReplicas)

	metrics.BusyPods.WithLabelValues(hsw.Namespace, hsw.Name).Set(float64(busyCount))
	metrics.IdlePods.WithLabelValues(hsw.Namespace, hsw.Name).Set(float64(idleCount))
	metrics.DesiredReplicas.WithLabelValues(hsw.Namespace, hsw.Name).Set(float64(desired))

	// Step 6: reconcile child workload.
	childResult, err := r.reconcileChild(ctx, &hsw, childName, desired)
	if err != nil {
		return reconcile.Result{}, fmt.Errorf("reconciling child workload for %s: %w", req.NamespacedName, err)
	}

	condType := appsv1alpha1.ConditionTypeReady
	condStatus := metav1.ConditionTrue
	reason := "Reconciled"
	message := fmt.Sprintf("busy=%d idle=%d desired=%d", busyCount, idleCount, desired)
	if childResult.ownershipConflict {
		condType = appsv1alpha1.ConditionTypeOwnershipConflict
		condStatus = metav1.ConditionFalse
		reason = "OwnershipConflict"
		message = fmt.Sprintf("%s exists and is not owned by this HotStandbyDeployment", childName)
		r.Recorder.Warning(&hsw, events.ReasonOwnershipConflict, message)
	} else {
		r.Recorder.Normal(&hsw, events.ReasonReconciled, message)
	}

	// Step 7: write status.
	status := desiredStatus(hsw.Status, busyCount, idleCount, desired, hsw.Generation, condType, condStatus, reason, message)
	if childResult.scaleDownCandidateAt != nil {
		status.LastScaleDownCandidateAt = childResult.scaleDownCandidateAt
	} else if desired >= hsw.Status.DesiredReplicas {
		status.LastScaleDownCandidateAt = nil
	}
	if err := updateStatus(ctx, r.Client, req.NamespacedName, status); err != nil {
		return reconcile.Result{}, err
	}

	// Step 8: requeue.
	if childResult.ownershipConflict {
		return reconcile.Result{RequeueAfter: LongBackoffInterval}, nil
	}
	interval := r.RequeueInterval
	if interval <= 0 {
		interval = DefaultRequeueInterval
	}
	staleBound := probe.StaleAfterAnnotation
	if hsw.Spec.BusyProbe.Mode == appsv1alpha1.BusyProbeModeHTTP && hsw.Spec.BusyProbe.HTTP != nil {
		staleBound = probe.StaleAfterHTTP(time.Duration(hsw.Spec.BusyProbe.HTTP.PeriodSeconds) * time.Second)
	}
	if snap.Stale(staleBound) {
		half := interval / 2
		if half > 0 {
			interval = half
		}
	}
	return reconcile.Result{RequeueAfter: interval}, nil
}

// registerer is satisfied by *probe.Engine; reconciler depends on it
// only through this narrow interface so tests can supply a fake
// BusyProber without also faking admission bookkeeping.
type registerer interface {
	RegisterOrUpdate(ctx context.Context, hsw *appsv1alpha1.HotStandbyDeployment)
}

func validate(hsw *appsv1alpha1.HotStandbyDeployment) (bool, string) {
	switch {
	case hsw.Spec.Selector == nil || len(hsw.Spec.Selector.MatchLabels) == 0:
		return true, "selector.matchLabels must be non-empty"
	case hsw.Spec.IdleTarget < 0:
		return true, "idleTarget must be >= 0"
	case *hsw.Spec.MinReplicas > *hsw.Spec.MaxReplicas:
		return true, fmt.Sprintf("minReplicas (%d) > maxReplicas (%d)", *hsw.Spec.MinReplicas, *hsw.Spec.MaxReplicas)
	}
	return false, ""
}

func clamp(v, min, max int32) int32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func (r *Reconciler) listSelectedPods(ctx context.Context, hsw *appsv1alpha1.HotStandbyDeployment) ([]corev1.Pod, error) {
	sel, err := metav1.LabelSelectorAsSelector(hsw.Spec.Selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector: %w", err)
	}
	var list corev1.PodList
	if err := r.Client.List(ctx, &list, client.InNamespace(hsw.Namespace), client.MatchingLabelsSelector{Selector: sel}); err != nil {
		return nil, err
	}
	out := make([]corev1.Pod, 0, len(list.Items))
	for _, pod := range list.Items {
		if pod.DeletionTimestamp != nil {
			continue
		}
		if pod.Status.Phase == corev1.PodSucceeded || pod.Status.Phase == corev1.PodFailed {
			continue
		}
		out = append(out, pod)
	}
	return out, nil
}
