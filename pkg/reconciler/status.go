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

package reconciler

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"k8s.io/apimachinery/pkg/api/equality"
	kerrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	appsv1alpha1 "github.com/taro0513/HotStandbyDeployment/pkg/apis/apps/v1alpha1"
)

const maxStatusConflictRetries = 3

// desiredStatus computes the status fields from a reconcile's outcome.
// The condition is appended/merged via a SetStatusCondition-style
// upsert.
func desiredStatus(existing appsv1alpha1.HotStandbyDeploymentStatus, busy, idle, desired int32, generation int64, condType string, condStatus metav1.ConditionStatus, reason, message string) appsv1alpha1.HotStandbyDeploymentStatus {
	out := *existing.DeepCopy()
	out.BusyCount = busy
	out.IdleCount = idle
	out.DesiredReplicas = desired
	out.ObservedGeneration = generation
	out.Conditions = upsertCondition(out.Conditions, metav1.Condition{
		Type:               condType,
		Status:             condStatus,
		Reason:             reason,
		Message:            message,
		ObservedGeneration: generation,
	})
	return out
}

func upsertCondition(conds []metav1.Condition, next metav1.Condition) []metav1.Condition {
	for i := range conds {
		if conds[i].Type == next.Type {
			if conds[i].Status != next.Status {
				next.LastTransitionTime = metav1.Now()
			} else {
				next.LastTransitionTime = conds[i].LastTransitionTime
			}
			conds[i] = next
			return conds
		}
	}
	next.LastTransitionTime = metav1.Now()
	return append(conds, next)
}

// statusEqual reports whether two statuses are equal for the purpose
// of skipping a redundant API write.
func statusEqual(a, b appsv1alpha1.HotStandbyDeploymentStatus) bool {
	return equality.Semantic.DeepEqual(a, b)
}

// updateStatus writes the status subresource if it differs from what's
// already stored, retrying on conflict up to maxStatusConflictRetries
// times with a fresh read each time.
func updateStatus(ctx context.Context, c client.Client, key types.NamespacedName, next appsv1alpha1.HotStandbyDeploymentStatus) error {
	var errs error
	for attempt := 0; attempt <= maxStatusConflictRetries; attempt++ {
		var current appsv1alpha1.HotStandbyDeployment
		if err := c.Get(ctx, key, &current); err != nil {
			if kerrors.IsNotFound(err) {
				return nil
			}
			return fmt.Errorf("re-reading %s before status update: %w", key, err)
		}
		if statusEqual(current.Status, next) {
			return nil
		}
		current.Status = next
		err := c.Status().Update(ctx, &current)
		if err == nil {
			return nil
		}
		if !kerrors.IsConflict(err) {
			return fmt.Errorf("updating status of %s: %w", key, err)
		}
		errs = multierr.Append(errs, err)
	}
	return fmt.Errorf("status update on %s exhausted retries: %w", key, errs)
}
