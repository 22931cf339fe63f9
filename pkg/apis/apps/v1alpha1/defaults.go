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

package v1alpha1

// SetDefaults mutates hsw in place, filling every optional spec field
// with its documented default. It is idempotent and safe to call on
// every reconcile.
func SetDefaults(hsw *HotStandbyDeployment) {
	if hsw.Spec.MinReplicas == nil {
		zero := int32(0)
		hsw.Spec.MinReplicas = &zero
	}
	if hsw.Spec.MaxReplicas == nil {
		max := int32(DefaultMaxReplicas)
		hsw.Spec.MaxReplicas = &max
	}
	if hsw.Spec.ScaleDownDelaySeconds == nil {
		zero := int32(0)
		hsw.Spec.ScaleDownDelaySeconds = &zero
	}

	if hsw.Spec.BusyProbe.Mode == "" {
		hsw.Spec.BusyProbe.Mode = BusyProbeModeAnnotation
	}
	if hsw.Spec.BusyProbe.AnnotationKey == "" {
		hsw.Spec.BusyProbe.AnnotationKey = DefaultAnnotationKey
	}
	if hsw.Spec.BusyProbe.Mode == BusyProbeModeHTTP {
		if hsw.Spec.BusyProbe.HTTP == nil {
			hsw.Spec.BusyProbe.HTTP = &HTTPProbeSpec{}
		}
		http := hsw.Spec.BusyProbe.HTTP
		if http.Port == 0 {
			http.Port = DefaultHTTPPort
		}
		if http.Path == "" {
			http.Path = DefaultHTTPPath
		}
		if http.SuccessIsBusy == nil {
			t := true
			http.SuccessIsBusy = &t
		}
		if http.TimeoutSeconds == 0 {
			http.TimeoutSeconds = DefaultHTTPTimeoutSeconds
		}
		if http.PeriodSeconds == 0 {
			http.PeriodSeconds = DefaultHTTPPeriodSeconds
		}
	}
}

// ChildWorkloadName returns the name of the child Deployment that
// realizes a HotStandbyDeployment's pod template.
func ChildWorkloadName(hswName string) string {
	return hswName + "-workload"
}
