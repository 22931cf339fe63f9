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

// Package metrics holds the process's Prometheus collectors, gathered
// into a dedicated registry alongside the Go/process collectors rather
// than the global DefaultRegisterer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hotstandby"

var (
	// ReconcileDuration records how long each Reconcile call takes.
	ReconcileDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "reconcile_duration_seconds",
		Help:      "Duration of HotStandbyDeployment reconcile calls.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"outcome"})

	// BusyPods is the last-observed busy pod count per HSW.
	BusyPods = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "busy_pods",
		Help:      "Number of selected pods last observed busy.",
	}, []string{"namespace", "name"})

	// IdlePods is the last-observed idle pod count per HSW.
	IdlePods = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "idle_pods",
		Help:      "Number of selected pods last observed idle.",
	}, []string{"namespace", "name"})

	// DesiredReplicas is the last computed desired replica count per HSW.
	DesiredReplicas = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "desired_replicas",
		Help:      "Desired replica count last written to status.",
	}, []string{"namespace", "name"})

	// ProbeErrorsTotal counts busy-probe failures by mode.
	ProbeErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "probe_errors_total",
		Help:      "Total busy-probe failures, by probe mode.",
	}, []string{"mode"})
)

// Registry builds a fresh prometheus.Registry with the Go/process
// collectors plus this package's collectors.
func Registry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		ReconcileDuration,
		BusyPods,
		IdlePods,
		DesiredReplicas,
		ProbeErrorsTotal,
	)
	return reg
}
