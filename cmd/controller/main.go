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

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/record"
	"k8s.io/client-go/util/homedir"
	"k8s.io/klog/v2"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/client"
	crlog "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/manager"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	appsv1alpha1 "github.com/taro0513/HotStandbyDeployment/pkg/apis/apps/v1alpha1"
	"github.com/taro0513/HotStandbyDeployment/pkg/controller"
	"github.com/taro0513/HotStandbyDeployment/pkg/events"
	"github.com/taro0513/HotStandbyDeployment/pkg/logging"
	"github.com/taro0513/HotStandbyDeployment/pkg/metrics"
	"github.com/taro0513/HotStandbyDeployment/pkg/probe"
	"github.com/taro0513/HotStandbyDeployment/pkg/reconciler"
	"github.com/taro0513/HotStandbyDeployment/pkg/signals"
)

func main() {
	var kubeconfig *string
	if home := homedir.HomeDir(); home != "" {
		kubeconfig = flag.String("kubeconfig", filepath.Join(home, ".kube", "config"), "(optional) absolute path to the kubeconfig file")
	} else {
		kubeconfig = flag.String("kubeconfig", "", "absolute path to the kubeconfig file")
	}
	var (
		apiserverURL     = flag.String("apiserver", "", "URL to the Kubernetes API server.")
		namespace        = flag.String("namespace", "", "Namespace to watch.")
		allNamespaces    = flag.Bool("all-namespaces", false, "Watch every namespace. Mutually exclusive with --namespace.")
		workers          = flag.Int("workers", 2, "Number of reconcile workers.")
		leaderElect      = flag.Bool("leader-elect", false, "Enable leader election for controller manager HA.")
		probeConcurrency = flag.Int("probe-concurrency", 16, "Max concurrent HTTP busy-probes per HotStandbyDeployment.")
		metricsAddr      = flag.String("metrics-addr", ":8080", "Address to emit Prometheus metrics on.")
		requeueInterval  = flag.Duration("requeue-interval", reconciler.DefaultRequeueInterval, "Bound on how long a successful reconcile can go without re-running.")
		logLevel         = flag.String("log-level", logging.LevelInfo,
			fmt.Sprintf("Log level. One of: %s", strings.Join([]string{logging.LevelDebug, logging.LevelInfo, logging.LevelWarn, logging.LevelError}, ", ")))
	)
	flag.Parse()

	logger, err := logging.New("controller", *logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating logger failed: %s\n", err)
		os.Exit(1)
	}
	crlog.SetLogger(logger)
	klog.SetLogger(logger)
	utilruntime.ErrorHandlers = []func(error){
		func(err error) {
			logger.Error(err, "unhandled error")
		},
	}

	if *allNamespaces && *namespace != "" {
		logger.Info("--namespace and --all-namespaces are mutually exclusive")
		os.Exit(1)
	}
	if *allNamespaces {
		*namespace = ""
	}

	runtimeScheme := runtime.NewScheme()
	lo.Must0(clientgoscheme(runtimeScheme))
	lo.Must0(appsv1alpha1.AddToScheme(runtimeScheme))

	cfg, err := clientcmd.BuildConfigFromFlags(*apiserverURL, *kubeconfig)
	if err != nil {
		logger.Error(err, "building kubeconfig failed")
		os.Exit(1)
	}
	// Bound write traffic against the API server.
	cfg.QPS = 20
	cfg.Burst = 40

	cacheOpts := cache.Options{}
	if *namespace != "" {
		cacheOpts.DefaultNamespaces = map[string]cache.Config{*namespace: {}}
	}

	mgr, err := manager.New(cfg, manager.Options{
		Scheme:                  runtimeScheme,
		Cache:                   cacheOpts,
		LeaderElection:          *leaderElect,
		LeaderElectionID:        "hotstandby-controller-leader",
		LeaderElectionNamespace: leaderElectionNamespace(*namespace),
		// The controller runs its own /metrics server below (registered
		// collectors live under pkg/metrics), so the manager's built-in
		// metrics server stays off.
		Metrics: metricsserver.Options{BindAddress: "0"},
	})
	if err != nil {
		logger.Error(err, "building manager failed")
		os.Exit(1)
	}

	registry := metrics.Registry()

	eventBroadcaster := record.NewBroadcaster()
	eventBroadcaster.StartStructuredLogging(0)
	eventBroadcaster.StartRecordingToSink(&clientEventSink{client: mgr.GetClient()})
	recorder := events.NewRateLimitedRecorder(
		eventBroadcaster.NewRecorder(runtimeScheme, corev1.EventSource{Component: "hotstandby-controller"}),
	)

	probeEngine := probe.NewEngine(mgr.GetClient(), *probeConcurrency)
	defer probeEngine.Close()

	recon := &reconciler.Reconciler{
		Client:          mgr.GetClient(),
		Probes:          probeEngine,
		Recorder:        recorder,
		RequeueInterval: *requeueInterval,
	}

	ctl, err := controller.New(mgr, probeEngine, recon)
	if err != nil {
		logger.Error(err, "building controller failed")
		os.Exit(1)
	}

	var g run.Group
	{
		execute, interrupt := signals.Actor(logger)
		g.Add(execute, interrupt)
	}
	{
		server := &http.Server{Addr: *metricsAddr, Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})}
		g.Add(func() error {
			logger.Info("serving metrics", "addr", *metricsAddr)
			return server.ListenAndServe()
		}, func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			_ = server.Shutdown(ctx)
		})
	}
	{
		ctx, cancel := context.WithCancel(context.Background())
		g.Add(func() error {
			return mgr.Start(ctx)
		}, func(error) {
			cancel()
		})
	}
	{
		ctx, cancel := context.WithCancel(context.Background())
		g.Add(func() error {
			return ctl.Run(ctx, *workers)
		}, func(error) {
			cancel()
		})
	}

	if err := g.Run(); err != nil {
		logger.Error(err, "exit with error")
		if strings.Contains(err.Error(), "leader election lost") {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func clientgoscheme(s *runtime.Scheme) error {
	return scheme.AddToScheme(s)
}

func leaderElectionNamespace(namespace string) string {
	if namespace != "" {
		return namespace
	}
	return "default"
}

// clientEventSink adapts controller-runtime's client.Client to the
// record.EventSink interface the broadcaster writes through, avoiding
// a second direct dependency on a typed clientset purely for events.
type clientEventSink struct {
	client client.Client
}

func (s *clientEventSink) Create(event *corev1.Event) (*corev1.Event, error) {
	return event, s.client.Create(context.Background(), event)
}

func (s *clientEventSink) Update(event *corev1.Event) (*corev1.Event, error) {
	return event, s.client.Update(context.Background(), event)
}

func (s *clientEventSink) Patch(oldEvent *corev1.Event, data []byte) (*corev1.Event, error) {
	patched := oldEvent.DeepCopy()
	return patched, s.client.Patch(context.Background(), patched, client.RawPatch(client.Merge.Type(), data))
}
