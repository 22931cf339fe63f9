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

// Package controller implements the resource watchers and work queue:
// three informers (HotStandbyDeployment, child Deployment, Pod) feed a
// single deduplicating, rate-limited queue; a fixed-size worker pool
// drains it and calls into the reconciler.
package controller

import (
	"context"
	"fmt"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/types"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/tools/cache"
	"k8s.io/client-go/util/workqueue"
	"k8s.io/klog/v2"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/manager"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	appsv1alpha1 "github.com/taro0513/HotStandbyDeployment/pkg/apis/apps/v1alpha1"
	"github.com/taro0513/HotStandbyDeployment/pkg/probe"
)

const controllerAgentName = "hotstandby-controller"

// Reconciler is the contract the controller drives: one call per
// dequeued key, serialized per key by the work queue.
type Reconciler interface {
	Reconcile(ctx context.Context, req reconcile.Request) (reconcile.Result, error)
}

// Controller wires three informers into one rate-limited work queue
// and drains it with a configurable number of workers.
type Controller struct {
	client client.Client
	probes *probe.Engine
	recon  Reconciler

	workqueue workqueue.RateLimitingInterface

	selector *selectorIndex

	hswSynced   cache.InformerSynced
	childSynced cache.InformerSynced
	podSynced   cache.InformerSynced
}

// New builds a Controller from a manager's cache and client; the
// manager need not be started yet. reconciler performs the per-key business logic; probes is
// informed of HSW admission/removal and pod events so its busy tables
// stay current.
func New(mgr manager.Manager, probes *probe.Engine, reconciler Reconciler) (*Controller, error) {
	c := &Controller{
		client: mgr.GetClient(),
		probes: probes,
		recon:  reconciler,
		workqueue: workqueue.NewRateLimitingQueue(workqueue.DefaultControllerRateLimiter()),
		selector: newSelectorIndex(),
	}

	ctx := context.Background()
	cacheReader := mgr.GetCache()

	hswInformer, err := cacheReader.GetInformer(ctx, &appsv1alpha1.HotStandbyDeployment{})
	if err != nil {
		return nil, fmt.Errorf("getting HotStandbyDeployment informer: %w", err)
	}
	childInformer, err := cacheReader.GetInformer(ctx, &appsv1.Deployment{})
	if err != nil {
		return nil, fmt.Errorf("getting Deployment informer: %w", err)
	}
	podInformer, err := cacheReader.GetInformer(ctx, &corev1.Pod{})
	if err != nil {
		return nil, fmt.Errorf("getting Pod informer: %w", err)
	}
	c.hswSynced = hswInformer.HasSynced
	c.childSynced = childInformer.HasSynced
	c.podSynced = podInformer.HasSynced

	hswInformer.AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc:    c.handleHSW,
		UpdateFunc: func(_, new interface{}) { c.handleHSW(new) },
		DeleteFunc: c.handleHSWDelete,
	})
	childInformer.AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc:    c.handleChild,
		UpdateFunc: func(_, new interface{}) { c.handleChild(new) },
		DeleteFunc: c.handleChild,
	})
	podInformer.AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc:    c.handlePod,
		UpdateFunc: func(_, new interface{}) { c.handlePod(new) },
		DeleteFunc: c.handlePodDelete,
	})

	return c, nil
}

// Run waits for cache sync, then starts workers worker goroutines,
// blocking until ctx is cancelled.
func (c *Controller) Run(ctx context.Context, workers int) error {
	defer utilruntime.HandleCrash()
	defer c.workqueue.ShutDown()
	logger := klog.FromContext(ctx)

	logger.Info("Waiting for informer caches to sync")
	if ok := cache.WaitForCacheSync(ctx.Done(), c.hswSynced, c.childSynced, c.podSynced); !ok {
		return fmt.Errorf("failed to wait for caches to sync")
	}

	logger.Info("Starting workers", "count", workers)
	for i := 0; i < workers; i++ {
		go wait.UntilWithContext(ctx, c.runWorker, time.Second)
	}

	logger.Info("Started workers")
	<-ctx.Done()
	logger.Info("Shutting down workers")
	return nil
}

func (c *Controller) runWorker(ctx context.Context) {
	for c.processNextWorkItem(ctx) {
	}
}

// processNextWorkItem reads one item and runs it through Reconcile,
// honoring the queue's requeue/backoff/forget contract.
func (c *Controller) processNextWorkItem(ctx context.Context) bool {
	obj, shutdown := c.workqueue.Get()
	if shutdown {
		return false
	}
	defer c.workqueue.Done(obj)

	req, ok := obj.(reconcile.Request)
	if !ok {
		c.workqueue.Forget(obj)
		utilruntime.HandleError(fmt.Errorf("expected reconcile.Request in workqueue but got %#v", obj))
		return true
	}

	logger := klog.FromContext(ctx).WithValues("hsw", req.NamespacedName)
	result, err := c.recon.Reconcile(klog.NewContext(ctx, logger), req)
	switch {
	case err != nil:
		c.workqueue.AddRateLimited(req)
		utilruntime.HandleError(fmt.Errorf("reconciling %q: %w", req.NamespacedName, err))
	case result.RequeueAfter > 0:
		c.workqueue.Forget(req)
		c.workqueue.AddAfter(req, result.RequeueAfter)
	case result.Requeue:
		c.workqueue.AddRateLimited(req)
	default:
		c.workqueue.Forget(req)
	}
	return true
}

func (c *Controller) enqueue(namespace, name string) {
	c.workqueue.Add(reconcile.Request{NamespacedName: types.NamespacedName{Namespace: namespace, Name: name}})
}

func (c *Controller) handleHSW(obj interface{}) {
	hsw, ok := obj.(*appsv1alpha1.HotStandbyDeployment)
	if !ok {
		return
	}
	sel, err := metav1.LabelSelectorAsSelector(hsw.Spec.Selector)
	if err != nil {
		utilruntime.HandleError(fmt.Errorf("invalid selector on %s/%s: %w", hsw.Namespace, hsw.Name, err))
		sel = labels.Nothing()
	}
	c.selector.put(types.NamespacedName{Namespace: hsw.Namespace, Name: hsw.Name}, sel)
	defaulted := hsw.DeepCopy()
	appsv1alpha1.SetDefaults(defaulted)
	c.probes.RegisterOrUpdate(context.Background(), defaulted)
	c.enqueue(hsw.Namespace, hsw.Name)
}

func (c *Controller) handleHSWDelete(obj interface{}) {
	key, ok := keyOf(obj)
	if !ok {
		return
	}
	ns, name, err := cache.SplitMetaNamespaceKey(key)
	if err != nil {
		utilruntime.HandleError(err)
		return
	}
	nn := types.NamespacedName{Namespace: ns, Name: name}
	c.selector.remove(nn)
	c.probes.Unregister(nn)
}

func (c *Controller) handleChild(obj interface{}) {
	object, ok := asMetaObject(obj)
	if !ok {
		return
	}
	ref := metav1.GetControllerOf(object)
	if ref == nil || ref.Kind != "HotStandbyDeployment" {
		return
	}
	c.enqueue(object.GetNamespace(), ref.Name)
}

func (c *Controller) handlePod(obj interface{}) {
	pod, ok := obj.(*corev1.Pod)
	if !ok {
		return
	}
	matches := c.selector.matches(pod.Namespace, pod.Labels)
	if len(matches) > 1 {
		// Selector overlap is user error; reconcile every match anyway.
		klog.Background().Info("pod matches multiple HotStandbyDeployment selectors",
			"pod", pod.Namespace+"/"+pod.Name, "count", len(matches))
	}
	for _, hswKey := range matches {
		c.probes.ObservePod(hswKey, pod)
		c.enqueue(hswKey.Namespace, hswKey.Name)
	}
}

func (c *Controller) handlePodDelete(obj interface{}) {
	pod, ok := asPod(obj)
	if !ok {
		return
	}
	matches := c.selector.matches(pod.Namespace, pod.Labels)
	id := probe.PodIdentity{Namespace: pod.Namespace, Name: pod.Name, UID: pod.UID}
	for _, hswKey := range matches {
		c.probes.ForgetPod(hswKey, id)
		c.enqueue(hswKey.Namespace, hswKey.Name)
	}
}

// keyOf extracts a namespace/name key from an informer event object,
// unwrapping DeletedFinalStateUnknown tombstones so a missed delete
// still tears down per-HSW state.
func keyOf(obj interface{}) (string, bool) {
	key, err := cache.DeletionHandlingMetaNamespaceKeyFunc(obj)
	if err != nil {
		utilruntime.HandleError(err)
		return "", false
	}
	return key, true
}

func asMetaObject(obj interface{}) (metav1.Object, bool) {
	if object, ok := obj.(metav1.Object); ok {
		return object, true
	}
	tombstone, ok := obj.(cache.DeletedFinalStateUnknown)
	if !ok {
		utilruntime.HandleError(fmt.Errorf("error decoding object, invalid type"))
		return nil, false
	}
	object, ok := tombstone.Obj.(metav1.Object)
	if !ok {
		utilruntime.HandleError(fmt.Errorf("error decoding object tombstone, invalid type"))
		return nil, false
	}
	return object, true
}

func asPod(obj interface{}) (*corev1.Pod, bool) {
	if pod, ok := obj.(*corev1.Pod); ok {
		return pod, true
	}
	tombstone, ok := obj.(cache.DeletedFinalStateUnknown)
	if !ok {
		utilruntime.HandleError(fmt.Errorf("error decoding object, invalid type"))
		return nil, false
	}
	pod, ok := tombstone.Obj.(*corev1.Pod)
	if !ok {
		utilruntime.HandleError(fmt.Errorf("error decoding object tombstone, invalid type"))
		return nil, false
	}
	return pod, true
}
