package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/tools/record"
)

func TestEventDeduplicatesWithinWindow(t *testing.T) {
	fake := record.NewFakeRecorder(10)
	r := NewRateLimitedRecorder(fake)
	obj := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "p1", Namespace: "default"}}

	r.Normal(obj, ReasonReconciled, "first")
	r.Normal(obj, ReasonReconciled, "second")

	require.Len(t, fake.Events, 1)
	assert.Contains(t, <-fake.Events, "first")
}

func TestEventAllowsDifferentReasons(t *testing.T) {
	fake := record.NewFakeRecorder(10)
	r := NewRateLimitedRecorder(fake)
	obj := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "p1", Namespace: "default"}}

	r.Normal(obj, ReasonReconciled, "reconciled")
	r.Warning(obj, ReasonInvalidSpec, "invalid")

	assert.Len(t, fake.Events, 2)
}

func TestEventAllowsDifferentObjects(t *testing.T) {
	fake := record.NewFakeRecorder(10)
	r := NewRateLimitedRecorder(fake)
	p1 := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "p1", Namespace: "default"}}
	p2 := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "p2", Namespace: "default"}}

	r.Normal(p1, ReasonReconciled, "p1 reconciled")
	r.Normal(p2, ReasonReconciled, "p2 reconciled")

	assert.Len(t, fake.Events, 2)
}
