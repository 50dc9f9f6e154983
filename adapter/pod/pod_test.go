package pod

import (
	"context"
	"testing"

	"github.com/alecthomas/assert/v2"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/serverlesspool/poolengine/pool"
)

func TestValidateRequiresNamespace(t *testing.T) {
	a := &Adapter{}
	assert.Error(t, a.Validate(pool.Config{}))
	assert.NoError(t, a.Validate(pool.Config{Namespace: "default"}))
}

func TestLivenessReportsRunningPhase(t *testing.T) {
	cs := fake.NewSimpleClientset(&corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "worker-1", Namespace: "default"},
		Status:     corev1.PodStatus{Phase: corev1.PodRunning},
	})
	a := &Adapter{Clientset: cs}

	h := &pool.Handle{Name: "worker-1", Native: pool.NativePod{PodName: "worker-1", Namespace: "default"}}
	assert.True(t, a.Liveness(context.Background(), h))
}

func TestLivenessFalseForMissingPod(t *testing.T) {
	a := &Adapter{Clientset: fake.NewSimpleClientset()}
	h := &pool.Handle{Name: "gone", Native: pool.NativePod{PodName: "gone", Namespace: "default"}}
	assert.False(t, a.Liveness(context.Background(), h))
}

func TestTerminateMissingPodIsSuccess(t *testing.T) {
	a := &Adapter{Clientset: fake.NewSimpleClientset()}
	h := &pool.Handle{Name: "gone", Native: pool.NativePod{PodName: "gone", Namespace: "default"}}
	assert.NoError(t, a.Terminate(context.Background(), h))
}

func TestOnShutdownClosesTrackedForwarders(t *testing.T) {
	stop1 := make(chan struct{})
	stop2 := make(chan struct{})
	a := &Adapter{forwarders: map[string]chan struct{}{
		"w1": stop1,
		"w2": stop2,
	}}

	a.OnShutdown()

	assert.Equal(t, 0, len(a.forwarders))
	select {
	case <-stop1:
	default:
		t.Fatal("stop1 was not closed")
	}
	select {
	case <-stop2:
	default:
		t.Fatal("stop2 was not closed")
	}
}
