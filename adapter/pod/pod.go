// Package pod implements the remote-Kubernetes-cluster pool.Adapter.
//
// Create writes a ConfigMap holding the resource's script files, launches
// a Pod mounting it as a volume, waits for the Pod to reach Running, then
// opens a local port-forwarder (client-go's tools/portforward over
// transport/spdy) so the Pod's port is reachable on the acquired local
// port.
package pod

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/portforward"
	"k8s.io/client-go/transport/spdy"

	"github.com/serverlesspool/poolengine/pool"
)

// Adapter is the pod pool.Adapter. Clientset and RestConfig are built once
// at manager startup (typically from clientcmd.BuildConfigFromFlags or
// rest.InClusterConfig) and shared across every call.
type Adapter struct {
	Clientset  kubernetes.Interface
	RestConfig *rest.Config

	mu         sync.Mutex
	forwarders map[string]chan struct{}
}

var _ pool.Adapter = (*Adapter)(nil)

func (a *Adapter) TypeTag() string { return "pod" }

func (a *Adapter) Validate(cfg pool.Config) error {
	if cfg.Namespace == "" {
		return fmt.Errorf("pod adapter: Namespace is required")
	}
	return nil
}

// Create writes a ConfigMap of cfg.ScriptFiles' contents, launches a Pod
// that mounts it, polls until the Pod is Running, then opens a local
// port-forwarder from port to cfg.DefaultPodPort.
func (a *Adapter) Create(ctx context.Context, port int, name string, cfg pool.Config) (pool.Native, error) {
	namespace := cfg.Namespace
	podName := cfg.DefaultPodName
	if podName == "" {
		podName = name
	}

	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: podName + "-scripts", Namespace: namespace},
		Data:       map[string]string{},
	}
	for _, script := range cfg.ScriptFiles {
		contents, err := os.ReadFile(script)
		if err != nil {
			return nil, fmt.Errorf("pod adapter: read script %s: %w", script, err)
		}
		cm.Data[filepath.Base(script)] = string(contents)
	}
	if err := a.createOrReplaceConfigMap(ctx, cm); err != nil {
		return nil, fmt.Errorf("pod adapter: create configmap: %w", err)
	}

	podPort := cfg.DefaultPodPort
	if podPort == 0 {
		podPort = port
	}

	podSpec := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: podName, Namespace: namespace},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers: []corev1.Container{{
				Name:  "resource",
				Image: cfg.DefaultImageName,
				Ports: []corev1.ContainerPort{{ContainerPort: int32(podPort)}},
				VolumeMounts: []corev1.VolumeMount{{
					Name:      "scripts",
					MountPath: "/scripts",
					ReadOnly:  true,
				}},
			}},
			Volumes: []corev1.Volume{{
				Name: "scripts",
				VolumeSource: corev1.VolumeSource{
					ConfigMap: &corev1.ConfigMapVolumeSource{
						LocalObjectReference: corev1.LocalObjectReference{Name: cm.Name},
					},
				},
			}},
		},
	}

	if _, err := a.Clientset.CoreV1().Pods(namespace).Create(ctx, podSpec, metav1.CreateOptions{}); err != nil {
		return nil, fmt.Errorf("pod adapter: create pod: %w", err)
	}

	removePod := func() {
		zero := int64(0)
		_ = a.Clientset.CoreV1().Pods(namespace).Delete(context.Background(), podName, metav1.DeleteOptions{GracePeriodSeconds: &zero})
	}

	if err := a.waitRunning(ctx, namespace, podName); err != nil {
		removePod()
		return nil, err
	}

	stopCh, err := a.forward(namespace, podName, port, podPort)
	if err != nil {
		removePod()
		return nil, fmt.Errorf("pod adapter: port-forward: %w", err)
	}

	a.mu.Lock()
	if a.forwarders == nil {
		a.forwarders = make(map[string]chan struct{})
	}
	a.forwarders[name] = stopCh
	a.mu.Unlock()

	return pool.NativePod{PodName: podName, Namespace: namespace}, nil
}

// createOrReplaceConfigMap creates cm, or updates it in place if a
// ConfigMap of the same name already exists from a prior resource that
// used the same pod name.
func (a *Adapter) createOrReplaceConfigMap(ctx context.Context, cm *corev1.ConfigMap) error {
	_, err := a.Clientset.CoreV1().ConfigMaps(cm.Namespace).Create(ctx, cm, metav1.CreateOptions{})
	if err == nil {
		return nil
	}
	if !apierrors.IsAlreadyExists(err) {
		return err
	}
	_, err = a.Clientset.CoreV1().ConfigMaps(cm.Namespace).Update(ctx, cm, metav1.UpdateOptions{})
	return err
}

func (a *Adapter) waitRunning(ctx context.Context, namespace, podName string) error {
	for {
		p, err := a.Clientset.CoreV1().Pods(namespace).Get(ctx, podName, metav1.GetOptions{})
		if err != nil {
			return fmt.Errorf("pod adapter: get pod %s: %w", podName, err)
		}
		if p.Status.Phase == corev1.PodRunning {
			return nil
		}
		if p.Status.Phase == corev1.PodFailed {
			return fmt.Errorf("pod adapter: pod %s entered Failed phase", podName)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}

func (a *Adapter) forward(namespace, podName string, localPort, podPort int) (chan struct{}, error) {
	roundTripper, upgrader, err := spdy.RoundTripperFor(a.RestConfig)
	if err != nil {
		return nil, err
	}

	url := a.Clientset.CoreV1().RESTClient().Post().
		Resource("pods").Namespace(namespace).Name(podName).SubResource("portforward").URL()

	dialer := spdy.NewDialer(upgrader, &http.Client{Transport: roundTripper}, http.MethodPost, url)

	stopCh := make(chan struct{})
	readyCh := make(chan struct{})

	fw, err := portforward.New(dialer, []string{fmt.Sprintf("%d:%d", localPort, podPort)}, stopCh, readyCh, nil, nil)
	if err != nil {
		return nil, err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- fw.ForwardPorts() }()

	select {
	case <-readyCh:
	case err := <-errCh:
		return nil, err
	}
	return stopCh, nil
}

// Terminate stops the local port-forwarder and deletes the Pod, treating a
// 404 as success. If the graceful delete request fails, the Pod is
// force-deleted with a zero grace period. Terminate does not wait for the
// Pod to finish terminating once a delete request is accepted.
func (a *Adapter) Terminate(ctx context.Context, h *pool.Handle) error {
	np, ok := h.Native.(pool.NativePod)
	if !ok {
		return nil
	}

	a.mu.Lock()
	stopCh, hasForwarder := a.forwarders[h.Name]
	delete(a.forwarders, h.Name)
	a.mu.Unlock()
	if hasForwarder {
		close(stopCh)
	}

	err := a.Clientset.CoreV1().Pods(np.Namespace).Delete(ctx, np.PodName, metav1.DeleteOptions{})
	if err == nil || apierrors.IsNotFound(err) {
		return nil
	}

	zero := int64(0)
	err = a.Clientset.CoreV1().Pods(np.Namespace).Delete(ctx, np.PodName, metav1.DeleteOptions{GracePeriodSeconds: &zero})
	if err == nil || apierrors.IsNotFound(err) {
		return nil
	}
	return fmt.Errorf("pod adapter: delete pod %s: %w", np.PodName, err)
}

// Liveness reports whether the Pod is still Running. Any API error,
// including not-found, is reported as not alive.
func (a *Adapter) Liveness(ctx context.Context, h *pool.Handle) bool {
	np, ok := h.Native.(pool.NativePod)
	if !ok {
		return false
	}

	p, err := a.Clientset.CoreV1().Pods(np.Namespace).Get(ctx, np.PodName, metav1.GetOptions{})
	if err != nil {
		return false
	}
	return p.Status.Phase == corev1.PodRunning
}

// Usage is left unimplemented: reading Pod CPU/memory requires the
// metrics-server aggregated API (k8s.io/metrics), which this adapter does
// not wire. A nil, nil result tells the engine there is nothing to report
// rather than surfacing a spurious error.
func (a *Adapter) Usage(ctx context.Context, h *pool.Handle) (*pool.Usage, error) {
	return nil, nil
}

// OnShutdown closes every port-forwarder this adapter still has open,
// covering forwarders whose handle was removed by some path other than
// Terminate (e.g. a handle the engine dropped after a failed liveness
// probe or health check, which it removes without calling Terminate).
func (a *Adapter) OnShutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for name, stopCh := range a.forwarders {
		close(stopCh)
		delete(a.forwarders, name)
	}
}
