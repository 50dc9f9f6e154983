// poolctl is a minimal lifecycle-demonstration binary: it builds one
// Engine from a config file, acquires a handle, prints poolInfo, and
// shuts the Engine down (an interrupt before that point also triggers
// shutdown through the Engine's signal handling). It is not an HTTP façade (out of scope, per
// SPEC_FULL.md §1); continues cmd/coord/main.go's env-driven, log.Fatalf-on-
// misconfiguration style.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/docker/docker/client"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/serverlesspool/poolengine/adapter/container"
	"github.com/serverlesspool/poolengine/adapter/pod"
	"github.com/serverlesspool/poolengine/adapter/process"
	"github.com/serverlesspool/poolengine/adapter/worker"
	"github.com/serverlesspool/poolengine/config"
	"github.com/serverlesspool/poolengine/pool"
)

func main() {
	configPath := flag.String("config", "poolctl.toml", "path to the manager's config file")
	command := flag.String("command", "worker", "process command to spawn, for -resource-type=process")
	kubeconfig := flag.String("kubeconfig", "", "path to a kubeconfig, for -resource-type=pod")
	flag.Parse()

	log.Printf("loading config from %s", *configPath)
	file, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config.Load: %v", err)
	}

	adapter, err := buildAdapter(file.Manager.ResourceType, *command, *kubeconfig)
	if err != nil {
		log.Fatalf("buildAdapter: %v", err)
	}

	opts, err := file.Options()
	if err != nil {
		log.Fatalf("file.Options: %v", err)
	}
	opts = append(opts, pool.WithPreWarmConfig(file.Config()))

	log.Printf("starting %s pool %q", file.Manager.ResourceType, file.Manager.Name)
	engine := pool.New(adapter, opts...)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	h, err := engine.Acquire(ctx, file.Config())
	if err != nil {
		log.Fatalf("engine.Acquire: %v", err)
	}
	log.Printf("acquired %s on port %d", h.Name, h.Port)

	info := engine.PoolInfo()
	log.Printf("pool size=%d max=%d", info.Size, info.Max)
	log.Print(info.MetricsText)

	if err := engine.Shutdown(context.Background()); err != nil {
		log.Fatalf("engine.Shutdown: %v", err)
	}
	log.Printf("shut down cleanly")
}

func buildAdapter(resourceType, command, kubeconfig string) (pool.Adapter, error) {
	switch resourceType {
	case "worker":
		return &worker.Adapter{}, nil

	case "process":
		return &process.Adapter{Command: command}, nil

	case "container":
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return nil, err
		}
		return &container.Adapter{Client: cli}, nil

	case "pod":
		restConfig, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, err
		}
		clientset, err := kubernetes.NewForConfig(restConfig)
		if err != nil {
			return nil, err
		}
		return &pod.Adapter{Clientset: clientset, RestConfig: restConfig}, nil

	default:
		log.Fatalf("unknown resource type %q", resourceType)
		return nil, nil
	}
}
