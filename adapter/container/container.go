// Package container implements the local-Docker-daemon pool.Adapter: each
// pooled resource is a container with one published port and its script
// files bind-mounted read-only.
package container

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/serverlesspool/poolengine/pool"
)

// Adapter is the container pool.Adapter. Client is dialed once (typically
// via client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
// at manager startup) and shared across every Create/Terminate/Usage call.
type Adapter struct {
	Client *client.Client

	// MemoryLimitBytes and CPUShares, when non-zero, are applied as
	// container.Resources on every created container.
	MemoryLimitBytes int64
	CPUShares        int64
}

var _ pool.Adapter = (*Adapter)(nil)

func (a *Adapter) TypeTag() string { return "container" }

func (a *Adapter) Validate(cfg pool.Config) error {
	if cfg.DefaultImageName == "" {
		return fmt.Errorf("container adapter: DefaultImageName is required")
	}
	return nil
}

// Create publishes port as the container's own listening port, bind-mounts
// each of cfg.ScriptFiles read-only under /scripts, and starts the
// container.
func (a *Adapter) Create(ctx context.Context, port int, name string, cfg pool.Config) (pool.Native, error) {
	containerName := cfg.DefaultContainerName
	if containerName == "" {
		containerName = name
	}

	exposed, bindings, err := portBinding(port)
	if err != nil {
		return nil, err
	}

	containerCfg := &container.Config{
		Image:        cfg.DefaultImageName,
		ExposedPorts: exposed,
		Tty:          false,
	}

	hostCfg := &container.HostConfig{
		PortBindings: bindings,
		Resources: container.Resources{
			Memory:    a.MemoryLimitBytes,
			CPUShares: a.CPUShares,
		},
		AutoRemove: false,
	}
	for _, script := range cfg.ScriptFiles {
		hostCfg.Binds = append(hostCfg.Binds, fmt.Sprintf("%s:/scripts/%s:ro", script, scriptBase(script)))
	}

	resp, err := a.Client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, containerName)
	if err != nil {
		return nil, fmt.Errorf("container adapter: create: %w", err)
	}

	if err := a.Client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = a.Client.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("container adapter: start: %w", err)
	}

	return pool.NativeContainer{ContainerID: resp.ID}, nil
}

func portBinding(port int) (nat.PortSet, nat.PortMap, error) {
	p, err := nat.NewPort("tcp", strconv.Itoa(port))
	if err != nil {
		return nil, nil, fmt.Errorf("container adapter: port %d: %w", port, err)
	}
	return nat.PortSet{p: struct{}{}}, nat.PortMap{
		p: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: strconv.Itoa(port)}},
	}, nil
}

func scriptBase(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

// Terminate stops then force-removes the container. A container already
// gone is success: ContainerStop's error is ignored and only
// ContainerRemove's is surfaced, since Stop against a missing container is
// expected once eviction and a manual removal race.
func (a *Adapter) Terminate(ctx context.Context, h *pool.Handle) error {
	nc, ok := h.Native.(pool.NativeContainer)
	if !ok {
		return nil
	}

	timeout := 10
	if dl, ok := ctx.Deadline(); ok {
		if remaining := int(time.Until(dl).Seconds()); remaining > 0 {
			timeout = remaining
		}
	}
	_ = a.Client.ContainerStop(ctx, nc.ContainerID, container.StopOptions{Timeout: &timeout})

	if err := a.Client.ContainerRemove(ctx, nc.ContainerID, container.RemoveOptions{Force: true}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("container adapter: remove %s: %w", nc.ContainerID, err)
	}
	return nil
}

// Liveness inspects the container and reports its Running state. Any
// inspect failure (including "not found") is reported as not alive rather
// than as an error, per the Adapter contract.
func (a *Adapter) Liveness(ctx context.Context, h *pool.Handle) bool {
	nc, ok := h.Native.(pool.NativeContainer)
	if !ok {
		return false
	}

	info, err := a.Client.ContainerInspect(ctx, nc.ContainerID)
	if err != nil {
		return false
	}
	return info.State != nil && info.State.Running
}

// statsJSON is the subset of container.StatsResponse this adapter reads,
// kept narrow so a daemon API-version skew in unrelated fields does not
// break unmarshaling.
type statsJSON struct {
	CPUStats struct {
		CPUUsage struct {
			TotalUsage uint64 `json:"total_usage"`
		} `json:"cpu_usage"`
		SystemCPUUsage uint64 `json:"system_cpu_usage"`
		OnlineCPUs     uint32 `json:"online_cpus"`
	} `json:"cpu_stats"`
	PreCPUStats struct {
		CPUUsage struct {
			TotalUsage uint64 `json:"total_usage"`
		} `json:"cpu_usage"`
		SystemCPUUsage uint64 `json:"system_cpu_usage"`
	} `json:"precpu_stats"`
	MemoryStats struct {
		Usage uint64 `json:"usage"`
	} `json:"memory_stats"`
}

// Usage takes a one-shot stats snapshot and computes CPU% the same way the
// Docker CLI does: delta of container CPU usage over delta of system CPU
// usage, scaled by the number of online CPUs.
func (a *Adapter) Usage(ctx context.Context, h *pool.Handle) (*pool.Usage, error) {
	nc, ok := h.Native.(pool.NativeContainer)
	if !ok {
		return nil, nil
	}

	resp, err := a.Client.ContainerStatsOneShot(ctx, nc.ContainerID)
	if err != nil {
		return nil, fmt.Errorf("container adapter: stats %s: %w", nc.ContainerID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("container adapter: read stats %s: %w", nc.ContainerID, err)
	}

	var stats statsJSON
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil, fmt.Errorf("container adapter: decode stats %s: %w", nc.ContainerID, err)
	}

	cpuDelta := float64(stats.CPUStats.CPUUsage.TotalUsage) - float64(stats.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(stats.CPUStats.SystemCPUUsage) - float64(stats.PreCPUStats.SystemCPUUsage)
	var cpuPercent float64
	if systemDelta > 0 && cpuDelta > 0 {
		online := float64(stats.CPUStats.OnlineCPUs)
		if online == 0 {
			online = 1
		}
		cpuPercent = (cpuDelta / systemDelta) * online * 100
	}

	return &pool.Usage{
		CpuPercent:  cpuPercent,
		MemoryBytes: int64(stats.MemoryStats.Usage),
		SampledAt:   time.Now().UnixMilli(),
	}, nil
}

func (a *Adapter) OnShutdown() {}
