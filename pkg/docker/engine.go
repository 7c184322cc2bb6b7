package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/lissto-dev/updater/pkg/process"
)

// StateRunning is the engine state of a started container
const StateRunning = "running"

// ErrNotFound is returned when the named container does not exist
var ErrNotFound = errors.New("container not found")

// Engine is the set of container operations used by the update pipeline
type Engine interface {
	// State returns the container's state string, e.g. "created" or "running"
	State(ctx context.Context, name string) (string, error)
	Exists(ctx context.Context, name string) (bool, error)
	Rename(ctx context.Context, name, newName string) error
	Start(ctx context.Context, name string) error
	// Remove force-removes the container
	Remove(ctx context.Context, name string) error
	// Exec runs cmd inside the container and captures its output and exit code
	Exec(ctx context.Context, name string, cmd []string) (process.Result, error)
}

// Client implements Engine on top of the Docker Engine API
type Client struct {
	api client.APIClient
}

// NewClient connects to the engine at host, or to the environment default
// (DOCKER_HOST or the local socket) when host is empty
func NewClient(host string) (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	api, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Client{api: api}, nil
}

// NewClientFromAPI wraps an existing API client
func NewClientFromAPI(api client.APIClient) *Client {
	return &Client{api: api}
}

// Close releases the underlying transport
func (c *Client) Close() error {
	return c.api.Close()
}

func notFound(name string, err error) error {
	if cerrdefs.IsNotFound(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return err
}

func (c *Client) State(ctx context.Context, name string) (string, error) {
	info, err := c.api.ContainerInspect(ctx, name)
	if err != nil {
		return "", notFound(name, err)
	}
	if info.ContainerJSONBase == nil || info.State == nil {
		return "", fmt.Errorf("container %s reported no state", name)
	}
	return string(info.State.Status), nil
}

func (c *Client) Exists(ctx context.Context, name string) (bool, error) {
	_, err := c.api.ContainerInspect(ctx, name)
	if err == nil {
		return true, nil
	}
	if cerrdefs.IsNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to inspect container %s: %w", name, err)
}

func (c *Client) Rename(ctx context.Context, name, newName string) error {
	if err := c.api.ContainerRename(ctx, name, newName); err != nil {
		return notFound(name, err)
	}
	return nil
}

func (c *Client) Start(ctx context.Context, name string) error {
	if err := c.api.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return notFound(name, err)
	}
	return nil
}

func (c *Client) Remove(ctx context.Context, name string) error {
	if err := c.api.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil {
		return notFound(name, err)
	}
	return nil
}

func (c *Client) Exec(ctx context.Context, name string, cmd []string) (process.Result, error) {
	created, err := c.api.ContainerExecCreate(ctx, name, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return process.Result{}, fmt.Errorf("failed to create exec: %w", notFound(name, err))
	}

	attached, err := c.api.ContainerExecAttach(ctx, created.ID, container.ExecStartOptions{})
	if err != nil {
		return process.Result{}, fmt.Errorf("failed to attach to exec: %w", err)
	}
	defer attached.Close()
	// The hijacked stream does not observe ctx, closing it unblocks the copy
	stop := context.AfterFunc(ctx, attached.Close)
	defer stop()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attached.Reader); err != nil && ctx.Err() != nil {
		return process.Result{}, fmt.Errorf("exec interrupted: %w", ctx.Err())
	}
	if err := ctx.Err(); err != nil {
		return process.Result{}, fmt.Errorf("exec interrupted: %w", err)
	}

	inspected, err := c.api.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return process.Result{}, fmt.Errorf("failed to inspect exec: %w", err)
	}

	return process.Result{
		Stdout:   strings.TrimSpace(stdout.String()),
		Stderr:   strings.TrimSpace(stderr.String()),
		ExitCode: inspected.ExitCode,
	}, nil
}
