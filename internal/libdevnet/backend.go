package libdevnet

import (
	"context"
	"net"
)

// NodeOptions configures a node container start.
type NodeOptions struct {
	Role  string
	Image string

	// Env is injected into the container environment.
	Env map[string]string

	// Files are uploaded into the container filesystem before start, keyed
	// by absolute destination path.
	Files map[string][]byte

	// CheckPort, when non-zero, makes the start block until a TCP
	// connection to this port succeeds (or the start timeout expires).
	CheckPort uint16

	// NetworkID attaches the container to the given network before start.
	NetworkID string

	// LogDir, when set, receives the container output as <role>-<id>.log.
	LogDir string
}

// ContainerBackend captures the Docker operations the devnet needs. The
// production implementation wraps the Docker daemon; tests substitute a fake.
type ContainerBackend interface {
	// PullImage ensures the given image is available locally.
	PullImage(ctx context.Context, image string) error

	// StartNode creates and starts a node container, optionally waiting for
	// its RPC port to accept connections.
	StartNode(ctx context.Context, opts NodeOptions) (*NodeInfo, error)

	// StopNode force-removes the given container.
	StopNode(containerID string) error

	// RunProgram runs a command in a running container and returns its output.
	RunProgram(ctx context.Context, containerID string, cmd []string) (string, error)

	// CreateNetwork creates a docker network and returns its ID.
	CreateNetwork(name string) (string, error)

	// NetworkNameToID finds the network ID of a network by name.
	NetworkNameToID(name string) (string, error)

	// RemoveNetwork deletes a docker network, disconnecting any remaining
	// containers first.
	RemoveNetwork(id string) error

	// ContainerIP finds the IP of a container in the given network.
	ContainerIP(containerID, networkID string) (net.IP, error)

	// ConnectContainer connects the given container to a network.
	ConnectContainer(containerID, networkID string) error
}
