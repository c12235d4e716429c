package fakes

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/blockblaz/native-quickstart/internal/libdevnet"
)

// BackendHooks can be used to override the behavior of the fake backend.
type BackendHooks struct {
	PullImage func(image string) error
	StartNode func(opts libdevnet.NodeOptions) (*libdevnet.NodeInfo, error)
	StopNode  func(containerID string) error

	RunProgram func(containerID string, cmd []string) (string, error)

	NetworkNameToID  func(string) (string, error)
	CreateNetwork    func(string) (string, error)
	RemoveNetwork    func(networkID string) error
	ContainerIP      func(containerID, networkID string) (net.IP, error)
	ConnectContainer func(containerID, networkID string) error
}

var _ = libdevnet.ContainerBackend(&fakeBackend{})

// fakeBackend implements ContainerBackend without docker.
type fakeBackend struct {
	hooks       BackendHooks
	nodeCounter uint64
	netCounter  uint64
}

// NewContainerBackend creates a new fake container backend.
func NewContainerBackend(hooks *BackendHooks) libdevnet.ContainerBackend {
	b := &fakeBackend{}
	if hooks != nil {
		b.hooks = *hooks
	}
	return b
}

func (b *fakeBackend) PullImage(ctx context.Context, image string) error {
	if b.hooks.PullImage != nil {
		return b.hooks.PullImage(image)
	}
	return nil
}

func (b *fakeBackend) StartNode(ctx context.Context, opts libdevnet.NodeOptions) (*libdevnet.NodeInfo, error) {
	var info libdevnet.NodeInfo
	if b.hooks.StartNode != nil {
		info2, err := b.hooks.StartNode(opts)
		if err != nil {
			return nil, err
		}
		info = *info2
	}

	b.nodeCounter++
	if info.ID == "" {
		info.ID = fmt.Sprintf("%0.8x", b.nodeCounter)
	}
	info.Role = opts.Role
	info.Image = opts.Image
	if info.IP == "" {
		ip := net.IP{192, 0, 2, byte(b.nodeCounter)}
		info.IP = ip.String()
	}
	if info.MAC == "" {
		info.MAC = "00:80:41:ae:fd:7e"
	}
	info.InstantiatedAt = time.Now()
	return &info, nil
}

func (b *fakeBackend) StopNode(containerID string) error {
	if b.hooks.StopNode != nil {
		return b.hooks.StopNode(containerID)
	}
	return nil
}

func (b *fakeBackend) RunProgram(ctx context.Context, containerID string, cmd []string) (string, error) {
	if b.hooks.RunProgram != nil {
		return b.hooks.RunProgram(containerID, cmd)
	}
	return "std output", nil
}

func (b *fakeBackend) NetworkNameToID(name string) (string, error) {
	if b.hooks.NetworkNameToID != nil {
		return b.hooks.NetworkNameToID(name)
	}
	return "", errors.New("network not found")
}

func (b *fakeBackend) CreateNetwork(name string) (string, error) {
	if b.hooks.CreateNetwork != nil {
		return b.hooks.CreateNetwork(name)
	}
	b.netCounter++
	id := fmt.Sprintf("%0.8x", b.netCounter)
	return id, nil
}

func (b *fakeBackend) RemoveNetwork(networkID string) error {
	if b.hooks.RemoveNetwork != nil {
		return b.hooks.RemoveNetwork(networkID)
	}
	return nil
}

func (b *fakeBackend) ContainerIP(containerID, networkID string) (net.IP, error) {
	if b.hooks.ContainerIP != nil {
		return b.hooks.ContainerIP(containerID, networkID)
	}
	return net.IP{203, 0, 113, 2}, nil
}

func (b *fakeBackend) ConnectContainer(containerID, networkID string) error {
	if b.hooks.ConnectContainer != nil {
		return b.hooks.ConnectContainer(containerID, networkID)
	}
	return nil
}
