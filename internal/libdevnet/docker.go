package libdevnet

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	docker "github.com/fsouza/go-dockerclient"
	"gopkg.in/inconshreveable/log15.v2"
)

var (
	ErrNetworkNotFound = fmt.Errorf("network not found")

	defaultStartTimeout = 60 * time.Second
)

// Config is the configuration of the docker backend.
type Config struct {
	// InstanceID tags every created resource, so that stale containers and
	// networks of crashed runs can be found and removed later.
	InstanceID string

	Logger log15.Logger

	// PullEnabled forces pulling node images even when present locally.
	PullEnabled bool

	// StartTimeout bounds the wait for a node's RPC port to come alive.
	StartTimeout time.Duration
}

// Connect connects to the Docker daemon at dockerEndpoint and returns the
// container backend. An empty endpoint selects the environment defaults.
func Connect(dockerEndpoint string, cfg *Config) (ContainerBackend, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log15.Root()
	}
	var client *docker.Client
	var err error
	if dockerEndpoint == "" {
		client, err = docker.NewClientFromEnv()
	} else {
		client, err = docker.NewClient(dockerEndpoint)
	}
	if err != nil {
		return nil, fmt.Errorf("can't connect to docker: %v", err)
	}
	env, err := client.Version()
	if err != nil {
		return nil, fmt.Errorf("can't get docker version: %v", err)
	}
	logger.Debug("docker daemon online", "version", env.Get("Version"))
	return &dockerBackend{client: client, config: cfg, logger: logger}, nil
}

type dockerBackend struct {
	client *docker.Client
	config *Config
	logger log15.Logger
}

// PullImage fetches the given image unless it is already available locally
// and pulling wasn't forced.
func (b *dockerBackend) PullImage(ctx context.Context, image string) error {
	if !b.config.PullEnabled {
		if _, err := b.client.InspectImage(image); err == nil {
			return nil
		}
	}
	b.logger.Info("pulling image", "image", image)
	repo, tag := docker.ParseRepositoryTag(image)
	if tag == "" {
		tag = "latest"
	}
	return b.client.PullImage(docker.PullImageOptions{
		Context:      ctx,
		Repository:   repo,
		Tag:          tag,
		OutputStream: io.Discard,
	}, docker.AuthConfiguration{})
}

func (b *dockerBackend) StartNode(ctx context.Context, opts NodeOptions) (*NodeInfo, error) {
	info := &NodeInfo{Role: opts.Role, Image: opts.Image}

	container, err := b.createNode(ctx, opts)
	if err != nil {
		return info, fmt.Errorf("can't create %s container: %v", opts.Role, err)
	}
	info.ID = container.ID[:8]
	logger := b.logger.New("role", opts.Role, "image", opts.Image, "container", info.ID)
	logger.Debug("node container created")

	var logfile string
	if opts.LogDir != "" {
		info.LogFile = fmt.Sprintf("%s-%s.log", opts.Role, info.ID)
		logfile = filepath.Join(opts.LogDir, info.LogFile)
	}
	info.InstantiatedAt = time.Now()

	waiter, err := b.runContainer(logger, container.ID, logfile)
	if err != nil {
		logger.Error("failed to start node", "error", err)
		if removeErr := b.client.RemoveContainer(docker.RemoveContainerOptions{ID: container.ID, Force: true}); removeErr != nil {
			logger.Error("failed to remove container", "error", removeErr)
		}
		return info, fmt.Errorf("can't run %s container: %v", opts.Role, err)
	}
	info.wait = func() {
		if err := waiter.Wait(); err == nil {
			logger.Debug("node container finished cleanly")
		} else {
			logger.Error("node container finished with error", "error", err)
		}
	}

	// Wait for the RPC socket to open or the container to die.
	var (
		start     = time.Now()
		checkTime = 100 * time.Millisecond
		lastmsg   time.Time
	)
	timeout := b.config.StartTimeout
	if timeout == 0 {
		timeout = defaultStartTimeout
	}
	for {
		container, err = b.client.InspectContainerWithOptions(docker.InspectContainerOptions{ID: container.ID})
		if err != nil {
			logger.Error("failed to inspect node", "error", err)
			return info, fmt.Errorf("can't get container state: %v", err)
		}
		if !container.State.Running {
			logger.Error("node container terminated", "state", container.State.String())
			return info, errors.New("terminated unexpectedly")
		}
		info.IP, info.MAC = containerNetInfo(container, opts.NetworkID)

		if opts.CheckPort == 0 {
			break
		}
		if time.Since(lastmsg) >= time.Second {
			logger.Debug("checking node online...", "state", container.State.String())
			lastmsg = time.Now()
		}
		if conn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", info.IP, opts.CheckPort)); err == nil {
			conn.Close()
			logger.Debug("node container online", "time", time.Since(start))
			break
		}

		select {
		case <-ctx.Done():
			b.removeNode(logger, container.ID)
			return info, ctx.Err()
		case <-time.After(checkTime):
		}
		if time.Since(container.Created) > timeout {
			b.removeNode(logger, container.ID)
			return info, fmt.Errorf("%s node terminated due to unresponsive RPC", opts.Role)
		}
	}
	return info, nil
}

func (b *dockerBackend) removeNode(logger log15.Logger, containerID string) {
	logger.Debug("deleting node container", "id", containerID[:8])
	err := b.client.RemoveContainer(docker.RemoveContainerOptions{ID: containerID, Force: true})
	if err != nil {
		logger.Error("failed to remove node container", "error", err)
	}
}

// StopNode force-removes the given container.
func (b *dockerBackend) StopNode(containerID string) error {
	return b.client.RemoveContainer(docker.RemoveContainerOptions{ID: containerID, Force: true})
}

// RunProgram executes a command in a running node container. This is how the
// devnet asks a node for values only available inside, e.g. its enode URL.
func (b *dockerBackend) RunProgram(ctx context.Context, containerID string, cmd []string) (string, error) {
	exec, err := b.client.CreateExec(docker.CreateExecOptions{
		Context:      ctx,
		AttachStdout: true,
		AttachStderr: false,
		Tty:          false,
		Cmd:          cmd,
		Container:    containerID,
	})
	if err != nil {
		return "", fmt.Errorf("can't create exec in %s: %v", containerID, err)
	}
	outputBuf := new(bytes.Buffer)
	err = b.client.StartExec(exec.ID, docker.StartExecOptions{
		Context:      ctx,
		Detach:       false,
		OutputStream: outputBuf,
	})
	if err != nil {
		return "", fmt.Errorf("can't run exec in %s: %v", containerID, err)
	}
	return outputBuf.String(), nil
}

// CreateNetwork creates a docker network.
func (b *dockerBackend) CreateNetwork(name string) (string, error) {
	network, err := b.client.CreateNetwork(docker.CreateNetworkOptions{
		Name:           name,
		CheckDuplicate: true,
		Attachable:     true,
		Labels:         map[string]string{LabelDevnetInstance: b.config.InstanceID},
	})
	if err != nil {
		return "", err
	}
	return network.ID, nil
}

// NetworkNameToID finds the network ID of the network with the given name.
func (b *dockerBackend) NetworkNameToID(name string) (string, error) {
	networks, err := b.client.ListNetworks()
	if err != nil {
		return "", err
	}
	for _, net := range networks {
		if net.Name == name {
			return net.ID, nil
		}
	}
	return "", ErrNetworkNotFound
}

// RemoveNetwork deletes a docker network.
func (b *dockerBackend) RemoveNetwork(id string) error {
	info, err := b.client.NetworkInfo(id)
	if err != nil {
		return err
	}
	for _, container := range info.Containers {
		if err := b.client.DisconnectNetwork(id, docker.NetworkConnectionOptions{Container: container.Name}); err != nil {
			return err
		}
	}
	return b.client.RemoveNetwork(id)
}

// ContainerIP finds the IP of a container in the given network.
func (b *dockerBackend) ContainerIP(containerID, networkID string) (net.IP, error) {
	details, err := b.client.InspectContainerWithOptions(docker.InspectContainerOptions{ID: containerID})
	if err != nil {
		return nil, err
	}
	for _, network := range details.NetworkSettings.Networks {
		if network.NetworkID == networkID {
			return net.ParseIP(network.IPAddress), nil
		}
	}
	return nil, ErrNetworkNotFound
}

// ConnectContainer connects the given container to a network.
func (b *dockerBackend) ConnectContainer(containerID, networkID string) error {
	return b.client.ConnectNetwork(networkID, docker.NetworkConnectionOptions{
		Container: containerID,
	})
}

// createNode creates a node container with env vars injected and uploads the
// configured files into it.
func (b *dockerBackend) createNode(ctx context.Context, opts NodeOptions) (*docker.Container, error) {
	vars := []string{}
	for key, val := range opts.Env {
		vars = append(vars, key+"="+val)
	}
	labels := NewBaseLabels(b.config.InstanceID)
	labels[LabelDevnetRole] = opts.Role
	labels[LabelDevnetImage] = opts.Image

	c, err := b.client.CreateContainer(docker.CreateContainerOptions{
		Context: ctx,
		Name:    GenerateNodeContainerName(opts.Role),
		Config: &docker.Config{
			Image:  opts.Image,
			Env:    vars,
			Labels: labels,
		},
	})
	if err != nil {
		return nil, err
	}
	if opts.NetworkID != "" {
		if err := b.ConnectContainer(c.ID, opts.NetworkID); err != nil {
			return nil, err
		}
	}
	err = b.uploadFiles(c.ID, opts.Files)
	return c, err
}

// uploadFiles injects a batch of files into the target container.
func (b *dockerBackend) uploadFiles(id string, files map[string][]byte) error {
	if len(files) == 0 {
		return nil
	}
	// Pack all data files into one tarball.
	tarball := new(bytes.Buffer)
	tw := tar.NewWriter(tarball)
	for path, data := range files {
		header := &tar.Header{
			Name: path,
			Mode: int64(0777),
			Size: int64(len(data)),
		}
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if _, err := tw.Write(data); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return b.client.UploadToContainer(id, docker.UploadToContainerOptions{
		InputStream: tarball,
		Path:        "/",
	})
}

// runContainer attaches to the output streams of an existing container, then
// starts it and returns a CloseWaiter for termination.
func (b *dockerBackend) runContainer(logger log15.Logger, id, logfile string) (docker.CloseWaiter, error) {
	stdout := io.Writer(os.Stdout)
	stream := io.Writer(os.Stderr)

	var fdsToClose []io.Closer
	if logfile != "" {
		if err := os.MkdirAll(filepath.Dir(logfile), 0755); err != nil {
			return nil, err
		}
		log, err := os.OpenFile(logfile, os.O_WRONLY|os.O_CREATE|os.O_SYNC|os.O_TRUNC, 0644)
		if err != nil {
			return nil, err
		}
		stream = log
		stdout = log
		fdsToClose = append(fdsToClose, log)
	}

	logger.Debug("attaching to container")
	waiter, err := b.client.AttachToContainerNonBlocking(docker.AttachToContainerOptions{
		Container:    id,
		OutputStream: stdout,
		ErrorStream:  stream,
		Stream:       true,
		Stdout:       true,
		Stderr:       true,
	})
	if err != nil {
		logger.Error("failed to attach to container", "error", err)
		return nil, err
	}

	logger.Debug("starting container")
	if err := b.client.StartContainer(id, nil); err != nil {
		logger.Error("failed to start container", "error", err)
		return nil, err
	}
	return fdClosingWaiter{CloseWaiter: waiter, closers: fdsToClose, logger: logger}, nil
}

// fdClosingWaiter wraps a docker.CloseWaiter and closes all io.Closer
// instances passed to it, after it is done waiting.
type fdClosingWaiter struct {
	docker.CloseWaiter
	closers []io.Closer
	logger  log15.Logger
}

func (w fdClosingWaiter) Wait() error {
	err := w.CloseWaiter.Wait()
	for _, closer := range w.closers {
		if err := closer.Close(); err != nil {
			w.logger.Error("failed to close fd", "error", err)
		}
	}
	return err
}

func containerNetInfo(c *docker.Container, networkID string) (ip, mac string) {
	if networkID != "" {
		for _, network := range c.NetworkSettings.Networks {
			if network.NetworkID == networkID {
				return network.IPAddress, network.MacAddress
			}
		}
	}
	return c.NetworkSettings.IPAddress, c.NetworkSettings.MacAddress
}
