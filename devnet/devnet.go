package devnet

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/sync/errgroup"
	"gopkg.in/inconshreveable/log15.v2"

	"github.com/blockblaz/native-quickstart/internal/libdevnet"
	"github.com/blockblaz/native-quickstart/nativerollup"
)

// Environment variables injected into node containers.
const (
	envNetworkID    = "DEVNET_NETWORK_ID"
	envRole         = "DEVNET_ROLE"
	envCliquePeriod = "DEVNET_CLIQUE_PERIOD"
	envL1RPC        = "DEVNET_L1_RPC"
	envSequencerRPC = "DEVNET_SEQUENCER_RPC"
	envMinerAddress = "DEVNET_MINER"
	envMinerKey     = "DEVNET_MINER_KEY"
)

// Container paths for uploaded files.
const (
	genesisPath   = "/genesis.json"
	jwtSecretPath = "/jwt.secret"
)

const defaultRPCPort = 8545

// Node is a running devnet node with its RPC connection.
type Node struct {
	*libdevnet.NodeInfo
	RPCURL string

	mu     sync.Mutex
	client *ethclient.Client
}

// EthClient returns a cached RPC client for the node.
func (n *Node) EthClient() (*ethclient.Client, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.client != nil {
		return n.client, nil
	}
	client, err := ethclient.Dial(n.RPCURL)
	if err != nil {
		return nil, err
	}
	n.client = client
	return client, nil
}

// Devnet is a native rollup network with all necessary components: an L1
// chain, an L2 execution node and the sequencer driving it.
type Devnet struct {
	config  *Config
	inv     libdevnet.Inventory
	backend libdevnet.ContainerBackend
	logger  log15.Logger
	logDir  string

	mu          sync.Mutex
	networkID   string
	nodes       map[string]*Node
	rollup      *nativerollup.NativeRollup
	gateway     *nativerollup.Gateway
	gatewayCode []byte
	vaults      map[string]*Vault
}

// NewDevnet creates a devnet from its configuration. Nothing is started
// until Start is called.
func NewDevnet(backend libdevnet.ContainerBackend, cfg *Config, inv libdevnet.Inventory, logger log15.Logger, logDir string) *Devnet {
	if logger == nil {
		logger = log15.Root()
	}
	return &Devnet{
		config:  cfg,
		inv:     inv,
		backend: backend,
		logger:  logger,
		logDir:  logDir,
		nodes:   make(map[string]*Node),
		vaults: map[string]*Vault{
			libdevnet.RoleL1:        NewVault(cfg.L1.ChainID),
			libdevnet.RoleL2:        NewVault(cfg.L2.ChainID),
			libdevnet.RoleSequencer: NewVault(cfg.L2.ChainID),
		},
	}
}

// Vault returns the funding vault for the chain the given node role serves.
func (d *Devnet) Vault(role string) *Vault {
	return d.vaults[role]
}

// Exec runs a command inside a node's container and returns its output.
func (d *Devnet) Exec(ctx context.Context, role string, cmd []string) (string, error) {
	node := d.Node(role)
	if node == nil {
		return "", fmt.Errorf("no %s node running", role)
	}
	return d.backend.RunProgram(ctx, node.ID, cmd)
}

// FundAccount creates a fresh vault-funded account on the chain behind the
// given role and waits for the funding transaction to be mined.
func (d *Devnet) FundAccount(ctx context.Context, role string, amount *big.Int) (common.Address, error) {
	vault := d.Vault(role)
	node := d.Node(role)
	if vault == nil || node == nil {
		return common.Address{}, fmt.Errorf("no %s chain to fund on", role)
	}
	client, err := node.EthClient()
	if err != nil {
		return common.Address{}, err
	}
	return vault.CreateAccount(ctx, client, amount)
}

// Node returns the running node for the given role.
func (d *Devnet) Node(role string) *Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nodes[role]
}

// Nodes returns all running nodes.
func (d *Devnet) Nodes() []*Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	nodes := make([]*Node, 0, len(d.nodes))
	for _, n := range d.nodes {
		nodes = append(nodes, n)
	}
	return nodes
}

// Gateway returns the execute dispatch gateway. It is available once the
// L2 node is up.
func (d *Devnet) Gateway() *nativerollup.Gateway {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gateway
}

// Rollup returns the gateway contract binding, once deployed or discovered.
func (d *Devnet) Rollup() *nativerollup.NativeRollup {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rollup
}

// SetGatewayCode arranges for the execute gateway to be present as a genesis
// predeploy at the configured rollup address. Must be called before Start.
func (d *Devnet) SetGatewayCode(runtime []byte) {
	d.mu.Lock()
	d.gatewayCode = runtime
	d.mu.Unlock()
}

// Start brings up the whole devnet: the network, then L1, then L2 and the
// sequencer pointed at it.
func (d *Devnet) Start(ctx context.Context) error {
	if err := d.createNetwork(); err != nil {
		return err
	}
	if err := d.pullImages(ctx); err != nil {
		return err
	}

	if err := d.startNode(ctx, libdevnet.RoleL1); err != nil {
		return err
	}
	if err := d.startNode(ctx, libdevnet.RoleL2); err != nil {
		return err
	}
	if d.inv.HasRole(libdevnet.RoleSequencer) {
		if err := d.startNode(ctx, libdevnet.RoleSequencer); err != nil {
			return err
		}
	}
	return nil
}

func (d *Devnet) createNetwork() error {
	name := "native-quickstart"
	id, err := d.backend.NetworkNameToID(name)
	if err != nil {
		id, err = d.backend.CreateNetwork(name)
		if err != nil {
			return fmt.Errorf("can't create network: %v", err)
		}
		d.logger.Info("network created", "name", name, "id", id[:8])
	}
	d.mu.Lock()
	d.networkID = id
	d.mu.Unlock()
	return nil
}

// pullImages fetches all node images up front, in parallel.
func (d *Devnet) pullImages(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, def := range d.inv.Nodes {
		def := def
		eg.Go(func() error {
			return d.backend.PullImage(ctx, def.Image)
		})
	}
	return eg.Wait()
}

func (d *Devnet) startNode(ctx context.Context, role string) error {
	def, ok := d.inv.Node(role)
	if !ok {
		return fmt.Errorf("no %s node in inventory", role)
	}
	opts, err := d.nodeOptions(def)
	if err != nil {
		return err
	}

	d.logger.Info("starting node", "role", role, "image", def.Image)
	info, err := d.backend.StartNode(ctx, opts)
	if err != nil {
		return fmt.Errorf("can't start %s node: %v", role, err)
	}

	node := &Node{
		NodeInfo: info,
		RPCURL:   fmt.Sprintf("http://%s:%d", info.IP, rpcPort(def)),
	}
	d.mu.Lock()
	d.nodes[role] = node
	d.mu.Unlock()

	// The container port being open doesn't mean the RPC is serving yet.
	if def.Port != 0 {
		client, err := WaitUp(ctx, node.RPCURL)
		if err != nil {
			return err
		}
		client.Close()
	}
	if role == libdevnet.RoleL2 {
		if err := d.buildGateway(node); err != nil {
			return err
		}
	}
	d.logger.Info("node up", "role", role, "rpc", node.RPCURL)
	return nil
}

// buildGateway wires the execute dispatch path: chain-ID validation in front
// of an eth_call relay to the precompile on the L2 node.
func (d *Devnet) buildGateway(l2 *Node) error {
	client, err := l2.EthClient()
	if err != nil {
		return err
	}
	gw, err := nativerollup.NewGateway(nativerollup.GatewayConfig{
		ChainID: d.config.L2.ChainID,
		Oracle:  nativerollup.NewRPCOracle(client),
		Logger:  d.logger.New("module", "gateway"),
	})
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.gateway = gw
	d.mu.Unlock()
	return nil
}

// nodeOptions assembles the container start options for a node: genesis
// file, JWT secret, and the env vars the node entrypoints read.
func (d *Devnet) nodeOptions(def libdevnet.NodeDefinition) (libdevnet.NodeOptions, error) {
	var (
		genesis *Genesis
		err     error
		env     = map[string]string{envRole: def.Role}
		files   = map[string][]byte{}
	)
	switch def.Role {
	case libdevnet.RoleL1:
		genesis, err = encodeGenesisFile(d.config.BuildL1Genesis())
		env[envNetworkID] = fmt.Sprint(d.config.L1.NetworkID)
		env[envCliquePeriod] = fmt.Sprint(d.config.L1.CliquePeriod)
		env[envMinerAddress] = d.config.L1.Deployer.Address.Hex()
		env[envMinerKey] = d.config.L1.Deployer.PrivateKeyHex
	case libdevnet.RoleL2, libdevnet.RoleSequencer:
		genesis, err = encodeGenesisFile(d.config.BuildL2Genesis(d.gatewayCode))
		env[envNetworkID] = fmt.Sprint(d.config.L2.NetworkID)
		if l1 := d.Node(libdevnet.RoleL1); l1 != nil {
			env[envL1RPC] = l1.RPCURL
		}
		if def.Role == libdevnet.RoleL2 {
			if seq := d.Node(libdevnet.RoleSequencer); seq != nil {
				env[envSequencerRPC] = seq.RPCURL
			}
		}
		if d.config.L2.JWTSecret != "" {
			files[jwtSecretPath] = []byte(d.config.L2.JWTSecret)
		}
	default:
		return libdevnet.NodeOptions{}, fmt.Errorf("unknown node role %q", def.Role)
	}
	if err != nil {
		return libdevnet.NodeOptions{}, err
	}
	files[genesisPath] = genesis.JSON

	// Inventory env entries override the computed defaults.
	for k, v := range def.Env {
		env[k] = v
	}
	return libdevnet.NodeOptions{
		Role:      def.Role,
		Image:     def.Image,
		Env:       env,
		Files:     files,
		CheckPort: def.Port,
		NetworkID: d.networkID,
		LogDir:    d.logDir,
	}, nil
}

// DeployGateway deploys the execute gateway contract to the L2 chain from
// the given forge artifact and remembers the binding.
func (d *Devnet) DeployGateway(ctx context.Context, artifact *ContractArtifact) (*nativerollup.NativeRollup, error) {
	l2 := d.Node(libdevnet.RoleL2)
	if l2 == nil {
		return nil, fmt.Errorf("no l2 node running")
	}
	client, err := l2.EthClient()
	if err != nil {
		return nil, err
	}
	rollup, err := DeployRollup(ctx, client, d.config.L1.Deployer, d.config.L2.ChainID, artifact)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.rollup = rollup
	d.mu.Unlock()
	d.logger.Info("gateway deployed", "address", rollup.Address())
	return rollup, nil
}

// AttachGateway binds to an already deployed gateway, e.g. the genesis
// predeploy, after verifying its chain ID.
func (d *Devnet) AttachGateway(ctx context.Context) (*nativerollup.NativeRollup, error) {
	l2 := d.Node(libdevnet.RoleL2)
	if l2 == nil {
		return nil, fmt.Errorf("no l2 node running")
	}
	client, err := l2.EthClient()
	if err != nil {
		return nil, err
	}
	rollup, err := nativerollup.NewNativeRollup(d.config.L2.RollupAddress, client)
	if err != nil {
		return nil, err
	}
	chainID, err := rollup.ChainID(nil)
	if err != nil {
		return nil, fmt.Errorf("can't read gateway chain ID: %v", err)
	}
	if chainID.Cmp(d.config.L2.ChainID) != 0 {
		return nil, fmt.Errorf("gateway chain ID mismatch: have %v, want %v", chainID, d.config.L2.ChainID)
	}
	d.mu.Lock()
	d.rollup = rollup
	d.mu.Unlock()
	return rollup, nil
}

// Stop tears the devnet down: all node containers, then the network.
func (d *Devnet) Stop() error {
	d.mu.Lock()
	nodes := d.nodes
	d.nodes = make(map[string]*Node)
	networkID := d.networkID
	d.networkID = ""
	d.gateway = nil
	d.mu.Unlock()

	var firstErr error
	for role, node := range nodes {
		d.logger.Info("stopping node", "role", role, "container", node.ID)
		if err := d.backend.StopNode(node.ID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if networkID != "" {
		if err := d.backend.RemoveNetwork(networkID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Genesis is an encoded genesis file together with the chain it belongs to.
type Genesis struct {
	ChainID *big.Int
	JSON    []byte
}

func encodeGenesisFile(g *core.Genesis) (*Genesis, error) {
	data, err := EncodeGenesis(g)
	if err != nil {
		return nil, err
	}
	return &Genesis{ChainID: g.Config.ChainID, JSON: data}, nil
}

func rpcPort(def libdevnet.NodeDefinition) uint16 {
	if def.Port != 0 {
		return def.Port
	}
	return defaultRPCPort
}
