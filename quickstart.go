package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	docker "github.com/fsouza/go-dockerclient"
	"gopkg.in/inconshreveable/log15.v2"

	"github.com/blockblaz/native-quickstart/devnet"
	"github.com/blockblaz/native-quickstart/internal/libdevnet"
	"github.com/blockblaz/native-quickstart/nativerollup"
)

var (
	dockerEndpoint = flag.String("docker-endpoint", "unix:///var/run/docker.sock", "Endpoint to the local Docker daemon")
	inventoryFile  = flag.String("inventory", "devnet.yaml", "Devnet definition file")
	artifactFile   = flag.String("artifact", "", "Forge build artifact of the gateway contract (deployed after bring-up)")
	logDir         = flag.String("logdir", "workspace/logs", "Target folder for node log files")
	apiAddr        = flag.String("api", "127.0.0.1:8080", "Listen address of the status API (empty to disable)")
	pullFlag       = flag.Bool("pull", false, "Force re-pulling node images")
	demoFlag       = flag.Bool("demo", false, "Send a demonstration EXECUTE trace after bring-up")
	startTimeout   = flag.Duration("start-timeout", 60*time.Second, "Time to wait for a node RPC to come up")
	loglevelFlag   = flag.Int("loglevel", 3, "Log level to use for displaying system events")

	cleanupFlag    = flag.Bool("cleanup", false, "Remove stale devnet containers and networks, then exit")
	cleanupOlder   = flag.Duration("cleanup-older-than", 0, "With -cleanup, only remove resources older than this")
	cleanupDryRun  = flag.Bool("cleanup-dry-run", false, "With -cleanup, only show what would be removed")
	listFlag       = flag.Bool("list", false, "List running devnet containers, then exit")
	instanceIDFlag = flag.String("instance", "", "With -cleanup or -list, restrict to the given instance ID")
)

func main() {
	runtime.GOMAXPROCS(runtime.NumCPU())

	flag.Parse()
	log15.Root().SetHandler(log15.LvlFilterHandler(log15.Lvl(*loglevelFlag), log15.StreamHandler(os.Stderr, log15.TerminalFormat())))

	if err := run(); err != nil {
		log15.Crit("quickstart failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *cleanupFlag || *listFlag {
		return runMaintenance(ctx)
	}

	inv, err := libdevnet.LoadInventory(*inventoryFile)
	if err != nil {
		return fmt.Errorf("can't load inventory: %v", err)
	}
	cfg, err := devnet.ConfigFromInventory(inv)
	if err != nil {
		return err
	}

	backend, err := libdevnet.Connect(*dockerEndpoint, &libdevnet.Config{
		InstanceID:   libdevnet.GenerateInstanceID(),
		Logger:       log15.Root(),
		PullEnabled:  *pullFlag,
		StartTimeout: *startTimeout,
	})
	if err != nil {
		return err
	}

	var artifact *devnet.ContractArtifact
	if *artifactFile != "" {
		if artifact, err = devnet.LoadArtifact(*artifactFile); err != nil {
			return err
		}
	}

	d := devnet.NewDevnet(backend, cfg, inv, log15.Root(), *logDir)
	if artifact != nil && cfg.L2.RollupAddress != (common.Address{}) {
		d.SetGatewayCode(artifact.RuntimeCode())
	}
	if err := d.Start(ctx); err != nil {
		d.Stop()
		return err
	}
	defer d.Stop()

	if err := bindGateway(ctx, d, cfg, artifact); err != nil {
		return err
	}
	if *demoFlag {
		if err := runDemo(ctx, d, cfg); err != nil {
			return err
		}
	}

	if *apiAddr != "" {
		srv := &http.Server{Addr: *apiAddr, Handler: devnet.NewAPI(d)}
		go func() {
			log15.Info("status API listening", "addr", *apiAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log15.Error("status API failed", "error", err)
			}
		}()
		defer srv.Close()
	}

	log15.Info("devnet up, press ctrl-c to stop")
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log15.Info("shutting down")
	return nil
}

// bindGateway makes the gateway contract available: attach to the genesis
// predeploy when configured, otherwise deploy from the artifact.
func bindGateway(ctx context.Context, d *devnet.Devnet, cfg *devnet.Config, artifact *devnet.ContractArtifact) error {
	switch {
	case cfg.L2.RollupAddress != (common.Address{}):
		rollup, err := d.AttachGateway(ctx)
		if err != nil {
			return err
		}
		log15.Info("gateway attached", "address", rollup.Address())
	case artifact != nil:
		if _, err := d.DeployGateway(ctx, artifact); err != nil {
			return err
		}
	default:
		log15.Warn("no gateway address or artifact configured, execute API disabled")
	}
	return nil
}

// runDemo submits a minimal EXECUTE trace through the gateway and logs the
// gas it reports.
func runDemo(ctx context.Context, d *devnet.Devnet, cfg *devnet.Config) error {
	gw := d.Gateway()
	if gw == nil {
		return fmt.Errorf("demo requires a running l2 node")
	}

	// Fund a throwaway account on L1 first: proves the chain is mining
	// before the execute round-trip.
	addr, err := d.FundAccount(ctx, libdevnet.RoleL1, big.NewInt(1_000_000_000))
	if err != nil {
		return fmt.Errorf("demo funding failed: %v", err)
	}
	log15.Info("demo account funded", "address", addr)

	req := &nativerollup.ExecuteRequest{
		ChainID:     cfg.L2.ChainID,
		GasLimit:    1_000_000,
		Coinbase:    cfg.L1.Deployer.Address,
		BlockNumber: 1,
		GasPrice:    1,
		Timestamp:   uint64(time.Now().Unix()),
		Target: nativerollup.ExecuteTarget{
			To:    cfg.L1.Deployer.Address,
			Value: new(big.Int),
		},
	}
	trace, err := req.Encode()
	if err != nil {
		return err
	}
	resp, err := gw.Execute(ctx, trace)
	if err != nil {
		return fmt.Errorf("demo execute failed: %v", err)
	}
	log15.Info("demo execute done", "gasConsumed", resp.GasConsumed, "succeeded", resp.Succeeded)
	return nil
}

// runMaintenance handles the -cleanup and -list modes, which talk to the
// docker daemon directly.
func runMaintenance(ctx context.Context) error {
	client, err := docker.NewClient(*dockerEndpoint)
	if err != nil {
		return fmt.Errorf("can't connect to docker: %v", err)
	}
	if *listFlag {
		return libdevnet.ListDevnetContainers(ctx, client, *instanceIDFlag)
	}
	return libdevnet.CleanupDevnetContainers(ctx, client, libdevnet.CleanupOptions{
		InstanceID: *instanceIDFlag,
		OlderThan:  *cleanupOlder,
		DryRun:     *cleanupDryRun,
	})
}
