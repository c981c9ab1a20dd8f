package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chordring/internal/config"
	"chordring/internal/discovery"
	"chordring/internal/logging"
	"chordring/internal/node"
	"chordring/internal/ring"
	"chordring/internal/transport"
)

// identifierSpaceBits matches original_source/node.py's m=8.
const identifierSpaceBits = 8

func newServeCmd() *cobra.Command {
	var (
		listenAddr    string
		bootstrapAddr string
		configPath    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start a node, optionally joining an existing ring, then open the operator console",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), listenAddr, bootstrapAddr, configPath)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "host:port this node listens on (required)")
	cmd.Flags().StringVar(&bootstrapAddr, "bootstrap", "", "host:port of an existing ring member to join")
	cmd.Flags().StringVar(&configPath, "config", "", "optional YAML config file")
	cmd.MarkFlagRequired("listen")

	return cmd
}

func runServe(ctx context.Context, listenAddr, bootstrapAddr, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}
	if bootstrapAddr != "" {
		cfg.Bootstrap = bootstrapAddr
	}
	if cfg.Listen == "" {
		return fmt.Errorf("chordnode: --listen is required")
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return err
	}
	defer logger.Sync()

	self, err := ring.ParsePeer(cfg.Listen)
	if err != nil {
		return fmt.Errorf("chordnode: invalid --listen %q: %w", cfg.Listen, err)
	}
	if cfg.Advertise != "" {
		self.Host = cfg.Advertise
	}

	space := ring.NewSpace(identifierSpaceBits)
	ringCfg := ring.Config{
		SuccessorListSize: cfg.SuccessorListSize,
		StabilizeDelay:    cfg.StabilizeDelay,
		PingMaxRetries:    cfg.PingMaxRetries,
		PingRetryDelay:    cfg.PingRetryDelay,
	}

	svc, err := node.New(node.Config{Self: self, Space: space, RingConfig: ringCfg, StorageDir: cfg.StorageDir}, logger)
	if err != nil {
		return err
	}

	server := transport.NewServer(cfg.Listen, svc, logger)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	serverErrs := make(chan error, 1)
	go func() { serverErrs <- server.Serve(runCtx) }()

	bootstrap := cfg.Bootstrap
	if bootstrap == "" && cfg.Discovery.Enabled {
		bootstrap, err = discoverBootstrap(runCtx, cfg, logger)
		if err != nil {
			logger.Sugar().Warnf("chordnode: discovery failed, starting a new ring: %v", err)
		}
	}

	if bootstrap != "" {
		bootstrapPeer, err := ring.ParsePeer(bootstrap)
		if err != nil {
			return fmt.Errorf("chordnode: invalid bootstrap address %q: %w", bootstrap, err)
		}
		if err := svc.Join(runCtx, bootstrapPeer); err != nil {
			return fmt.Errorf("chordnode: join failed: %w", err)
		}
	} else {
		svc.Bootstrap()
		logger.Sugar().Infof("chordnode: started new ring as %s", self.Addr())
	}

	go svc.Stabilize(runCtx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	replDone := make(chan struct{})
	go func() {
		defer close(replDone)
		runREPL(runCtx, svc, logger)
	}()

	select {
	case <-sig:
	case <-replDone:
	case err := <-serverErrs:
		if err != nil {
			logger.Error("transport server exited", zap.Error(err))
		}
	}

	leaveCtx, leaveCancel := context.WithTimeout(context.Background(), cfg.PingRetryDelay)
	defer leaveCancel()
	if err := svc.Leave(leaveCtx); err != nil {
		logger.Sugar().Warnf("chordnode: graceful leave failed: %v", err)
	}

	cancel()
	server.Close()
	return nil
}

// discoverBootstrap asks Route 53 for SRV-record candidates under the
// configured rendezvous domain and returns the first one found; the join
// protocol itself does not change, only where the bootstrap address comes
// from.
func discoverBootstrap(ctx context.Context, cfg config.Config, logger *zap.Logger) (string, error) {
	resolver, err := discovery.New(ctx, cfg.Discovery.AWSRegion, cfg.Discovery.HostedZoneID, cfg.Discovery.RendezvousDNS, logger)
	if err != nil {
		return "", err
	}
	candidates, err := resolver.Candidates(ctx)
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("discovery: no candidates found under %s", cfg.Discovery.RendezvousDNS)
	}
	return candidates[0].Addr(), nil
}
