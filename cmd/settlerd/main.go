package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/vctt94/bisonbotkit/logging"
	"golang.org/x/sync/errgroup"

	"github.com/ivedmohan/chainmate/chainscan"
	"github.com/ivedmohan/chainmate/outcome"
	"github.com/ivedmohan/chainmate/registry"
	"github.com/ivedmohan/chainmate/settler"
	"github.com/ivedmohan/chainmate/settler/attemptdb"
)

var (
	datadir    = flag.String("datadir", "", "Directory for logs and the attempt database")
	debugLevel = flag.String("debuglevel", "info", "Log level (trace, debug, info, warn, error)")
)

func realMain() error {
	flag.Parse()

	dir := *datadir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home dir: %w", err)
		}
		dir = filepath.Join(home, ".chainmate-settlerd")
	}
	if err := os.MkdirAll(filepath.Join(dir, "logs"), 0700); err != nil {
		return err
	}

	logBknd, err := logging.NewLogBackend(logging.LogConfig{
		LogFile:        filepath.Join(dir, "logs", "settlerd.log"),
		DebugLevel:     *debugLevel,
		MaxLogFiles:    10,
		MaxBufferLines: 1000,
	})
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	log := logBknd.Logger("MAIN")

	opts, err := registry.FromEnv(os.Getenv)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	reg, err := registry.NewRegistry(logBknd.Logger("RGST"), opts)
	if err != nil {
		return fmt.Errorf("build chain registry: %w", err)
	}

	gameAPI := os.Getenv(registry.EnvGameAPI)
	attestAPI := os.Getenv(registry.EnvAttestAPI)
	if gameAPI == "" || attestAPI == "" {
		return fmt.Errorf("%s and %s must be set", registry.EnvGameAPI, registry.EnvAttestAPI)
	}

	db, err := attemptdb.NewBoltDB(filepath.Join(dir, "attempts.db"))
	if err != nil {
		return fmt.Errorf("open attempt db: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var chains []*settler.Chain
	scanLog := logBknd.Logger("SCAN")
	setlLog := logBknd.Logger("SETL")
	for _, cfg := range reg.Chains() {
		client, err := ethclient.DialContext(ctx, cfg.RPCURL)
		if err != nil {
			return fmt.Errorf("dial %s rpc: %w", cfg.Key, err)
		}
		defer client.Close()
		chains = append(chains, &settler.Chain{
			Cfg:       cfg,
			Scanner:   chainscan.NewScanner(scanLog, client, cfg),
			Submitter: settler.NewSubmitter(setlLog, client, cfg, reg.Operator(), db),
		})
		log.Infof("chain %s (%s, id=%s) ready", cfg.Key, cfg.Name, cfg.ChainID)
	}

	outLog := logBknd.Logger("OUTC")
	sweeper := settler.NewSweeper(
		logBknd.Logger("SWPR"),
		reg.SweepInterval(),
		chains,
		outcome.NewSource(outLog, gameAPI),
		outcome.NewAttestClient(outLog, attestAPI),
		outcome.NewAttestor(outLog, reg.AttesterPubKey(), reg.FreshnessWindow()),
		outcome.NewReconciler(outLog),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sweeper.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Infof("shutdown requested; draining in-flight sweeps")
		sweeper.Stop()
		return nil
	})

	return g.Wait()
}

func main() {
	if err := realMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
