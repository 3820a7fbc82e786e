package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/hextrackr/advisory-sync/cache"
	"github.com/hextrackr/advisory-sync/cisco"
	"github.com/hextrackr/advisory-sync/config"
	"github.com/hextrackr/advisory-sync/credentials"
	"github.com/hextrackr/advisory-sync/db"
	"github.com/hextrackr/advisory-sync/kevc"
	"github.com/hextrackr/advisory-sync/paloalto"
	"github.com/hextrackr/advisory-sync/reconcile"
	"github.com/hextrackr/advisory-sync/server"
	"github.com/hextrackr/advisory-sync/syncer"
	"github.com/hextrackr/advisory-sync/types"
	"github.com/hextrackr/advisory-sync/utils"
)

var (
	target     = flag.String("target", "", "sync target (cisco, palo-alto, kev) or serve")
	configPath = flag.String("config", "", "path to a YAML config file")
	user       = flag.String("user", "default", "user whose stored Cisco credentials are used")
	cves       = flag.String("cves", "", "comma separated CVE IDs to sync instead of the inventory")
	progress   = flag.Bool("progress", false, "show a progress bar")
	reportPath = flag.String("report", "", "write the sync report as JSON to this path")
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	flag.Parse()

	cfg, err := config.Load(afero.NewOsFs(), *configPath)
	if err != nil {
		return err
	}
	logger := utils.NewLogger(cfg.Log.Level, cfg.Log.Color)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := db.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, db.WithLogger(logger))
	if err != nil {
		return xerrors.Errorf("database error: %w", err)
	}
	defer d.Close()

	gateway, err := cache.NewGateway(cacheOptions(cfg, logger)...)
	if err != nil {
		return xerrors.Errorf("cache error: %w", err)
	}

	coords := coordinators(cfg, d, gateway, logger)

	if *target == "serve" {
		return serve(ctx, cfg, d, gateway, coords, logger)
	}

	vendor, ok := map[string]string{
		"cisco":     types.VendorCisco,
		"palo-alto": types.VendorPaloAlto,
		"kev":       types.VendorKEV,
	}[*target]
	if !ok {
		return xerrors.New("unknown target")
	}

	req := types.SyncRequest{UserID: *user}
	if *cves != "" {
		req.CVEs = strings.Split(*cves, ",")
	}
	if *progress {
		req.Progress = utils.NewProgressBar()
	}

	report, err := coords[vendor].Sync(ctx, req)
	if err != nil {
		return xerrors.Errorf("error in %s sync: %w", *target, err)
	}
	logger.Info("Done", slog.String("target", *target), slog.Int("reconciled", report.Reconciled),
		slog.Int("matched", report.Matched), slog.Int("not_found", report.NotFound), slog.Int("failed", report.Failed))

	if *reportPath != "" {
		if err = utils.NewFs(afero.NewOsFs()).WriteJSON(*reportPath, report); err != nil {
			return xerrors.Errorf("report error: %w", err)
		}
	}
	return nil
}

func cacheOptions(cfg config.Config, logger *slog.Logger) []cache.Option {
	opts := []cache.Option{cache.WithLogger(logger)}
	for name, sc := range cfg.Cache {
		opts = append(opts, cache.WithScope(name, sc))
	}
	return opts
}

func coordinators(cfg config.Config, d *db.DB, gateway *cache.Gateway, logger *slog.Logger) map[string]*syncer.Coordinator {
	writer := reconcile.NewWriter(d, reconcile.WithLogger(logger))
	creds := credentials.NewProvider(d, credentials.WithLogger(logger), credentials.WithFallback(types.Credentials{
		ClientID:     cfg.Cisco.ClientID,
		ClientSecret: cfg.Cisco.ClientSecret,
	}))

	ciscoOpts := []cisco.Option{
		cisco.WithDelays(cfg.Cisco.BatchDelay, cfg.Cisco.CVEDelay),
		cisco.WithStaleAfter(cfg.StaleAfter),
		cisco.WithLogger(logger),
	}
	if cfg.Cisco.BaseURL != "" {
		ciscoOpts = append(ciscoOpts, cisco.WithBaseURL(cfg.Cisco.BaseURL))
	}
	if cfg.Cisco.TokenURL != "" {
		ciscoOpts = append(ciscoOpts, cisco.WithTokenURL(cfg.Cisco.TokenURL))
	}

	paloOpts := []paloalto.Option{
		paloalto.WithDelay(cfg.PaloAlto.Delay),
		paloalto.WithStaleAfter(cfg.StaleAfter),
		paloalto.WithLogger(logger),
	}
	if cfg.PaloAlto.BaseURL != "" {
		paloOpts = append(paloOpts, paloalto.WithBaseURL(cfg.PaloAlto.BaseURL))
	}

	kevOpts := []kevc.Option{kevc.WithRetry(cfg.KEV.Retry), kevc.WithLogger(logger)}
	if cfg.KEV.URL != "" {
		kevOpts = append(kevOpts, kevc.WithURL(cfg.KEV.URL))
	}

	coords := map[string]*syncer.Coordinator{}
	for _, u := range []syncer.Updater{
		cisco.NewUpdater(d, writer, creds, ciscoOpts...),
		paloalto.NewUpdater(d, writer, paloOpts...),
		kevc.NewUpdater(d, kevOpts...),
	} {
		coords[u.Vendor()] = syncer.NewCoordinator(u, d,
			syncer.WithCache(gateway),
			syncer.WithNextSyncInterval(cfg.NextSyncInterval),
			syncer.WithLogger(logger),
		)
	}
	return coords
}

func serve(ctx context.Context, cfg config.Config, d *db.DB, gateway *cache.Gateway,
	coords map[string]*syncer.Coordinator, logger *slog.Logger) error {
	srv := server.New(d, gateway, []*syncer.Coordinator{
		coords[types.VendorCisco],
		coords[types.VendorPaloAlto],
		coords[types.VendorKEV],
	}, server.WithLogger(logger))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen(cfg.Listen)
	}()

	select {
	case err := <-errCh:
		return xerrors.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return xerrors.Errorf("shutdown error: %w", err)
	}
	return nil
}
