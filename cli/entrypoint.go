package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/p4mesh/p4mesh/p4mesh"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	p4InfoFlag      = "p4info"
	bmv2JSONFlag    = "bmv2-json"
	configFlag      = "config"
	switchesFlag    = "switches"
	liveReloadFlag  = "live-reload"
	logLevelFlag    = "log-level"
	metricsAddrFlag = "metrics-addr"
)

// ShowVersion shows the p4mesh version information.
func ShowVersion(_ *cli.Context) {
	fmt.Printf("\tversion: %s\n", p4mesh.Version)                     //nolint:forbidigo
	fmt.Printf("\tsource : %s\n", "https://github.com/p4mesh/p4mesh") //nolint:forbidigo
}

// Entrypoint validates the pipeline artifacts, creates the p4mesh manager and runs it along with
// the optional metrics server.
func Entrypoint() *cli.App {
	cli.VersionPrinter = ShowVersion

	return &cli.App{
		Name:    "p4mesh",
		Version: p4mesh.Version,
		Usage:   "program the p4runtime routers of the lab mesh and hold mastership until stopped",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    p4InfoFlag,
				Aliases: []string{"c"},
				Usage:   "p4info file of the compiled data plane program",
				Value:   p4mesh.DefaultP4InfoPath,
			},
			&cli.StringFlag{
				Name:    bmv2JSONFlag,
				Aliases: []string{"b"},
				Usage:   "bmv2 json file of the compiled data plane program",
				Value:   p4mesh.DefaultBmv2JSONPath,
			},
			&cli.StringFlag{
				Name:  configFlag,
				Usage: "p4mesh configuration file to load, the lab defaults are used if absent",
				Value: p4mesh.DefaultConfigPath,
			},
			&cli.StringFlag{
				Name:  switchesFlag,
				Usage: "only run workers for switches whose name matches this glob, e.g. 'r[12]'",
			},
			&cli.BoolFlag{
				Name:  liveReloadFlag,
				Usage: "watch the config file and reprogram the switches when it changes",
			},
			&cli.StringFlag{
				Name:  logLevelFlag,
				Usage: "log level, one of debug, info, warn, error",
				Value: "info",
			},
			&cli.StringFlag{
				Name:  metricsAddrFlag,
				Usage: "address to serve prometheus metrics on, e.g. ':9090', disabled if empty",
			},
		},
		Action: run,
	}
}

func run(c *cli.Context) error {
	for _, path := range []string{c.String(p4InfoFlag), c.String(bmv2JSONFlag)} {
		err := checkFile(path)
		if err != nil {
			return err
		}
	}

	log, _, err := p4mesh.InitLogging(c.String(logLevelFlag))
	if err != nil {
		return err
	}

	defer func() {
		_ = log.Sync()
	}()

	ctx, cancel := p4mesh.SignalHandledContext(log.Infof)
	defer cancel()

	shutdownTracing, err := p4mesh.InitTracing(ctx, p4mesh.TracingConfigFromEnv(), log)
	if err != nil {
		return err
	}

	defer p4mesh.ShutdownTracing(shutdownTracing, log)

	metrics, err := p4mesh.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	opts := []p4mesh.Option{
		p4mesh.WithLogger(log),
		p4mesh.WithMetrics(metrics),
		p4mesh.WithP4InfoFile(c.String(p4InfoFlag)),
		p4mesh.WithBmv2JSONFile(c.String(bmv2JSONFlag)),
		p4mesh.WithLiveReload(c.Bool(liveReloadFlag)),
		p4mesh.WithSwitchSelector(c.String(switchesFlag)),
	}

	if c.IsSet(configFlag) {
		opts = append(opts, p4mesh.WithConfigFile(c.String(configFlag)))
	}

	m, err := p4mesh.GetManager(opts...)
	if err != nil {
		return err
	}

	wg, ctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		return m.Run(ctx)
	})

	if addr := c.String(metricsAddrFlag); addr != "" {
		serveMetrics(ctx, wg, addr, metrics, log)
	}

	return wg.Wait()
}

func serveMetrics(
	ctx context.Context,
	wg *errgroup.Group,
	addr string,
	metrics *p4mesh.Metrics,
	log *zap.SugaredLogger,
) {
	srv := p4mesh.NewMetricsServer(addr, metrics)

	wg.Go(func() error {
		log.Infof("serving metrics on %s", addr)

		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server failed, err: %w", err)
		}

		return nil
	})

	wg.Go(func() error {
		<-ctx.Done()

		return p4mesh.ShutdownMetricsServer(srv)
	})
}

func checkFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: file %s does not exist", p4mesh.ErrConfig, path)
		}

		return fmt.Errorf("%w: failed checking file %s, err: %w", p4mesh.ErrConfig, path, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory, not a file", p4mesh.ErrConfig, path)
	}

	return nil
}
