package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/BetterCallFirewall/postcap/internal/cert"
	"github.com/BetterCallFirewall/postcap/internal/config"
	"github.com/BetterCallFirewall/postcap/internal/proxy"
	"github.com/BetterCallFirewall/postcap/internal/recorder"
	"github.com/BetterCallFirewall/postcap/internal/replay"
	"github.com/BetterCallFirewall/postcap/internal/storage"
	"github.com/BetterCallFirewall/postcap/internal/web"
	"github.com/BetterCallFirewall/postcap/internal/websocket"
)

var (
	cfgFile        string
	hostFilter     string
	collectionName string
	outputDir      string
	proxyAddr      string
	webAddr        string
	upstreamAddr   string
	caFile         string
)

var rootCmd = &cobra.Command{
	Use:   "postcap",
	Short: "Recording proxy that keeps a Postman collection in sync with observed traffic",
	Long: `postcap sits between a client and one target host, records every
request it sees and writes a Postman collection to disk after each one.
HTTPS traffic for the recorded host is intercepted with a locally
generated CA; everything else is tunneled untouched. A companion API
exposes the captures, the live collection document and the capture
settings.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "path to a yaml config file")
	rootCmd.Flags().StringVar(&hostFilter, "host", "", "host to record")
	rootCmd.Flags().StringVar(&collectionName, "collection", "", "collection name, also the output file name")
	rootCmd.Flags().StringVar(&outputDir, "output-dir", "", "directory the collection file is written to")
	rootCmd.Flags().StringVar(&proxyAddr, "proxy-addr", "", "proxy listen address")
	rootCmd.Flags().StringVar(&webAddr, "web-addr", "", "viewer api listen address")
	rootCmd.Flags().StringVar(&upstreamAddr, "upstream", "", "chained proxy address (host:port)")
	rootCmd.Flags().StringVar(&caFile, "ca", "", "path to the generated ca certificate")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// applyFlags lets command line flags win over the config file and the
// environment.
func applyFlags(cfg *config.Config) {
	if hostFilter != "" {
		cfg.Capture.HostFilter = hostFilter
	}
	if collectionName != "" {
		cfg.Capture.CollectionName = collectionName
	}
	if outputDir != "" {
		cfg.Capture.OutputDir = outputDir
	}
	if proxyAddr != "" {
		cfg.Proxy.ListenAddr = proxyAddr
	}
	if webAddr != "" {
		cfg.Web.ListenAddr = webAddr
	}
	if upstreamAddr != "" {
		cfg.Proxy.UpstreamAddr = upstreamAddr
	}
	if caFile != "" {
		cfg.Cert.CertFile = caFile
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyFlags(cfg)

	// stdout belongs to the recorder console, logs go to stderr
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	certs, err := cert.NewManager(cfg.Cert.CertFile)
	if err != nil {
		return fmt.Errorf("preparing ca: %w", err)
	}

	svc := recorder.NewService(recorder.Options{
		Host:           cfg.Capture.HostFilter,
		CollectionName: cfg.Capture.CollectionName,
		OutputDir:      cfg.Capture.OutputDir,
		Logger:         logger,
	})

	captures := storage.NewCaptureLog()
	hub := websocket.NewHub(logger)
	upstream := proxy.NewUpstream(cfg.Proxy.UpstreamAddr)

	proxySrv := proxy.NewServer(cfg.Proxy.ListenAddr, svc, captures, certs, upstream, hub, logger)
	webSrv := web.NewServer(cfg.Web.ListenAddr, captures, svc, replay.NewClient(replay.Options{}), hub, logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(gCtx)
	})
	g.Go(func() error {
		return proxySrv.Start(gCtx)
	})
	g.Go(func() error {
		return webSrv.Start(gCtx)
	})

	return g.Wait()
}
