package main

import (
	"context"
	"crypto/tls"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/zhu327/pingsix/internal/admin"
	"github.com/zhu327/pingsix/internal/catalog"
	"github.com/zhu327/pingsix/internal/config"
	"github.com/zhu327/pingsix/internal/dynconfig"
	"github.com/zhu327/pingsix/internal/healthcheck"
	slog "github.com/zhu327/pingsix/internal/log"
	"github.com/zhu327/pingsix/internal/lifecycle"
	"github.com/zhu327/pingsix/internal/plugin"
	"github.com/zhu327/pingsix/internal/sslstore"
)

func main() {
	cfgPath := flag.String("config", "", "config file path")
	dev := flag.Bool("dev", false, "enable development logging")
	flag.Parse()

	zlog, err := slog.New(*dev)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zlog.Sync()
	sugar := zlog.Sugar()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	registry := catalog.NewRegistry(sugar)
	pluginRegistry := plugin.NewRegistry(sugar)
	registry.SetPluginValidator(pluginRegistry)

	if err := registry.ReplaceAll(cfg.Routes, cfg.Upstreams, cfg.Services, cfg.GlobalRules, cfg.SSLs); err != nil {
		log.Fatalf("failed to load bootstrap catalog: %v", err)
	}

	certs := sslstore.New()
	if err := certs.Load(cfg.SSLs); err != nil {
		log.Fatalf("failed to load TLS certificates: %v", err)
	}

	supervisor := healthcheck.NewSupervisor(sugar, registry)
	dialer := lifecycle.NewHTTPDialer(false)
	dispatcher := lifecycle.NewDispatcher(sugar, registry, pluginRegistry, supervisor.Table(), dialer)
	handler := lifecycle.NewHandler(dispatcher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		sugar.Info("received shutdown signal")
		cancel()
	}()

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		supervisor.Run(gctx)
		return nil
	})

	if cfg.Etcd != nil {
		client, err := dynconfig.NewClient(cfg.Etcd)
		if err != nil {
			log.Fatalf("failed to connect etcd: %v", err)
		}
		defer client.Close()
		source := dynconfig.NewSource(sugar, client, cfg.Etcd.Prefix, registry)
		group.Go(func() error {
			return source.Run(gctx)
		})
	}

	var servers []*http.Server

	if cfg.Admin != nil && cfg.Admin.Listen != "" {
		adminSrv := &http.Server{
			Addr:    cfg.Admin.Listen,
			Handler: admin.NewServer(registry, cfg.Admin.APIKey, sugar),
		}
		servers = append(servers, adminSrv)
		group.Go(func() error {
			sugar.Infof("admin API listening on %s", adminSrv.Addr)
			if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	for _, l := range cfg.Listeners {
		var listenerHandler http.Handler = handler
		if l.H2C {
			listenerHandler = h2c.NewHandler(handler, &http2.Server{})
		}
		srv := &http.Server{
			Addr:         l.Address,
			Handler:      listenerHandler,
			ReadTimeout:  time.Duration(cfg.Server.ReadTimeout * float64(time.Second)),
			WriteTimeout: time.Duration(cfg.Server.SendTimeout * float64(time.Second)),
		}
		servers = append(servers, srv)

		group.Go(func() error {
			if l.TLSCert != "" {
				srv.TLSConfig = &tls.Config{GetCertificate: certs.GetCertificate}
				sugar.Infof("gateway listening on %s (tls)", l.Address)
				if l.H2 {
					srv.TLSConfig.NextProtos = []string{"h2", "http/1.1"}
				}
				if err := srv.ListenAndServeTLS(l.TLSCert, l.TLSKey); err != nil && err != http.ErrServerClosed {
					return err
				}
				return nil
			}
			sugar.Infof("gateway listening on %s", l.Address)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		for _, srv := range servers {
			_ = srv.Shutdown(shutdownCtx)
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		sugar.Fatalf("pingsix exited with error: %v", err)
	}
}
