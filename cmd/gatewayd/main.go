/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command gatewayd runs the policy-mediated tool-call gateway: the
// "serve" subcommand starts the HTTP (and optionally stdio) transports,
// "migrate" applies the Postgres schema via goose.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/canopyiq/toolgateway/internal/config"
	"github.com/canopyiq/toolgateway/pkg/adminapi"
	"github.com/canopyiq/toolgateway/pkg/approval"
	"github.com/canopyiq/toolgateway/pkg/audit"
	"github.com/canopyiq/toolgateway/pkg/authtoken"
	"github.com/canopyiq/toolgateway/pkg/bundle"
	"github.com/canopyiq/toolgateway/pkg/callback"
	"github.com/canopyiq/toolgateway/pkg/enginecache"
	"github.com/canopyiq/toolgateway/pkg/log"
	"github.com/canopyiq/toolgateway/pkg/policy"
	"github.com/canopyiq/toolgateway/pkg/redisstore"
	"github.com/canopyiq/toolgateway/pkg/rollout"
	"github.com/canopyiq/toolgateway/pkg/rpcserver"
	"github.com/canopyiq/toolgateway/pkg/sqlstore"
	"github.com/canopyiq/toolgateway/pkg/telemetry"
	"github.com/canopyiq/toolgateway/pkg/toolregistry"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: gatewayd <serve|migrate> [flags]")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", os.Args[1])
		os.Exit(2)
	}
}

func runMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config.yaml")
	migrationsDir := fs.String("dir", "migrations", "path to the migrations directory")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	fatalOn(err, "load config")

	store, err := sqlstore.Open(cfg.SQL.DSN)
	fatalOn(err, "open sql store")
	defer store.Close()

	fatalOn(goose.SetDialect("postgres"), "set goose dialect")
	fatalOn(goose.Up(store.DB().DB, *migrationsDir), "run migrations")

	fmt.Println("migrations applied")
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config.yaml")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	fatalOn(err, "load config")

	logger := log.NewLogger(log.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.New(ctx, telemetry.Config{ServiceName: cfg.Tracing.ServiceName, Enabled: cfg.Tracing.Enabled})
	fatalOn(err, "init telemetry")
	defer tp.Shutdown(context.Background())

	sqlStore, err := sqlstore.Open(cfg.SQL.DSN)
	fatalOn(err, "open sql store")
	defer sqlStore.Close()

	redisClient, err := redisstore.Open(cfg.Redis.Addr)
	fatalOn(err, "open redis client")
	defer redisClient.Close()

	versions := sqlstore.NewVersionStore(sqlStore, cfg.Policy.StoreDir)
	rolloutStore := sqlstore.NewRolloutStore(sqlStore)
	rbacStore := sqlstore.NewRBACStore(sqlStore)
	settingsStore := sqlstore.NewTenantSettingStore(sqlStore)
	auditStore := sqlstore.NewAuditStore(sqlStore)

	cache := enginecache.New(enginecache.FileLoader{PathFor: func(version string) (string, error) {
		if version == "__builtin__" {
			return cfg.Policy.DefaultBundlePath, nil
		}
		return versions.Lookup(ctx, version)
	}})
	resolver := rollout.New(rolloutStore, cache)
	staticEngine := policy.Compile(bundle.Contents{Defaults: bundle.Defaults{Decision: "deny"}})

	coordinator := approval.New(redisClient)
	auditWriter := audit.NewWriter(auditStore)

	registry := toolregistry.New()
	registerSampleTools(registry)

	tokenVerifier := authtoken.NewVerifier(authtoken.Config{
		JWKSURL:   cfg.Auth.JWKSURL,
		Issuer:    cfg.Auth.Issuer,
		Audience:  cfg.Auth.Audience,
		DevSecret: cfg.Auth.DevHS256Secret,
	})

	dispatcher := rpcserver.NewDispatcher(resolver, staticEngine, coordinator, registry, auditWriter, logger, rpcserver.Config{
		ApprovalWaitTimeout: cfg.ApprovalWait.DefaultTimeout,
		DefaultApprovalTTL:  15 * time.Minute,
	})
	httpTransport := rpcserver.NewHTTPTransport(dispatcher, tokenVerifier)

	callbackVerifier := callback.NewVerifier(cfg.Webhook.SigningSecret, int(cfg.Webhook.Tolerance.Seconds()))
	callbackHandlers := callback.NewHandlers(callbackVerifier, coordinator, auditWriter, logger)

	router := chi.NewRouter()
	router.Use(cors.Handler(cors.Options{AllowedOrigins: []string{"*"}, AllowedMethods: []string{"GET", "POST", "PUT"}}))
	router.Post("/mcp", httpTransport.ServeHTTP)
	router.Post("/callback/chat", callbackHandlers.HandleChatCallback)
	router.Get("/callback/url", callbackHandlers.HandleURLCallback)
	router.Get("/healthz", healthz)
	router.Get("/readyz", readyz(sqlStore, redisClient))
	router.Mount("/admin", adminapi.NewRouter(tokenVerifier, versions, rolloutStore, rbacStore, settingsStore, cache))

	if cfg.Server.StdioEnable {
		go runStdio(ctx, dispatcher, logger)
	}

	srv := &http.Server{Addr: cfg.Server.HTTPAddr, Handler: router}
	go func() {
		logger.WithFields(log.NewFields().Component("gatewayd").Operation("serve").Logrus()).
			Info("listening on " + cfg.Server.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithFields(log.NewFields().Component("gatewayd").Error(err).Logrus()).Fatal("http server failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func runStdio(ctx context.Context, dispatcher *rpcserver.Dispatcher, logger *logrus.Logger) {
	transport := rpcserver.NewStdioTransport(dispatcher)
	if err := transport.Run(ctx, os.Stdin, os.Stdout); err != nil {
		logger.WithFields(log.NewFields().Component("gatewayd").Operation("stdio").Error(err).Logrus()).
			Warn("stdio transport exited")
	}
}

func registerSampleTools(registry *toolregistry.Registry) {
	registry.Register(toolregistry.Descriptor{
		Name:        "fs.write",
		Title:       "Write file",
		Description: "Simulates writing base64-encoded bytes to a path; nothing is written to disk.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}, "bytes": map[string]any{"type": "string"}},
			"required":   []string{"path", "bytes"},
		},
	}, handleFSWrite)

	registry.Register(toolregistry.Descriptor{
		Name:        "cloud.ops",
		Title:       "Cloud operation",
		Description: "Simulates a billable cloud operation; real execution is out of scope for this gateway.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"op": map[string]any{"type": "string"}, "estimated_cost_usd": map[string]any{"type": "number"}},
			"required":   []string{"op"},
		},
	}, handleCloudOps)

	registry.Register(toolregistry.Descriptor{
		Name:        "http.fetch",
		Title:       "Fetch URL",
		Description: "Issues an HTTP GET against the given URL and returns the response status code.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"url": map[string]any{"type": "string"}},
			"required":   []string{"url"},
		},
	}, handleHTTPFetch)
}

func handleFSWrite(ctx context.Context, args map[string]any, call toolregistry.CallContext) (any, error) {
	path := policy.Args(args).GetString("path")
	return map[string]any{"path": path, "written": true}, nil
}

func handleCloudOps(ctx context.Context, args map[string]any, call toolregistry.CallContext) (any, error) {
	op := policy.Args(args).GetString("op")
	return map[string]any{"op": op, "status": "completed"}, nil
}

func handleHTTPFetch(ctx context.Context, args map[string]any, call toolregistry.CallContext) (any, error) {
	url := policy.Args(args).GetString("url")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return map[string]any{"status": resp.StatusCode}, nil
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func readyz(store *sqlstore.Store, redisClient *redisstore.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"store_unavailable"}`))
			return
		}
		if err := redisClient.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"redis_unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

func fatalOn(err error, action string) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", action, err)
		os.Exit(1)
	}
}
