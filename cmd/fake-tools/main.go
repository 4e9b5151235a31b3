// ABOUTME: Mock SharePoint, ServiceNow and policy KB tool servers for local runs and E2E testing.
// ABOUTME: Usage: fake-tools [-host localhost] [-sharepoint 5101] [-servicenow 5102] [-policy-kb 5103]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/2389/toolgate/internal/mcp/mcptest"
)

func main() {
	host := flag.String("host", "localhost", "Listen host")
	spPort := flag.Int("sharepoint", 5101, "mcp-sharepoint port (0 to disable)")
	snPort := flag.Int("servicenow", 5102, "mcp-servicenow port (0 to disable)")
	kbPort := flag.Int("policy-kb", 5103, "mcp-policy-kb port (0 to disable)")
	flag.Parse()

	ports := map[string]int{
		"mcp-sharepoint": *spPort,
		"mcp-servicenow": *snPort,
		"mcp-policy-kb":  *kbPort,
	}

	if err := run(*host, ports); err != nil {
		log.Fatal(err)
	}
}

type service struct {
	fake *mcptest.Server
	http *http.Server
}

func run(host string, ports map[string]int) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	var services []service
	for _, cfg := range mcptest.Services() {
		port := ports[cfg.Name]
		if port == 0 {
			continue
		}
		cfg.Logger = logger
		fake, err := mcptest.NewServer(cfg)
		if err != nil {
			return fmt.Errorf("creating %s: %w", cfg.Name, err)
		}
		services = append(services, service{
			fake: fake,
			http: &http.Server{
				Addr:              fmt.Sprintf("%s:%d", host, port),
				Handler:           fake.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			},
		})
	}
	if len(services) == 0 {
		return errors.New("every service is disabled")
	}

	errCh := make(chan error, len(services))
	for _, svc := range services {
		go func(svc service) {
			logger.Info("serving", "server", svc.fake.Name(), "url", "http://"+svc.http.Addr+"/sse")
			if err := svc.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("%s: %w", svc.fake.Name(), err)
			}
		}(svc)
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()

	var wg sync.WaitGroup
	for _, svc := range services {
		wg.Add(1)
		go func(svc service) {
			defer wg.Done()
			// Open streams never finish on their own
			svc.fake.DropStreams()
			if err := svc.http.Shutdown(shutdownCtx); err != nil {
				logger.Warn("shutdown failed", "server", svc.fake.Name(), "error", err)
			}
		}(svc)
	}
	wg.Wait()

	return serveErr
}
