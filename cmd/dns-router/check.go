package main

import (
	"fmt"
	"io"

	"dns-router/pkg/config"
	"dns-router/pkg/route"
)

// runCheck loads and validates the configuration, compiles every route and
// prints the resulting table in evaluation order.
func runCheck(out io.Writer, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	routes, err := route.FromConfig(cfg.Routes)
	if err != nil {
		return fmt.Errorf("invalid routes: %w", err)
	}

	_, _ = fmt.Fprintf(out, "listen:   %s\n", cfg.Server.ListenAddress)
	_, _ = fmt.Fprintf(out, "upstream: %s (timeout %s)\n", cfg.Upstream.Address, cfg.Upstream.Timeout)
	_, _ = fmt.Fprintf(out, "routes:   %d\n", len(routes))
	for i, r := range routes {
		_, _ = fmt.Fprintf(out, "  %3d  %s\n", i+1, r)
	}
	return nil
}
