/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package adapter connects a benchmark run to the outside world: the admin
// HTTP endpoint, health checks and OpenTelemetry providers.
package adapter

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/srediag/msgq-zcpy/internal/logger"
)

var ErrAdminRunning = errors.New("adapter: admin server already running")

// AdminServer serves /metrics, /live and /ready over HTTP.
type AdminServer struct {
	addr     string
	gatherer prometheus.Gatherer
	health   healthcheck.Handler
	log      *logger.Logger

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

// NewAdminServer returns a stopped server for addr. A nil gatherer serves
// the default registry.
func NewAdminServer(addr string, g prometheus.Gatherer, h healthcheck.Handler, log *logger.Logger) *AdminServer {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	if h == nil {
		h = healthcheck.NewHandler()
	}
	if log == nil {
		log = logger.New("admin", nil)
	}
	return &AdminServer{addr: addr, gatherer: g, health: h, log: log}
}

// Handler returns the admin mux.
func (a *AdminServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/live", a.health.LiveEndpoint)
	mux.HandleFunc("/ready", a.health.ReadyEndpoint)
	return mux
}

// Start listens on the configured address and serves in the background.
func (a *AdminServer) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.srv != nil {
		return ErrAdminRunning
	}
	ln, err := net.Listen("tcp", a.addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: a.Handler(), ReadHeaderTimeout: 5 * time.Second}
	a.srv, a.ln = srv, ln
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Errorf("admin server on %s: %v", ln.Addr(), err)
		}
	}()
	a.log.Infof("admin server listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (a *AdminServer) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ln != nil {
		return a.ln.Addr().String()
	}
	return a.addr
}

// Stop shuts the server down. Stopping a stopped server is a no-op.
func (a *AdminServer) Stop(ctx context.Context) error {
	a.mu.Lock()
	srv := a.srv
	a.srv, a.ln = nil, nil
	a.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
