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

// Command msgq-zcpy measures zero-copy message passing between the host and
// a remote processor over a shared buffer.
//
//	msgq-zcpy [flags] [<numThreads> [<numMessages> [<payloadSize> [<procId>]]]]
//	msgq-zcpy [flags] -f <config file>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/srediag/msgq-zcpy/adapter"
	"github.com/srediag/msgq-zcpy/internal/logger"
	"github.com/srediag/msgq-zcpy/internal/transport"
	"github.com/srediag/msgq-zcpy/pkg/bench"
	"github.com/srediag/msgq-zcpy/pkg/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func usage(fs *flag.FlagSet, w io.Writer) func() {
	return func() {
		fmt.Fprintf(w, "Usage:\n")
		fmt.Fprintf(w, "  %s [flags] [<numThreads>] [<numMessages>] [<payloadSize>] [<procId>]\n", fs.Name())
		fmt.Fprintf(w, "  %s [flags] -f <config file>\n", fs.Name())
		name, _ := transport.ProcName(config.DefaultProcID)
		fmt.Fprintf(w, "Defaults: numThreads: %d, numMessages: %d, payloadSize: %d, procId: %d (%s)\n",
			config.DefaultThreads, config.DefaultMessages, config.DefaultPayloadSize,
			config.DefaultProcID, name)
		fmt.Fprintf(w, "Max threads: %d, max config lines: %d\n", config.MaxThreads, config.MaxWorkers)
		fmt.Fprintf(w, "Flags:\n")
		fs.PrintDefaults()
	}
}

// run returns the process exit status.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg := config.DefaultConfig()
	fs := flag.NewFlagSet("msgq-zcpy", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = usage(fs, stderr)
	fs.StringVar(&cfg.ConfigFile, "f", "", "per-thread configuration file")
	fs.DurationVar(&cfg.OpenInterval, "open-interval", cfg.OpenInterval, "pause between attempts to open a remote queue")
	fs.Uint64Var(&cfg.OpenRetries, "open-retries", 0, "attempts to open a remote queue after the first, 0 for unlimited")
	fs.DurationVar(&cfg.HandshakeTimeout, "handshake-timeout", 0, "wait for each handshake acknowledgement, 0 for forever")
	fs.DurationVar(&cfg.ReceiveTimeout, "recv-timeout", 0, "wait for each received message, 0 for forever")
	fs.DurationVar(&cfg.Timeout, "timeout", 0, "deadline of the whole run, 0 for none")
	fs.StringVar(&cfg.AdminAddr, "admin", "", "serve /metrics, /live and /ready on this address")
	fs.StringVar(&cfg.LogLevel, "log-level", logLevelDefault(), "trace, debug, info, warn, error or none")
	fs.StringVar(&cfg.ShmName, "shm-name", "", "back the shared buffer by a named region instead of an anonymous one")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	log := logger.New("msgq-zcpy", stderr)
	if lv, err := logger.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lv)
	}

	if cfg.ConfigFile != "" {
		if fs.NArg() > 0 {
			log.Errorf("positional arguments are not accepted with -f")
			fs.Usage()
			return 1
		}
		if err := cfg.ParseFile(cfg.ConfigFile); err != nil {
			log.Errorf("%v", err)
			return 1
		}
	} else if err := cfg.FromArgs(fs.Args(), log); err != nil {
		log.Errorf("%v", err)
		fs.Usage()
		return 1
	}
	if err := config.VerifyConfig(cfg); err != nil {
		log.Errorf("%v", err)
		return 1
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	tel := adapter.NewTelemetry(nil, nil)
	ready := &adapter.ReadyFlag{}

	runner, err := bench.NewRunner(bench.Options{
		Config:     cfg,
		Registerer: reg,
		Tracer:     tel.Tracer,
		Meter:      tel.Meter,
		Logger:     log,
		OnReady:    func() { ready.Set(true) },
	})
	if err != nil {
		log.Errorf("%v", err)
		return 1
	}

	if cfg.AdminAddr != "" {
		health := adapter.NewHealth(adapter.HealthOptions{
			ShmSize:    uint64(cfg.TotalPayload()),
			Ready:      ready,
			Transports: map[string]adapter.Starter{"host": runner.Host()},
		})
		admin := adapter.NewAdminServer(cfg.AdminAddr, reg, health, log.Named("admin"))
		if err := admin.Start(); err != nil {
			log.Errorf("admin server: %v", err)
			return 1
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = admin.Stop(sctx)
		}()
	}

	rep, err := runner.Run(ctx)
	ready.Set(false)
	if err != nil {
		log.Errorf("%v", err)
		return 1
	}
	if err := rep.Render(stdout); err != nil {
		log.Errorf("%v", err)
		return 1
	}
	return 0
}

func logLevelDefault() string {
	if v := os.Getenv(logger.EnvLogLevel); v != "" {
		return v
	}
	return "warn"
}
