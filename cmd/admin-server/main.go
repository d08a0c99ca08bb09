// Copyright 2021 ecodeclub
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ecodeclub/dsrouter"
	"github.com/ecodeclub/dsrouter/config"
	"github.com/ecodeclub/dsrouter/middleware/querylog"
	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rc := &cobra.Command{
		Use:   "admin-server",
		Short: "Boots the multi-datasource persistence layer and serves health and metrics endpoints.",
		Long: `admin-server opens every configured datasource, wraps it for XA transactions,
builds a session factory per datasource from the mapper files and registers
them in a router. Any configuration error stops the process before it serves.`,
		SilenceUsage: true,
	}
	rc.PersistentFlags().StringP("config", "c", "", "Configuration file to read from (toml or yaml).")
	rc.PersistentFlags().String("log.level", "", "Log level, overrides log.level in the configuration file.")
	rc.AddCommand(newServeCommand())
	rc.AddCommand(newCheckCommand())
	return rc
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Open all datasources and serve until signalled.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cmd.Flags())
		},
	}
	cmd.Flags().String("server.addr", "", "Address of the health and metrics endpoints.")
	return cmd
}

func newCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate configuration, datasources and mapper files, then exit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd.Flags())
			if err != nil {
				return err
			}
			defer func() {
				_ = logger.Sync()
			}()
			r, err := dsrouter.Open(cmd.Context(), cfg, dsrouter.OpenWithLogger(logger))
			if err != nil {
				return err
			}
			logger.Info("configuration ok",
				zap.Strings("datasources", r.Keys()), zap.String("default", r.DefaultKey()))
			return r.Close()
		},
	}
}

// setup 读取配置，命令行参数优先于环境变量，环境变量优先于配置文件
func setup(flags *pflag.FlagSet) (*config.Config, *zap.Logger, error) {
	v := viper.New()
	config.SetDefaults(v)
	path, err := flags.GetString("config")
	if err != nil {
		return nil, nil, err
	}
	if path == "" {
		return nil, nil, errors.New("admin-server: 必须通过 --config 指定配置文件")
	}
	v.SetConfigFile(path)
	if err = v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("admin-server: 读取配置文件 %s: %w", path, err)
	}
	var flagErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if flagErr != nil || !f.Changed || f.Name == "config" {
			return
		}
		flagErr = v.BindPFlag(f.Name, f)
	})
	if flagErr != nil {
		return nil, nil, flagErr
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("admin-server: 非法的日志级别 %q: %w", level, err)
	}
	c := zap.NewProductionConfig()
	c.Level = zap.NewAtomicLevelAt(lvl)
	return c.Build()
}

func serve(ctx context.Context, flags *pflag.FlagSet) error {
	cfg, logger, err := setup(flags)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	opts := []dsrouter.OpenOption{
		dsrouter.OpenWithLogger(logger),
		dsrouter.OpenWithRegisterer(reg),
	}
	if cfg.Mapper.LogSQL {
		opts = append(opts, dsrouter.OpenWithMiddlewares(querylog.NewBuilder(logger).Build()))
	}
	r, err := dsrouter.Open(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	defer func() {
		_ = r.Close()
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", healthz(r))
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin server listening", zap.String("addr", cfg.Server.Addr),
			zap.Strings("datasources", r.Keys()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err = <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func healthz(r *dsrouter.Router) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 3*time.Second)
		defer cancel()
		if err := r.Ping(ctx); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}
}
