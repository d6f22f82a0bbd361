// Copyright Reclaim the Stack and/or licensed to Reclaim the Stack under one
// or more contributor license agreements. Licensed under the Apache License
// 2.0; you may not use this file except in compliance with the License.

// Package manager wires the operator's watch loop into a standalone
// process: flag/env parsing, logging sink setup, and signal handling.
// This wiring is deliberately kept separate from the reconciliation
// core, which only consumes a *kubeclient.Client, a *template.Renderer,
// and a logr.Logger.
package manager

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/reclaim-the-stack/opensearch-operator/pkg/kubeclient"
	"github.com/reclaim-the-stack/opensearch-operator/pkg/metrics"
	"github.com/reclaim-the-stack/opensearch-operator/pkg/operator"
	"github.com/reclaim-the-stack/opensearch-operator/pkg/password"
	"github.com/reclaim-the-stack/opensearch-operator/pkg/reconciler"
	"github.com/reclaim-the-stack/opensearch-operator/pkg/template"
)

const (
	flagNamespace        = "namespace"
	flagOperatorNS       = "operator-namespace"
	flagTemplatesDir     = "templates-dir"
	flagPasswordLength   = "password-length"
	flagPasswordAllowed  = "password-allowed-characters"
	flagMetricsAddr      = "metrics-addr"
	defaultTemplatesDir  = "/etc/opensearch-operator/templates"
	defaultPasswordChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	defaultMetricsAddr   = ":8080"
)

var log logr.Logger

// Command builds the `manager` cobra command, the process entrypoint
// for the OpenSearch operator.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manager",
		Short: "Start the OpenSearch operator",
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
			if err := viper.BindPFlags(cmd.Flags()); err != nil {
				return fmt.Errorf("binding flags: %w", err)
			}
			viper.AutomaticEnv()

			zapLog, err := newZapLogger(os.Getenv("LOG_LEVEL"))
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			log = zapr.NewLogger(zapLog).WithName("manager")
			return nil
		},
		RunE: doRun,
	}

	cmd.Flags().String(flagNamespace, "", "Namespace to watch for OpenSearch custom resources (empty watches all namespaces)")
	cmd.Flags().String(flagOperatorNS, "", "Namespace the operator itself runs in, used for the shared metrics-password Secret")
	cmd.Flags().String(flagTemplatesDir, defaultTemplatesDir, "Directory of manifest templates")
	cmd.Flags().Int(flagPasswordLength, 24, "Length of the operator-global metrics user password")
	cmd.Flags().String(flagPasswordAllowed, defaultPasswordChars, "Characters allowed in the operator-global metrics user password")
	cmd.Flags().String(flagMetricsAddr, defaultMetricsAddr, "Address the operator's own Prometheus /metrics endpoint listens on")

	return cmd
}

// newZapLogger maps LOG_LEVEL (DEBUG|INFO|WARN|ERROR, default DEBUG)
// onto a zap.Config the way a verbosity flag maps onto zap's level.
func newZapLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	switch strings.ToUpper(level) {
	case "ERROR":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	case "WARN":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "INFO":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "DEBUG", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	default:
		return nil, fmt.Errorf("LOG_LEVEL must be one of DEBUG|INFO|WARN|ERROR, got %q", level)
	}

	return cfg.Build()
}

func doRun(_ *cobra.Command, _ []string) error {
	if _, err := maxprocs.Set(maxprocs.Logger(func(s string, i ...interface{}) {
		log.Info(fmt.Sprintf(s, i...))
	})); err != nil {
		log.Error(err, "setting GOMAXPROCS")
		return err
	}

	operatorNamespace := viper.GetString(flagOperatorNS)
	if operatorNamespace == "" {
		return fmt.Errorf("%s must be set", flagOperatorNS)
	}

	kubeClient, err := kubeclient.New()
	if err != nil {
		return fmt.Errorf("constructing kubernetes client: %w", err)
	}

	templates, err := template.Load(viper.GetString(flagTemplatesDir))
	if err != nil {
		return fmt.Errorf("loading templates: %w", err)
	}

	metricsPassword, err := newMetricsPasswordGenerator(kubeClient, operatorNamespace)
	if err != nil {
		return fmt.Errorf("constructing metrics password generator: %w", err)
	}

	deps := reconciler.Deps{
		KubeClient:        kubeClient,
		Templates:         templates,
		MetricsPassword:   metricsPassword,
		OperatorNamespace: operatorNamespace,
		Log:               log,
	}

	loop := operator.New(deps, viper.GetString(flagNamespace))

	// Shutdown on SIGINT/SIGTERM is hard — in-flight reconciles may be
	// truncated, which is acceptable because reconciliation is
	// idempotent and resumes on restart.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := templates.WatchForChanges(ctx, log.WithName("templates")); err != nil && ctx.Err() == nil {
			log.Error(err, "template directory watcher exited")
		}
	}()

	metrics.RegisterPoolGauge(kubeClient)
	go func() {
		if err := metrics.Serve(ctx, viper.GetString(flagMetricsAddr)); err != nil {
			log.Error(err, "metrics server exited")
		}
	}()

	log.Info("starting operator loop", "namespace", viper.GetString(flagNamespace))
	err = loop.Run(ctx)
	if ctx.Err() != nil {
		log.Info("shutting down due to signal")
		return nil
	}
	// A watch-expired (410 Gone) or any other fatal watch error aborts
	// the process.
	log.Error(err, "operator loop exited")
	return err
}

// newMetricsPasswordGenerator builds the once-initializer around the
// operator-global metrics password, generated with the
// same sethvargo/go-password-backed RandomGenerator the credentials
// Secret path uses for human-set-able passwords.
func newMetricsPasswordGenerator(kubeClient *kubeclient.Client, operatorNamespace string) (*reconciler.MetricsPassword, error) {
	params, err := validatePasswordFlags(viper.GetString(flagPasswordAllowed), viper.GetInt(flagPasswordLength))
	if err != nil {
		return nil, err
	}
	generator, err := password.NewRandomGenerator(params)
	if err != nil {
		return nil, err
	}

	return reconciler.NewMetricsPassword(func() (string, error) {
		return reconciler.EnsureMetricsSecret(context.Background(), kubeClient, operatorNamespace, generator.Generate)
	}), nil
}
