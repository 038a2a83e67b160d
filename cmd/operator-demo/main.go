// Command operator-demo wires one example controller through the
// operator core end to end: it watches a "widgets.example.com/v1,
// Kind=Widget" resource, logs every observed change, and removes a
// cleanup finalizer on deletion.
//
// Grounded on datum-cloud-milo's cmd/milo/main.go (a cobra root command
// delegating to a subcommand package) and cmd/milo/controller-manager
// for the controller wiring shape.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/yaml"

	"go.datum.net/operatorcore/internal/host"
	"go.datum.net/operatorcore/pkg/controller"
	"go.datum.net/operatorcore/pkg/kind"
	"go.datum.net/operatorcore/pkg/object"
	"go.datum.net/operatorcore/pkg/reconcile"
)

const cleanupFinalizer = "demo.operatorcore.datum.net/cleanup"

var widgetKind = kind.Descriptor{
	Group:      "example.com",
	Version:    "v1",
	Kind:       "Widget",
	Plural:     "widgets",
	Namespaced: true,
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		kubeconfigPath string
		configPath     string
		debug          bool
	)

	rootCmd := &cobra.Command{
		Use:   "operator-demo",
		Short: "Runs the Widget controller against a Kubernetes cluster.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOperator(kubeconfigPath, configPath, debug)
		},
	}
	rootCmd.Flags().StringVar(&kubeconfigPath, "kubeconfig", "", "path to a kubeconfig file; defaults to in-cluster config")
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to the operator YAML configuration file")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "enable debug-level logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCodeFor(err)
	}
	return 0
}

func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, host.ErrLeadershipLost):
		return 2
	default:
		return 1
	}
}

func runOperator(kubeconfigPath, configPath string, debug bool) error {
	logger, err := newLogger(debug)
	if err != nil {
		return fmt.Errorf("constructing logger: %w", err)
	}

	cfg, err := loadConfiguration(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	restCfg, err := buildRESTConfig(kubeconfigPath)
	if err != nil {
		return fmt.Errorf("building kubeconfig: %w", err)
	}

	dynamicClient, err := dynamic.NewForConfig(restCfg)
	if err != nil {
		return fmt.Errorf("building dynamic client: %w", err)
	}
	kubeClient, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return fmt.Errorf("building kubernetes client: %w", err)
	}

	h := host.New(host.Config{
		LeaderElection: cfg.LeaderElection.ToElectionConfig(),
	}, kubeClient, logger)

	b := controller.For(widgetKind).
		WithClient(dynamicClient).
		WithLogger(logger.WithName("widget")).
		WithReconciler(reconcileWidget(logger)).
		WithFinalizer(cleanupFinalizer, cleanupWidget(logger))
	b = cfg.Apply(b)

	if err := b.Complete(h); err != nil {
		return fmt.Errorf("registering widget controller: %w", err)
	}

	signalCtx, stopNotify := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopNotify()

	startErrCh := make(chan error, 1)
	go func() { startErrCh <- h.Start(context.Background()) }()

	select {
	case <-signalCtx.Done():
		logger.Info("shutdown signal received, draining controllers")
		if err := h.Stop(30 * time.Second); err != nil {
			logger.Error(err, "graceful shutdown did not complete in time")
		}
	case err := <-startErrCh:
		return err
	}

	return <-startErrCh
}

func newLogger(debug bool) (logr.Logger, error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	z, err := cfg.Build()
	if err != nil {
		return logr.Logger{}, err
	}
	return zapr.NewLogger(z), nil
}

func loadConfiguration(path string) (controller.Configuration, error) {
	var cfg controller.Configuration
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

func buildRESTConfig(kubeconfigPath string) (*rest.Config, error) {
	if kubeconfigPath != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	}
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}
	return clientcmd.BuildConfigFromFlags("", clientcmd.RecommendedHomeFile)
}

// reconcileWidget is the example Reconcile implementation: it logs the
// observed spec and reports success.
func reconcileWidget(logger logr.Logger) reconcile.Func {
	return func(rc reconcile.Context) reconcile.Result {
		key := object.Key(rc.Object)
		logger.Info("reconciling widget", "key", key.String(), "event", rc.EventType.String(), "resourceVersion", rc.Object.GetResourceVersion())
		return reconcile.Ok()
	}
}

// cleanupWidget is the example finalizer: it logs the cleanup action
// this operator would take before allowing deletion to proceed.
func cleanupWidget(logger logr.Logger) func(ctx context.Context, obj object.Object) error {
	return func(ctx context.Context, obj object.Object) error {
		logger.Info("running widget cleanup finalizer", "key", object.Key(obj).String())
		return nil
	}
}
