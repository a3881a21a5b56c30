package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/sghaida/odigraph/internal/logging"
	"github.com/sghaida/odigraph/manifest"
)

type options struct {
	manifest string
	pkg      string
	out      string
	diImport string
	watch    bool
	logLevel string
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("digen", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var o options
	fs.StringVar(&o.manifest, "manifest", "", "path to the bindings manifest (YAML)")
	fs.StringVar(&o.pkg, "package", "", "package name of the generated file")
	fs.StringVar(&o.out, "out", "", "output .gen.go file path")
	fs.StringVar(&o.diImport, "di", "", "import path of the di runtime (inferred when empty)")
	fs.BoolVar(&o.watch, "watch", false, "regenerate whenever the manifest changes")
	fs.StringVar(&o.logLevel, "log-level", "info", "log level")

	if err := fs.Parse(args); err != nil {
		return o, err
	}

	var missing []string
	for _, f := range []struct{ name, v string }{
		{"-manifest", o.manifest}, {"-package", o.pkg}, {"-out", o.out},
	} {
		if strings.TrimSpace(f.v) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return o, fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}
	return o, nil
}

func run(ctx context.Context, args []string) error {
	o, err := parseFlags(args)
	if err != nil {
		return err
	}

	logger, err := logging.New("development", o.logLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if err := generate(o.manifest, o.pkg, o.out, o.diImport); err != nil {
		return err
	}
	logger.Info("generated bindings", zap.String("manifest", o.manifest), zap.String("out", o.out))
	if !o.watch {
		return nil
	}
	return watch(ctx, o, logger)
}

// watch regenerates on every manifest change until ctx is done. Invalid
// manifests are logged and leave the previous output in place.
func watch(ctx context.Context, o options, logger *zap.Logger) error {
	w, err := manifest.NewWatcher(o.manifest, func(_ *manifest.Manifest, err error) {
		if err == nil {
			err = generate(o.manifest, o.pkg, o.out, o.diImport)
		}
		if err != nil {
			logger.Error("regeneration failed", zap.Error(err))
			return
		}
		logger.Info("regenerated bindings", zap.String("out", o.out))
	}, manifest.WithWatchLogger(logger))
	if err != nil {
		return err
	}
	defer w.Close()

	<-ctx.Done()
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "digen:", err)
		}
		stop()
		os.Exit(2)
	}
}
