package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"

	"social-realtime/internal/config"
	"social-realtime/internal/logging"
	"social-realtime/internal/realtime"
	"social-realtime/internal/runtime"
)

var BuildVersion = "dev"

const (
	shutdownTimeout  = 10 * time.Second
	runErrorExitCode = 1
)

func main() {
	rootCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	opts, err := config.ParseOptions(nil)
	if err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	lock, lockedByOther, lockErr := acquireInstanceLock(opts.TokenFile)
	if lockErr != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize single-instance lock:", lockErr)
		os.Exit(2)
	}
	if lockedByOther {
		fmt.Fprintln(os.Stderr, "social-realtime is already running for this token file.")
		os.Exit(1)
	}

	code := run(rootCtx, opts)
	_ = lock.Release()
	os.Exit(code)
}

func run(rootCtx context.Context, opts config.Options) int {
	logger := logging.New(opts.Debug)
	defer func() {
		_ = logger.Close()
	}()
	if opts.LogToFile {
		if err := logger.EnableFilePersistence(opts.LogDir); err != nil {
			logger.Warn("failed to enable file log persistence", logging.Field("error", err))
		}
	}
	logger.Info("starting realtime client", logging.Field("version", BuildVersion))

	exitErr := make(chan error, 1)
	controller := runtime.NewController(rootCtx)
	err := controller.Start(opts, logger, runtime.StartHooks{
		OnStatus: func(identity realtime.Identity, status string) {
			logger.Info("channel status", logging.Field("channel", string(identity)), logging.Field("status", status))
		},
		OnExit: func(err error) {
			exitErr <- err
		},
	})
	if err != nil {
		logger.Error("failed to start", logging.Field("error", err))
		return runErrorExitCode
	}

	select {
	case err := <-exitErr:
		if err != nil {
			logger.Error("realtime client stopped", logging.Field("error", err))
			return runErrorExitCode
		}
		return 0
	case <-rootCtx.Done():
		logger.Info("shutdown requested")
	}
	if !controller.StopAndWait(shutdownTimeout) {
		logger.Warn("shutdown timed out", logging.Field("timeout", shutdownTimeout.String()))
		return runErrorExitCode
	}
	return 0
}
