// Command branelet is the in-container supervisor process (spec §4.11,
// C11): it is the container's PID 1, launched with a command vector that
// ends in `<package-kind> <function-name> <base64(json(args))>`, and it
// drives internal/supervisor.Runner through to a Finished/Failed/Stopped
// callback before exiting. Any arguments before those last three (the
// local executor's `-d --application-id ... --job-id ...` prefix) are
// ignored; job identity comes from the BRANE_* environment.
//
// Grounded on the teacher's cmd/smog main.go flag-dispatch shape
// (subcommands parsed off os.Args, falling back to a usage message); this
// entrypoint has exactly one "subcommand" because a container only ever
// runs one function per lifetime.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/brane-lang/brane/internal/bus"
	"github.com/brane-lang/brane/internal/packages"
	"github.com/brane-lang/brane/internal/supervisor"
)

func main() {
	if len(os.Args) < 4 {
		fmt.Fprintln(os.Stderr, "usage: branelet [options...] <package-kind> <function-name> <base64-args>")
		os.Exit(1)
	}
	n := len(os.Args)
	kind, function, argsB64 := os.Args[n-3], os.Args[n-2], os.Args[n-1]

	log := logrus.NewEntry(logrus.StandardLogger())
	jobID := os.Getenv("BRANE_JOB_ID")
	log = log.WithFields(logrus.Fields{
		"application_id": os.Getenv("BRANE_APPLICATION_ID"),
		"location_id":    os.Getenv("BRANE_LOCATION_ID"),
		"job_id":         jobID,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := supervisor.MountDFS(ctx, os.Getenv("BRANE_MOUNT_DFS")); err != nil {
		log.WithError(err).Error("branelet: failed to mount distributed filesystem")
		os.Exit(1)
	}
	if stopRedirector, err := supervisor.StartRedirector(ctx, os.Getenv("BRANE_PROXY_ADDRESS")); err != nil {
		log.WithError(err).Warn("branelet: failed to start proxy redirector, continuing without it")
	} else if stopRedirector != nil {
		defer stopRedirector()
	}

	var b *bus.Bus
	if callbackTo := os.Getenv("BRANE_CALLBACK_TO"); callbackTo != "" {
		conn, err := bus.Connect(callbackTo)
		if err != nil {
			log.WithError(err).Warn("branelet: failed to connect callback bus, falling back to local logging")
		} else {
			b = conn
			defer b.Close()
		}
	}
	cb := supervisor.NewCallback(b, jobID, log)
	cb.Send(bus.Callback{CorrelationID: jobID, Kind: bus.StateReady})

	workdir := os.Getenv("BRANE_WORKDIR")
	if workdir == "" {
		workdir = "/opt/wd"
	}
	pkg, err := packages.Load(workdir)
	if err != nil {
		log.WithError(err).Error("branelet: failed to load package manifest")
		cb.Send(bus.Callback{CorrelationID: jobID, Kind: bus.StateFailed, Message: err.Error()})
		os.Exit(1)
	}
	if string(pkg.Manifest.Kind) != "" && string(pkg.Manifest.Kind) != kind {
		log.WithFields(logrus.Fields{"manifest_kind": pkg.Manifest.Kind, "requested_kind": kind}).
			Warn("branelet: package kind argument does not match package.yml, trusting package.yml")
	}

	runner := supervisor.NewRunner(cb, jobID, log)
	if _, err := runner.Dispatch(ctx, pkg, function, argsB64); err != nil {
		log.WithError(err).Error("branelet: function dispatch failed")
		os.Exit(1)
	}
}
