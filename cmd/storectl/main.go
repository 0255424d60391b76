// Command storectl is the control-plane daemon: it listens on a Unix
// socket for JSON-RPC "control" requests, dispatches them through the
// registered components, and drives every mutating operation's pipeline
// on a single reactor goroutine.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/dhamidi/storectl/internal/audit"
	"github.com/dhamidi/storectl/internal/config"
	"github.com/dhamidi/storectl/internal/dispatch"
	"github.com/dhamidi/storectl/internal/executor"
	"github.com/dhamidi/storectl/internal/obslog"
	"github.com/dhamidi/storectl/internal/pipeline"
	"github.com/dhamidi/storectl/internal/rpcpool"
	"github.com/dhamidi/storectl/internal/server"
	"github.com/spf13/afero"

	"github.com/dhamidi/storectl/modules/core"
	"github.com/dhamidi/storectl/modules/scst"
)

const (
	defaultSocket     = "/var/tmp/storectl.sock"
	defaultExecSocket = "/var/tmp/storectl-exec.sock"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func die(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}

func main() {
	fs := flag.NewFlagSet("storectl", flag.ExitOnError)
	socketPath := fs.String("socket", envOr("STORECTL_SOCKET", defaultSocket), "inbound control socket path")
	execSocketPath := fs.String("exec-socket", envOr("STORECTL_EXEC_SOCKET", defaultExecSocket), "executor sidecar socket path")
	configPath := fs.String("config-file", envOr("STORECTL_CONFIG_FILE", ""), "path to the module config file (required)")
	execPath := fs.String("exec-path", envOr("STORECTL_EXEC_PATH", ""), "path to the executor sidecar binary; forked before the reactor starts")
	fakeExecutor := fs.Bool("fake-executor", os.Getenv("STORECTL_FAKE_EXECUTOR") != "", "skip forking a sidecar, answer executor calls in-process against a real OS filesystem")
	devLog := fs.Bool("dev", false, "human-readable console logging instead of JSON")
	auditPath := fs.String("audit-db", envOr("STORECTL_AUDIT_DB", "/var/tmp/storectl-audit.db"), "sqlite path for the dispatch audit log")
	fs.Parse(os.Args[1:])

	if *configPath == "" {
		die("storectl: -config-file (or STORECTL_CONFIG_FILE) is required")
	}

	log := obslog.New(*devLog)

	var sender dispatch.OutboundSender
	var sidecar *exec.Cmd
	if *fakeExecutor {
		sender = executor.NewFakeExecutor(afero.NewOsFs())
	} else {
		if *execPath != "" {
			sidecar = exec.Command(*execPath, "-socket", *execSocketPath)
			sidecar.Stdout = os.Stderr
			sidecar.Stderr = os.Stderr
			if err := sidecar.Start(); err != nil {
				die("storectl: start executor sidecar %s: %v", *execPath, err)
			}
			// Give the sidecar a moment to create its listening socket before
			// the pool dials it; the sidecar itself owns retry/backoff on its
			// own startup path, this is just the initial race.
			time.Sleep(100 * time.Millisecond)
		}
		pool, err := rpcpool.Connect("unix", *execSocketPath)
		if err != nil {
			die("storectl: connect executor pool at %s: %v", *execSocketPath, err)
		}
		defer pool.Close()
		sender = pool
		go drivePool(pool)
	}

	auditLog, err := audit.Open(*auditPath)
	if err != nil {
		die("storectl: open audit log %s: %v", *auditPath, err)
	}
	defer auditLog.Close()

	store := config.New[scst.State](sender, *configPath)
	scstModule := scst.New(store)
	if err := scstModule.LoadFromDisk(); err != nil {
		die("storectl: load config %s: %v", *configPath, err)
	}

	engine := pipeline.NewEngine[*dispatch.Ctx]()
	registry := dispatch.NewRegistry()
	registry.Register(scstModule.Component())
	registry.Register(core.Component(core.AliasTable{
		Object:          "scst",
		TargetComponent: "subsystem",
		TargetObject:    "scst",
		Ops:             []string{"create", "snapshot", "restore-from-config"},
	}))

	d := dispatch.New(registry, engine)
	d.SetRecorder(auditLog)
	d.SetLogger(log)

	srv := server.New(*socketPath, d, engine, log)
	if err := srv.Listen(); err != nil {
		die("storectl: listen on %s: %v", *socketPath, err)
	}
	log.Infof("storectl: listening on %s", *socketPath)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Infof("storectl: shutting down")
	if err := srv.Close(); err != nil {
		log.Errorf(err, "storectl: close server")
	}
	if sidecar != nil {
		_ = sidecar.Process.Signal(syscall.SIGTERM)
		_ = sidecar.Wait()
	}
}

// drivePool polls the executor pool's response channel, standing in for
// the reactor poller spec.md §4.C describes: a ticker wakes the same
// goroutine repeatedly rather than a handler running concurrently with it.
func drivePool(pool *rpcpool.Pool) {
	ticker := time.NewTicker(100 * time.Microsecond)
	defer ticker.Stop()
	for range ticker.C {
		pool.PollOnce()
	}
}
