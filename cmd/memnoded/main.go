// Command memnoded runs one MemCloud node: it starts the peer transport
// listener and the local control-plane socket, then blocks until
// terminated. It has no interactive surface of its own.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path"
	"syscall"

	memlog "github.com/vibhanshu2001/memcloud/core/log"

	"github.com/vibhanshu2001/memcloud/config"
	"github.com/vibhanshu2001/memcloud/control"
	"github.com/vibhanshu2001/memcloud/fabric"
)

func main() {
	var cfgFile string
	var logDir string
	var logLevel string

	flag.StringVar(&cfgFile, "config", "memnode.toml", "node configuration file")
	flag.StringVar(&logDir, "log_dir", "", "override the configured logging directory")
	flag.StringVar(&logLevel, "log_level", "", "override the configured log level")
	flag.Parse()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "memnoded: %s\n", err)
		os.Exit(1)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logDir == "" {
		logDir = cfg.LogDir
	}

	var logFile string
	if logDir != "" {
		logFile = path.Join(logDir, fmt.Sprintf("memnoded.%d.log", os.Getpid()))
	}
	logBackend, err := memlog.New(logFile, cfg.LogLevel, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "memnoded: %s\n", err)
		os.Exit(1)
	}
	defer logBackend.Close()
	log := logBackend.GetLogger("memnoded")

	node, err := fabric.New(cfg, log)
	if err != nil {
		log.Errorf("construct node: %s", err)
		os.Exit(1)
	}
	if err := node.Start(); err != nil {
		log.Errorf("start peer transport: %s", err)
		os.Exit(1)
	}

	ctrl, err := control.NewServer(log, cfg.ControlSocket, node)
	if err != nil {
		log.Errorf("start control plane: %s", err)
		os.Exit(1)
	}
	ctrl.Start()

	log.Noticef("memnoded %q ready", cfg.Name)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Notice("shutting down")
	ctrl.Stop()
	node.Stop()
}
