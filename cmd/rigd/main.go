package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.bug.st/serial"

	"github.com/dougsko/rigd/pkg/auth"
	_ "github.com/dougsko/rigd/pkg/backends/all"
	"github.com/dougsko/rigd/pkg/config"
	"github.com/dougsko/rigd/pkg/logging"
	"github.com/dougsko/rigd/pkg/rig"
)

var (
	configPath = flag.String("config", "", "Configuration file path (built-in defaults when empty)")
	version    = flag.Bool("version", false, "Show version information")
	listModels = flag.Bool("list", false, "List supported models and exit")
	listPorts  = flag.Bool("ports", false, "List serial ports and exit")
	issueToken = flag.String("token", "", "Print an API token for this subject and exit")
	scopes     = flag.String("scopes", auth.ScopeControl, "Comma separated scopes for -token")
)

const (
	Version = "0.1.0-dev"
	Build   = "development"
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("rigd version %s (%s)\n", Version, Build)
		os.Exit(0)
	}

	if *listModels {
		for _, c := range rig.Models() {
			fmt.Printf("%6d  %-10s %-12s %-20s %s\n", c.Model, c.Type, c.Manufacturer, c.Name, c.Status)
		}
		os.Exit(0)
	}

	if *listPorts {
		ports, err := serial.GetPortsList()
		if err != nil {
			log.Fatalf("Failed to list serial ports: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		os.Exit(0)
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if *issueToken != "" {
		a, err := auth.NewAuthority(cfg.Auth.Secret, time.Duration(cfg.Auth.TokenTTLMinutes)*time.Minute)
		if err != nil {
			log.Fatalf("Cannot issue token: %v", err)
		}
		token, expires, err := a.Issue(*issueToken, strings.Split(*scopes, ",")...)
		if err != nil {
			log.Fatalf("Cannot issue token: %v", err)
		}
		fmt.Println(token)
		fmt.Fprintf(os.Stderr, "expires %s\n", expires.Format(time.RFC3339))
		os.Exit(0)
	}

	logger, err := logging.InitGlobalLogger(logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		Console:    cfg.Logging.Console,
		Structured: cfg.Logging.Structured,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.CloseGlobalLogger()

	logging.Infof("main", "rigd version %s starting...", Version)
	logging.Infof("main", "Rig: model %d on %s", cfg.Rig.Model, describePort(cfg.Rig))
	if cfg.Rotator.Model != 0 {
		logging.Infof("main", "Rotator: model %d on %s", cfg.Rotator.Model, describePort(cfg.Rotator))
	}
	logging.Infof("main", "Web interface: http://%s:%d", cfg.Web.BindAddress, cfg.Web.Port)

	daemon, err := NewDaemon(cfg, logger)
	if err != nil {
		logging.Errorf("main", "Failed to create daemon: %v", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := daemon.Start(); err != nil {
		logging.Errorf("main", "Failed to start daemon: %v", err)
		daemon.Stop()
		os.Exit(1)
	}

	logging.Info("main", "rigd started successfully")

	<-sigChan
	logging.Info("main", "Shutting down...")

	if err := daemon.Stop(); err != nil {
		logging.Errorf("main", "Error during shutdown: %v", err)
	}

	logging.Info("main", "rigd stopped")
}

func describePort(d config.Device) string {
	if d.Port.Path == "" {
		return "default port"
	}
	return d.Port.Path
}
