package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dougsko/rigd/pkg/auth"
	"github.com/dougsko/rigd/pkg/config"
	"github.com/dougsko/rigd/pkg/discovery"
	"github.com/dougsko/rigd/pkg/engine"
	"github.com/dougsko/rigd/pkg/hardware"
	"github.com/dougsko/rigd/pkg/influx"
	"github.com/dougsko/rigd/pkg/logging"
	"github.com/dougsko/rigd/pkg/monitor"
	"github.com/dougsko/rigd/pkg/mqtt"
	"github.com/dougsko/rigd/pkg/rig"
	"github.com/dougsko/rigd/pkg/storage"
	"github.com/dougsko/rigd/pkg/trace"
)

const maxStateHistory = 10000

// Daemon wires the hardware manager to every front end: the socket
// protocol, the HTTP API and the optional integrations.
type Daemon struct {
	config *config.Config
	logger *logging.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	hardware   *hardware.Manager
	coreEngine *engine.CoreEngine
	monitor    *monitor.Monitor
	tracer     *trace.Recorder
	store      *storage.SettingsStore
	authority  *auth.Authority
	webServer  *http.Server

	publisher  *mqtt.Publisher
	influx     *influx.Recorder
	advertiser *discovery.Advertiser
}

// NewDaemon builds every component from the configuration without
// touching hardware or the network.
func NewDaemon(cfg *config.Config, logger *logging.Logger) (*Daemon, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{config: cfg, logger: logger, ctx: ctx, cancel: cancel}

	hwcfg := hardware.Config{RigModel: cfg.Rig.Model, RotatorModel: cfg.Rotator.Model}
	var err error
	if hwcfg.Rig, err = cfg.Rig.Session(); err != nil {
		cancel()
		return nil, fmt.Errorf("rig: %w", err)
	}
	if cfg.Rotator.Model != 0 {
		if hwcfg.Rotator, err = cfg.Rotator.Session(); err != nil {
			cancel()
			return nil, fmt.Errorf("rotator: %w", err)
		}
	}

	var opts []rig.Option
	if cfg.Trace.File != "" {
		d.tracer, err = trace.Create(cfg.Trace.File, logger)
		if err != nil {
			cancel()
			return nil, err
		}
		opts = append(opts, rig.WithTracer(d.tracer))
	}
	d.hardware = hardware.NewManager(hwcfg, logger, opts...)

	if cfg.Storage.DatabasePath != "" {
		d.store, err = storage.NewSettingsStore(cfg.Storage.DatabasePath, maxStateHistory, logger)
		if err != nil {
			d.closeResources()
			cancel()
			return nil, err
		}
	}

	if cfg.Auth.Enabled {
		d.authority, err = auth.NewAuthority(cfg.Auth.Secret, time.Duration(cfg.Auth.TokenTTLMinutes)*time.Minute)
		if err != nil {
			d.closeResources()
			cancel()
			return nil, err
		}
	}

	d.coreEngine = engine.NewCoreEngine(d.hardware, engine.Options{
		UnixSocket: cfg.Server.UnixSocket,
		TCPAddress: cfg.Server.TCPAddress,
		Version:    Version,
	}, logger)

	d.monitor = monitor.New(d.hardware, cfg.PollInterval(), logger)
	d.coreEngine.Observe(func(engine.Change) { d.monitor.Trigger() })

	d.setupWebServer()
	return d, nil
}

// Start opens the devices and starts every service.
func (d *Daemon) Start() error {
	d.logger.Info("daemon", "Starting rigd daemon...")

	if err := d.hardware.Initialize(d.ctx); err != nil {
		return fmt.Errorf("failed to initialize hardware: %w", err)
	}

	if d.store != nil && d.config.Storage.RestoreState {
		d.restoreState()
	}

	if err := d.coreEngine.Start(); err != nil {
		return fmt.Errorf("failed to start core engine: %w", err)
	}

	if err := d.monitor.Start(d.ctx); err != nil {
		return fmt.Errorf("failed to start monitor: %w", err)
	}
	d.monitor.Trigger()

	if d.store != nil {
		d.consume("storage", d.persistStates)
	}

	d.startIntegrations()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.logger.Infof("daemon", "Starting web server on %s", d.webServer.Addr)
		if err := d.webServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Errorf("daemon", "Web server error: %v", err)
		}
	}()

	return nil
}

// startIntegrations connects the optional outputs. A failing integration
// is logged and skipped; the rig keeps working without it.
func (d *Daemon) startIntegrations() {
	if d.config.MQTT.Broker != "" {
		pub, err := mqtt.Connect(mqtt.Options{
			Broker:      d.config.MQTT.Broker,
			TopicPrefix: d.config.MQTT.TopicPrefix,
			ClientID:    d.config.MQTT.ClientID,
			Username:    d.config.MQTT.Username,
			Password:    d.config.MQTT.Password,
		}, d.logger)
		if err != nil {
			d.logger.Warnf("daemon", "MQTT disabled: %v", err)
		} else {
			d.publisher = pub
			if err := pub.HandleCommands(d.ctx, d.executeLine); err != nil {
				d.logger.Warnf("daemon", "MQTT commands disabled: %v", err)
			}
			d.consume("mqtt", pub.Run)
		}
	}

	if d.config.InfluxDB.URL != "" {
		rec, err := influx.Connect(d.ctx, influx.Options{
			URL:    d.config.InfluxDB.URL,
			Token:  d.config.InfluxDB.Token,
			Org:    d.config.InfluxDB.Org,
			Bucket: d.config.InfluxDB.Bucket,
		}, d.logger)
		if err != nil {
			d.logger.Warnf("daemon", "InfluxDB disabled: %v", err)
		} else {
			d.influx = rec
			d.consume("influx", rec.Run)
		}
	}

	if d.config.Discovery.Enabled {
		d.advertiser = discovery.NewAdvertiser("")
		if err := d.advertiser.Advertise(d.discoveryInfo()); err != nil {
			d.logger.Warnf("daemon", "mDNS advertisement failed: %v", err)
		}
	}
}

// consume runs fn on a fresh monitor subscription.
func (d *Daemon) consume(name string, fn func(context.Context, <-chan monitor.Snapshot)) {
	ch, cancel := d.monitor.Subscribe()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()
		fn(d.ctx, ch)
		d.logger.Debugf("daemon", "%s consumer stopped", name)
	}()
}

func (d *Daemon) executeLine(ctx context.Context, line string) string {
	_, resp := d.coreEngine.ExecuteLine(ctx, line)
	return resp.String()
}

func (d *Daemon) discoveryInfo() discovery.Info {
	info := discovery.Info{
		Instance: d.config.Discovery.Instance,
		WebPort:  d.config.Web.Port,
		Model:    d.config.Rig.Model,
		Version:  Version,
	}
	for _, addr := range d.coreEngine.Addrs() {
		if tcp, ok := addr.(*net.TCPAddr); ok {
			info.Port = tcp.Port
		}
	}
	if s, err := d.hardware.Rig(); err == nil {
		info.Rig = s.Caps().FullName()
	}
	if s, err := d.hardware.Rotator(); err == nil {
		info.Rotator = s.Caps().FullName()
	}
	return info
}

// StateOf converts a snapshot into the persisted form.
func StateOf(snap monitor.Snapshot) storage.RigState {
	return storage.RigState{
		Timestamp: snap.Timestamp,
		Model:     snap.Model,
		Frequency: snap.Freq,
		Mode:      string(snap.Mode),
		Width:     snap.Width,
		VFO:       snap.VFO,
		PTT:       snap.PTT,
	}
}

// persistStates saves every changed, error free snapshot.
func (d *Daemon) persistStates(ctx context.Context, ch <-chan monitor.Snapshot) {
	var last *monitor.Snapshot
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			if snap.Error != "" || snap.Model == 0 || (last != nil && !snap.Changed(*last)) {
				continue
			}
			if err := d.store.SaveState(StateOf(snap)); err != nil {
				d.logger.Warnf("daemon", "Failed to save state: %v", err)
				continue
			}
			last = &snap
		}
	}
}

// restoreState applies the last saved frequency and mode. PTT is never
// restored.
func (d *Daemon) restoreState() {
	s, err := d.hardware.Rig()
	if err != nil {
		return
	}
	st, err := d.store.LoadState(s.Caps().Model)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		d.logger.Warnf("daemon", "Failed to load saved state: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(d.ctx, 10*time.Second)
	defer cancel()
	if st.Frequency > 0 {
		if err := s.SetFreq(ctx, rig.VFOCurrent, st.Frequency); err != nil {
			d.logger.Warnf("daemon", "Failed to restore frequency: %v", err)
		}
	}
	if st.Mode != "" {
		if mode, err := rig.ParseMode(st.Mode); err == nil {
			if err := s.SetMode(ctx, rig.VFOCurrent, mode, st.Width); err != nil {
				d.logger.Warnf("daemon", "Failed to restore mode: %v", err)
			}
		}
	}
	d.logger.Infof("daemon", "Restored %d Hz %s from %s", st.Frequency, st.Mode, st.Timestamp.Format(time.RFC3339))
}

// Stop stops the daemon gracefully
func (d *Daemon) Stop() error {
	d.logger.Info("daemon", "Stopping daemon...")

	if d.webServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.webServer.Shutdown(ctx); err != nil {
			d.logger.Warnf("daemon", "Web server shutdown error: %v", err)
		}
		cancel()
	}

	if d.advertiser != nil {
		d.advertiser.Shutdown()
	}

	if err := d.coreEngine.Stop(); err != nil {
		d.logger.Warnf("daemon", "Core engine shutdown error: %v", err)
	}

	d.monitor.Stop()
	d.cancel()
	d.wg.Wait()

	if d.publisher != nil {
		d.publisher.Close()
	}
	if d.influx != nil {
		d.influx.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := d.hardware.Close(ctx)

	d.closeResources()
	d.logger.Info("daemon", "Daemon stopped")
	return err
}

func (d *Daemon) closeResources() {
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warnf("daemon", "Failed to close store: %v", err)
		}
	}
	if d.tracer != nil {
		if err := d.tracer.Close(); err != nil {
			d.logger.Warnf("daemon", "Failed to close trace: %v", err)
		}
	}
}

func (d *Daemon) setupWebServer() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), d.requestLogger())
	d.routes(router)

	d.webServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", d.config.Web.BindAddress, d.config.Web.Port),
		Handler: router,
	}
}

func (d *Daemon) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		d.logger.Debugf("http", "%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
