// Package app wires all components and runs them.
package app

import (
	"context"

	"github.com/lefinal/vr-arbiter/config"
	"github.com/lefinal/vr-arbiter/dispatcher"
	"github.com/lefinal/vr-arbiter/errors"
	"github.com/lefinal/vr-arbiter/fanout"
	"github.com/lefinal/vr-arbiter/hardware"
	"github.com/lefinal/vr-arbiter/logging"
	"github.com/lefinal/vr-arbiter/metrics"
	"github.com/lefinal/vr-arbiter/portal"
	"github.com/lefinal/vr-arbiter/registry"
	"github.com/lefinal/vr-arbiter/remotehw"
	"github.com/lefinal/vr-arbiter/store"
	"github.com/lefinal/vr-arbiter/webserver"
	"github.com/lefinal/vr-arbiter/ws"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// App is a complete arbiter instance.
type App struct {
	logger     *logging.Logger
	config     config.Config
	registry   *prometheus.Registry
	notifier   *fanout.Notifier
	dispatcher *dispatcher.Dispatcher
	hub        *ws.Hub
	webServer  *webserver.WebServer
	// portalBase is nil if MQTT is disabled.
	portalBase portal.Base
	// remote is nil if MQTT is disabled.
	remote *remotehw.Backend
	// mall is nil if persistence is disabled.
	mall *store.Mall
}

// Boot loads the config from the given source, sets up logging and runs until
// the given context.Context is done.
func Boot(ctx context.Context, source *config.Source) error {
	appConfig, err := source.Config()
	if err != nil {
		return errors.Wrap(err, "load config", nil)
	}
	logger := logging.NewLogger(logging.Config{
		StdoutLevel:        appConfig.Log.StdoutLevel,
		HighPriorityOutput: appConfig.Log.HighPriorityOutput,
		DebugOutput:        appConfig.Log.DebugOutput,
		MaxSize:            appConfig.Log.MaxSize,
		KeepDays:           appConfig.Log.KeepDays,
		Publish:            appConfig.Log.Publish,
		PublishLevel:       zap.InfoLevel,
	})
	defer func() { _ = logger.Sync() }()
	source.Watch(logger.Named("config"), func(c config.Config) {
		if c.Log.StdoutLevel != logger.StdoutLevel.Level() {
			logger.Info("changing stdout log level", zap.Stringer("level", c.Log.StdoutLevel))
			logger.StdoutLevel.SetLevel(c.Log.StdoutLevel)
		}
	})
	app := &App{
		logger: logger,
		config: appConfig,
	}
	err = app.boot(ctx)
	if err != nil {
		err = errors.Wrap(err, "boot", nil)
		errors.Log(logger.Logger, err)
		return err
	}
	return nil
}

func (app *App) boot(ctx context.Context) error {
	logger := app.logger.Logger
	logger.Info("booting up")
	err := app.setup(ctx)
	if app.mall != nil {
		defer app.mall.Close()
	}
	if err != nil {
		return errors.Wrap(err, "setup", nil)
	}
	services, err := createServices(app)
	if err != nil {
		return errors.Wrap(err, "create services", nil)
	}
	logger.Info("setup completed", zap.Int("services", len(services)))
	err = services.run(ctx, logger)
	if err != nil {
		return errors.Wrap(err, "run services", nil)
	}
	logger.Info("shut down")
	return nil
}

// setup creates all components.
func (app *App) setup(ctx context.Context) error {
	logger := app.logger.Logger
	var err error
	app.registry = prometheus.NewRegistry()
	collector, err := metrics.New(app.registry)
	if err != nil {
		return errors.Wrap(err, "create metrics collector", nil)
	}
	// Backends.
	backends := make([]hardware.Backend, 0, 2)
	if app.config.Arbitration.MockDisplays > 0 {
		backends = append(backends, hardware.NewMockBackend(logger.Named("mock-hw"), hardware.MockConfig{
			Displays: app.config.Arbitration.MockDisplays,
			Gamepads: app.config.Arbitration.MockGamepads,
		}))
	}
	if app.config.MQTT.Addr.Valid {
		app.portalBase, err = portal.NewBase(logger.Named("portal"), portal.Config{
			MQTTAddr: app.config.MQTT.Addr.String,
			ClientID: app.config.MQTT.ClientID,
		})
		if err != nil {
			return errors.Wrap(err, "create portal base", nil)
		}
		app.remote = remotehw.NewBackend(logger.Named("remote-hw"), app.portalBase.NewPortal("remote-hw"))
		backends = append(backends, app.remote)
	}
	displayRegistry := registry.New(logger.Named("registry"), backends...)
	if !displayRegistry.IsInitialized() {
		logger.Warn("no display backend available")
	}
	// Arbitration.
	app.notifier = fanout.NewNotifier(logger.Named("fanout"))
	app.dispatcher = dispatcher.New(logger.Named("dispatcher"), dispatcher.Config{
		PollInterval:        app.config.Arbitration.PollInterval,
		ReleaseOnUnregister: app.config.Arbitration.ReleaseOnUnregister,
	}, displayRegistry, app.notifier, collector)
	// Transport.
	app.hub = ws.NewHub(logger.Named("ws"), app.dispatcher)
	app.notifier.AddSink(app.hub)
	app.webServer, err = webserver.NewWebServer(logger.Named("web-server"), webserver.Config{
		ServeAddr: app.config.Web.ListenAddr,
	})
	if err != nil {
		return errors.Wrap(err, "create web server", nil)
	}
	app.webServer.PopulateRoutes(ctx, app.hub, app.dispatcher, app.registry)
	// Persistence.
	if app.config.DB.Conn.Valid {
		logger.Debug("connecting to database")
		pool, err := store.Connect(ctx, store.Config{
			ConnString: app.config.DB.Conn.String,
			MaxConns:   app.config.DB.MaxConns,
		})
		if err != nil {
			return errors.Wrap(err, "connect database", nil)
		}
		app.mall = store.NewMall(logger.Named("store"), pool)
		err = app.mall.Migrate(ctx)
		if err != nil {
			return errors.Wrap(err, "migrate database", nil)
		}
		logger.Debug("database ready")
	}
	return nil
}
