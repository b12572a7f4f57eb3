package app

import (
	"context"
	"fmt"
	"time"

	"github.com/lefinal/vr-arbiter/debugstats"
	"github.com/lefinal/vr-arbiter/errors"
	"github.com/lefinal/vr-arbiter/logging"
	"github.com/lefinal/vr-arbiter/logpublishsvc"
	"github.com/lefinal/vr-arbiter/mirrorsvc"
	"github.com/lefinal/vr-arbiter/recordsvc"
	"github.com/lefinal/vr-arbiter/service"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type services map[string]service.Service

func createServices(app *App) (services, error) {
	logger := app.logger.Logger
	services := make(services)
	services["dispatcher"] = app.dispatcher
	services["ws-hub"] = app.hub
	services["web-server"] = app.webServer
	// Debug stats service.
	s, err := debugstats.NewService(logger.Named("debug-stats"), debugstats.Config{
		IsEnabled: app.config.Log.SystemDebugStatsInterval.Valid,
		Interval:  time.Duration(app.config.Log.SystemDebugStatsInterval.Int) * time.Minute,
	}, app.dispatcher)
	if err != nil {
		return nil, errors.Wrap(err, "new debug stats service", nil)
	}
	services["debug-stats"] = s
	// MQTT.
	if app.portalBase != nil {
		services["portal"] = service.Func(app.portalBase.Open)
		services["remote-hw"] = app.remote
		services["mirror"] = mirrorsvc.NewMirrorService(logger.Named("mirror"),
			app.portalBase.NewPortal("mirror"), app.notifier, app.dispatcher)
		if app.logger.Published != nil {
			services["log-publish"] = logpublishsvc.New(logger.Named(logging.NoPublishLoggerName),
				app.portalBase.NewPortal(logging.NoPublishLoggerName), app.logger.Published)
		}
	}
	// Recording.
	if app.mall != nil {
		services["record"] = recordsvc.NewRecordService(logger.Named("record"), app.mall, app.notifier, app.dispatcher)
	}
	return services, nil
}

func (s services) run(ctx context.Context, logger *zap.Logger) error {
	wg, lifetime := errgroup.WithContext(ctx)
	// Run each.
	for name, serviceToRun := range s {
		wg.Go(func() error {
			logger.Debug(fmt.Sprintf("service %s up", name))
			defer logger.Debug(fmt.Sprintf("service %s down", name))
			if err := serviceToRun.Run(lifetime); err != nil {
				return errors.Wrap(err, "run service", errors.Details{"service_name": name})
			}
			return nil
		})
	}
	return wg.Wait()
}
