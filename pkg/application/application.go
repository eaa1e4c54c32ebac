package application

import (
	"fmt"
	"reflect"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/voltgrid/opsconsole/pkg/eventbus"
)

type Controller interface {
	Register(r *mux.Router)
	Key() string
}

type Module interface {
	Register(app Application) error
	Name() string
}

// Application is the registry modules plug their services, controllers and
// middleware into.
type Application interface {
	DB() *pgxpool.Pool
	EventPublisher() eventbus.EventBus
	Logger() *logrus.Logger
	Controllers() []Controller
	Middleware() []mux.MiddlewareFunc
	RegisterControllers(controllers ...Controller)
	RegisterMiddleware(middleware ...mux.MiddlewareFunc)
	RegisterServices(services ...interface{})
	Service(service interface{}) interface{}
	Services() map[reflect.Type]interface{}
}

type ApplicationOptions struct {
	// Pool is nil when every module runs on in-memory stores.
	Pool     *pgxpool.Pool
	EventBus eventbus.EventBus
	Logger   *logrus.Logger
}

func New(opts *ApplicationOptions) Application {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &application{
		pool:           opts.Pool,
		eventPublisher: opts.EventBus,
		logger:         logger,
		controllers:    make(map[string]Controller),
		services:       make(map[reflect.Type]interface{}),
	}
}

// application with a dynamically extendable service registry
type application struct {
	pool           *pgxpool.Pool
	eventPublisher eventbus.EventBus
	logger         *logrus.Logger
	services       map[reflect.Type]interface{}
	controllers    map[string]Controller
	controllerKeys []string
	middleware     []mux.MiddlewareFunc
}

func (app *application) Middleware() []mux.MiddlewareFunc {
	return app.middleware
}

func (app *application) DB() *pgxpool.Pool {
	return app.pool
}

func (app *application) EventPublisher() eventbus.EventBus {
	return app.eventPublisher
}

func (app *application) Logger() *logrus.Logger {
	return app.logger
}

// Controllers returns controllers in registration order.
func (app *application) Controllers() []Controller {
	controllers := make([]Controller, 0, len(app.controllers))
	for _, key := range app.controllerKeys {
		controllers = append(controllers, app.controllers[key])
	}
	return controllers
}

func (app *application) RegisterControllers(controllers ...Controller) {
	for _, c := range controllers {
		if _, exists := app.controllers[c.Key()]; !exists {
			app.controllerKeys = append(app.controllerKeys, c.Key())
		}
		app.controllers[c.Key()] = c
	}
}

func (app *application) RegisterMiddleware(middleware ...mux.MiddlewareFunc) {
	app.middleware = append(app.middleware, middleware...)
}

// RegisterServices registers a new service in the application by its type
func (app *application) RegisterServices(services ...interface{}) {
	for _, service := range services {
		serviceType := reflect.TypeOf(service).Elem()
		app.services[serviceType] = service
	}
}

// Service retrieves a service by its type
func (app *application) Service(service interface{}) interface{} {
	serviceType := reflect.TypeOf(service)
	svc, exists := app.services[serviceType]
	if !exists {
		panic(fmt.Sprintf("service %s not found", serviceType.Name()))
	}
	return svc
}

func (app *application) Services() map[reflect.Type]interface{} {
	return app.services
}

// Load registers modules in order, stopping at the first failure.
func Load(app Application, modules ...Module) error {
	for _, m := range modules {
		if err := m.Register(app); err != nil {
			return fmt.Errorf("module %s: %w", m.Name(), err)
		}
		app.Logger().WithField("module", m.Name()).Info("module registered")
	}
	return nil
}
