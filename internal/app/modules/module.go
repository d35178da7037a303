// Package modules wires herald's stores, delivery jobs and stream settings
// into the HTTP server and the River worker registry.
package modules

import (
	"context"

	"github.com/riverqueue/river"

	"peaceseal.io/herald/internal/api/handlers"
)

// Module owns one slice of herald's backends. Bootstrap asks every module
// for its server deps and workers; Application.Shutdown drains modules after
// River stops and before the worker pools are released.
type Module interface {
	Name() string

	// ContributeServerDeps fills the fields of deps this module backs.
	ContributeServerDeps(deps *handlers.ServerDeps)

	// RegisterWorkers adds the module's River jobs (retention, email).
	RegisterWorkers(workers *river.Workers)

	// Shutdown runs under the River stop timeout. Pools still accept work.
	Shutdown(ctx context.Context) error
}
