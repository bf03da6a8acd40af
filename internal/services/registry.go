// Package services bundles the long-lived themeagent services shared by the
// HTTP server and the command line.
package services

import (
	"github.com/fyrsmithlabs/themeagent/internal/arc"
	"github.com/fyrsmithlabs/themeagent/internal/archive"
	"github.com/fyrsmithlabs/themeagent/internal/runs"
	"github.com/fyrsmithlabs/themeagent/internal/secrets"
)

// Registry provides access to all themeagent services.
// Use accessor methods to retrieve individual services.
type Registry interface {
	Runs() *runs.Manager
	Archive() archive.Service
	Arcs() *arc.Tracker
	Scrubber() secrets.Scrubber
}

// Options configures the registry with service instances. Archive may be nil
// when archiving is disabled.
type Options struct {
	Runs     *runs.Manager
	Archive  archive.Service
	Arcs     *arc.Tracker
	Scrubber secrets.Scrubber
}

// registry is the concrete implementation of Registry.
type registry struct {
	runs     *runs.Manager
	archive  archive.Service
	arcs     *arc.Tracker
	scrubber secrets.Scrubber
}

// NewRegistry creates a new service registry.
func NewRegistry(opts Options) Registry {
	return &registry{
		runs:     opts.Runs,
		archive:  opts.Archive,
		arcs:     opts.Arcs,
		scrubber: opts.Scrubber,
	}
}

func (r *registry) Runs() *runs.Manager        { return r.runs }
func (r *registry) Archive() archive.Service   { return r.archive }
func (r *registry) Arcs() *arc.Tracker         { return r.arcs }
func (r *registry) Scrubber() secrets.Scrubber { return r.scrubber }
