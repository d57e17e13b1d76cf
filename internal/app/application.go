// Package app holds the dependencies shared by the HTTP handlers and
// middleware: configuration, the logger, and the feed manager.
package app

import (
	"log/slog"

	"transitlens.dev/internal/appconf"
	"transitlens.dev/internal/config"
	"transitlens.dev/internal/gtfs"
)

// Application wires the server's collaborators together.
type Application struct {
	Config      config.Config
	Logger      *slog.Logger
	FeedManager *gtfs.Manager
}

// Env returns the typed operating environment.
func (a *Application) Env() appconf.Environment {
	return appconf.EnvFlagToEnvironment(a.Config.Env)
}

// IsDevelopment reports whether diagnostic detail may cross the boundary.
func (a *Application) IsDevelopment() bool {
	return a.Env() == appconf.Development
}
