package app

import (
	"net/http"

	"bizcal/internal/config"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config     *config.Config
	store      Store
	httpClient *http.Client
}

// WithConfig sets the application configuration.
func WithConfig(cfg *config.Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithStore replaces the SQLite store opened from config.
func WithStore(st Store) Option {
	return func(a *application) {
		a.store = st
	}
}

// WithHTTPClient sets the client used to fetch ICS feeds.
func WithHTTPClient(c *http.Client) Option {
	return func(a *application) {
		a.httpClient = c
	}
}
