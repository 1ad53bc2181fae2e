// Package api is the request execution layer: authenticated, rate-limited,
// retried HTTP operations against Google Workspace services, plus the batch
// multiplexer that packs many logical operations into one wire exchange.
package api

import (
	"sort"

	"github.com/workspacekit/workspace-cli/internal/ratelimit"
)

// Service describes one upstream Google Workspace API. Service identity is a
// configuration value; every service is driven through the same client.
type Service struct {
	Name string

	// BaseURL is the versioned API root requests are resolved against.
	BaseURL string

	// BatchURL is the multipart batch endpoint, empty when the service has
	// no batch support.
	BatchURL string

	Limits ratelimit.Limits
}

var services = map[string]Service{
	"gmail": {
		Name:     "gmail",
		BaseURL:  "https://gmail.googleapis.com/gmail/v1",
		BatchURL: "https://www.googleapis.com/batch/gmail/v1",
		Limits:   ratelimit.DefaultLimits["gmail"],
	},
	"drive": {
		Name:     "drive",
		BaseURL:  "https://www.googleapis.com/drive/v3",
		BatchURL: "https://www.googleapis.com/batch/drive/v3",
		Limits:   ratelimit.DefaultLimits["drive"],
	},
	"calendar": {
		Name:     "calendar",
		BaseURL:  "https://www.googleapis.com/calendar/v3",
		BatchURL: "https://www.googleapis.com/batch/calendar/v3",
		Limits:   ratelimit.DefaultLimits["calendar"],
	},
	"docs": {
		Name:    "docs",
		BaseURL: "https://docs.googleapis.com/v1",
		Limits:  ratelimit.DefaultLimits["docs"],
	},
	"sheets": {
		Name:    "sheets",
		BaseURL: "https://sheets.googleapis.com/v4",
		Limits:  ratelimit.DefaultLimits["sheets"],
	},
	"slides": {
		Name:    "slides",
		BaseURL: "https://slides.googleapis.com/v1",
		Limits:  ratelimit.DefaultLimits["slides"],
	},
	"tasks": {
		Name:    "tasks",
		BaseURL: "https://tasks.googleapis.com/tasks/v1",
		Limits:  ratelimit.DefaultLimits["tasks"],
	},
}

// LookupService returns the built-in definition for a service name.
func LookupService(name string) (Service, bool) {
	s, ok := services[name]
	return s, ok
}

// ServiceNames lists the known services in stable order.
func ServiceNames() []string {
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
