// Package node assembles the sensor node: server link, scheduler and modules.
package node

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/autopeer-io/sensornode/internal/node/core"
	"github.com/autopeer-io/sensornode/pkg/log"
)

// Link is the server link as seen by the agent.
type Link interface {
	core.Sender
	core.Services
	Register(event core.EventType, handler core.HandlerFunc) error
	Start(ctx context.Context) error
	AwaitConnection(ctx context.Context) error
	Stop()
}

// Runner is a long-running component stopped through its context.
type Runner interface {
	Run(ctx context.Context) error
}

type Scheduler interface {
	core.Scheduler
	Runner
}

type HTTPServer interface {
	Start(ctx context.Context) error
}

type Agent struct {
	platform    core.Platform
	link        Link
	scheduler   Scheduler
	server      HTTPServer
	peripherals []string
	modules     []core.Module
}

func NewAgent(platform core.Platform, link Link, sched Scheduler, srv HTTPServer, peripherals []string, modules ...core.Module) *Agent {
	return &Agent{
		platform:    platform,
		link:        link,
		scheduler:   sched,
		server:      srv,
		peripherals: peripherals,
		modules:     modules,
	}
}

func (a *Agent) Run(ctx context.Context) error {
	log.Info("Starting sensornode", "deviceID", a.platform.DeviceID(), "version", a.platform.FirmwareVersion())

	g, ctx := errgroup.WithContext(ctx)

	deps := core.Deps{
		Platform:  a.platform,
		Sender:    a.link,
		Services:  a.link,
		Scheduler: a.scheduler,
	}
	for _, m := range a.modules {
		if err := m.Setup(ctx, deps); err != nil {
			return fmt.Errorf("module %s setup failed: %w", m.Name(), err)
		}

		for event, handler := range m.Routes() {
			name := m.Name()
			wrapped := core.OnScheduler(a.scheduler, handler, func(err error) {
				log.Error(err, "Handler execution failed", "module", name, "event", event)
			})
			if err := a.link.Register(event, wrapped); err != nil {
				return fmt.Errorf("module %s register event %s failed: %w", name, event, err)
			}
		}
	}

	if err := a.link.Start(ctx); err != nil {
		return err
	}
	defer a.link.Stop()

	g.Go(func() error { return a.scheduler.Run(ctx) })
	g.Go(func() error { return a.server.Start(ctx) })
	g.Go(func() error {
		a.announce(ctx)
		return nil
	})

	err := g.Wait()
	log.Info("Agent shutting down...")
	return err
}

// announce publishes registration and presence once the link is up.
func (a *Agent) announce(ctx context.Context) {
	if err := a.link.AwaitConnection(ctx); err != nil {
		return
	}

	reg, err := registration(a.platform.FirmwareVersion(), a.peripherals)
	if err != nil {
		log.Error(err, "Failed to build registration")
		return
	}
	if err := a.link.SendProto(ctx, core.EventRegister, reg); err != nil {
		log.Error(err, "Failed to send registration request")
		return
	}
	log.Info("Sent registration request", "version", a.platform.FirmwareVersion(), "peripherals", len(a.peripherals))

	online, err := onlineStatus(true, "")
	if err != nil {
		log.Error(err, "Failed to build online status")
		return
	}
	if err := a.link.Send(ctx, core.EventOnline, online); err != nil {
		log.Error(err, "Failed to send online status")
	}
}

func registration(version string, peripherals []string) (*structpb.Struct, error) {
	names := make([]any, 0, len(peripherals))
	for _, p := range peripherals {
		names = append(names, p)
	}
	return structpb.NewStruct(map[string]any{
		"type":            "reg",
		"firmwareVersion": version,
		"peripherals":     names,
	})
}
