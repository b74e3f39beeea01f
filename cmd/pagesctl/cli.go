package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/k11v/pages/internal/app"
	"github.com/k11v/pages/internal/build"
)

// Globals is passed to every command's Run.
type Globals struct {
	ctx     context.Context
	environ []string
	stdout  io.Writer
}

func (g *Globals) config() (*app.Config, error) {
	cfg, err := parseConfig(g.environ)
	if err != nil {
		return nil, err
	}
	return &cfg.App, nil
}

func (g *Globals) withApp(f func(a *app.App) (any, error)) error {
	cfg, err := g.config()
	if err != nil {
		return err
	}
	a, err := app.New(g.ctx, cfg, slog.Default(), nil)
	if err != nil {
		return err
	}
	defer a.Close()

	v, err := f(a)
	if err != nil {
		return err
	}
	return g.print(v)
}

func (g *Globals) print(v any) error {
	enc := json.NewEncoder(g.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type CLI struct {
	Verbose bool `short:"v" help:"Enable debug logging"`

	Migrate       MigrateCmd       `cmd:"" help:"Apply database migrations and create the report bucket"`
	TimeoutBuilds TimeoutBuildsCmd `cmd:"" help:"Fail builds stuck past their deadline and cancel their backend jobs"`
	AuditUsers    AuditUsersCmd    `cmd:"" help:"Remove users from sites they can no longer push to"`
	AuditSites    AuditSitesCmd    `cmd:"" help:"Remove site members who are not push collaborators"`
	AuditUser     AuditUserCmd     `cmd:"" help:"Audit one user"`
	CreateTasks   CreateTasksCmd   `cmd:"" help:"Create the tasks of a build"`
	EnqueueTask   EnqueueTaskCmd   `cmd:"" help:"Publish a created task to the dispatch queue"`
	SetTaskStatus SetTaskStatusCmd `cmd:"" help:"Apply a worker-reported task status"`
}

func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

type MigrateCmd struct{}

func (*MigrateCmd) Run(g *Globals) error {
	cfg, err := g.config()
	if err != nil {
		return err
	}
	if err = app.Setup(g.ctx, cfg); err != nil {
		return err
	}
	slog.Info("migrated")
	return nil
}

type TimeoutBuildsCmd struct {
	At time.Time `help:"Sweep as of this RFC 3339 time instead of now"`
}

func (c *TimeoutBuildsCmd) Run(g *Globals) error {
	return g.withApp(func(a *app.App) (any, error) {
		return a.TimeoutBuilds(g.ctx, c.At)
	})
}

type AuditUsersCmd struct{}

func (*AuditUsersCmd) Run(g *Globals) error {
	return g.withApp(func(a *app.App) (any, error) {
		return a.AuditUsers(g.ctx)
	})
}

type AuditSitesCmd struct{}

func (*AuditSitesCmd) Run(g *Globals) error {
	return g.withApp(func(a *app.App) (any, error) {
		return a.AuditSites(g.ctx)
	})
}

type AuditUserCmd struct {
	ID int64 `required:"" help:"User id"`
}

func (c *AuditUserCmd) Run(g *Globals) error {
	return g.withApp(func(a *app.App) (any, error) {
		return a.AuditUser(g.ctx, c.ID)
	})
}

type CreateTasksCmd struct {
	BuildID int64 `required:"" help:"Build id"`
	Enqueue bool  `help:"Enqueue the created tasks"`
}

func (c *CreateTasksCmd) Run(g *Globals) error {
	return g.withApp(func(a *app.App) (any, error) {
		return a.CreateTasks(g.ctx, c.BuildID, c.Enqueue)
	})
}

type EnqueueTaskCmd struct {
	ID int64 `required:"" help:"Task id"`
}

func (c *EnqueueTaskCmd) Run(g *Globals) error {
	return g.withApp(func(a *app.App) (any, error) {
		result, err := a.EnqueueTask(g.ctx, c.ID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"task_id": result.Task.Task.ID, "priority": result.Priority}, nil
	})
}

type SetTaskStatusCmd struct {
	ID     int64  `required:"" help:"Task id"`
	Status string `required:"" enum:"created,queued,processing,success,error" help:"New status"`
}

func (c *SetTaskStatusCmd) Run(g *Globals) error {
	status, known := build.ParseTaskStatus(c.Status)
	if !known {
		return fmt.Errorf("unknown task status %q", c.Status)
	}
	return g.withApp(func(a *app.App) (any, error) {
		t, err := a.UpdateTaskStatus(g.ctx, c.ID, status)
		if err != nil {
			return nil, err
		}
		return map[string]any{"task_id": t.ID, "status": t.Status}, nil
	})
}
