package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-metacache/config"
	"github.com/saiset-co/sai-metacache/health"
	"github.com/saiset-co/sai-metacache/metrics"
	"github.com/saiset-co/sai-metacache/types"
	"github.com/saiset-co/sai-metacache/utils"
)

func newApp(out io.Writer, open opener) *cli.App {
	return &cli.App{
		Name:   "metacache",
		Usage:  "Inspect and coordinate a shared metadata cache",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML configuration",
				EnvVars: []string{"METACACHE_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "owner",
				Usage:   "lock owner identity, needed to unblock from a later invocation",
				EnvVars: []string{"METACACHE_OWNER"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Print the cached value of a key",
				ArgsUsage: "KEY",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "now", Usage: "do not wait for the lock"},
				},
				Action: withRuntime(open, getAction),
			},
			{
				Name:      "set",
				Usage:     "Store a value; VALUE is parsed as JSON and kept as a string otherwise",
				ArgsUsage: "KEY VALUE",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "ttl", Usage: "fixed lifetime, 0 for permanent; cache.default_ttl applies when unset"},
				},
				Action: withRuntime(open, setAction),
			},
			{
				Name:      "delete",
				Usage:     "Remove keys",
				ArgsUsage: "KEY...",
				Action:    withRuntime(open, deleteAction),
			},
			{
				Name:  "clear",
				Usage: "Empty the cache for every process",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "keep-blocked", Usage: "hold the lock after clearing"},
				},
				Action: withRuntime(open, clearAction),
			},
			{
				Name:   "flush-all",
				Usage:  "Drop every data key in the backend without publishing a clear",
				Action: withRuntime(open, flushAllAction),
			},
			{
				Name:   "block",
				Usage:  "Take the advisory lock",
				Action: withRuntime(open, blockAction),
			},
			{
				Name:  "unblock",
				Usage: "Release the advisory lock if this owner holds it",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "flush", Value: true, Usage: "flush pending writes first"},
				},
				Action: withRuntime(open, unblockAction),
			},
			{
				Name:   "status",
				Usage:  "Print lock state and generation",
				Action: withRuntime(open, statusAction),
			},
			{
				Name:   "health",
				Usage:  "Check the backend and the cache; exits non-zero when unhealthy",
				Action: withRuntime(open, healthAction),
			},
			{
				Name:   "stats",
				Usage:  "Print entry count and collected metrics",
				Action: withRuntime(open, statsAction),
			},
			{
				Name:      "config",
				Usage:     "Print the effective configuration value at PATH, or every path",
				ArgsUsage: "[PATH]",
				Action:    configAction,
			},
		},
	}
}

type action func(ctx context.Context, c *cli.Context, r *runtime) error

func withRuntime(open opener, fn action) cli.ActionFunc {
	return func(c *cli.Context) error {
		ctx := c.Context
		r, err := open(ctx, settings{
			configPath: c.String("config"),
			owner:      c.String("owner"),
		})
		if err != nil {
			return err
		}

		runErr := fn(ctx, c, r)
		if err := r.close(); err != nil && runErr == nil {
			runErr = err
		}
		return runErr
	}
}

func getAction(ctx context.Context, c *cli.Context, r *runtime) error {
	key, err := requireArg(c, 0, "KEY")
	if err != nil {
		return err
	}

	get := r.cache.Get
	if c.Bool("now") {
		get = r.cache.GetNow
	}

	value, ok, err := get(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return cli.Exit(fmt.Sprintf("key not found: %s", key), 2)
	}

	return printJSON(c.App.Writer, value)
}

func setAction(ctx context.Context, c *cli.Context, r *runtime) error {
	key, err := requireArg(c, 0, "KEY")
	if err != nil {
		return err
	}
	raw, err := requireArg(c, 1, "VALUE")
	if err != nil {
		return err
	}

	var opts []types.SetOption
	if c.IsSet("ttl") {
		opts = append(opts, types.WithTTL(c.Duration("ttl")))
	}

	if err := r.cache.Set(ctx, key, parseValue(raw), opts...); err != nil {
		return err
	}

	failed, err := r.cache.Flush(ctx, true)
	if err != nil {
		return err
	}
	if len(failed) > 0 {
		r.logger.Warn("Value was not stored in the backend", zap.Strings("keys", failed))
		fmt.Fprintf(c.App.Writer, "not stored: %s\n", strings.Join(failed, ", "))
		return nil
	}

	fmt.Fprintln(c.App.Writer, "ok")
	return nil
}

func deleteAction(ctx context.Context, c *cli.Context, r *runtime) error {
	keys := c.Args().Slice()
	if len(keys) == 0 {
		return types.Errorf(types.ErrInvalidParameter, "at least one KEY is required")
	}

	if err := r.cache.DeleteMulti(ctx, keys); err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "deleted %d\n", len(keys))
	return nil
}

func clearAction(ctx context.Context, c *cli.Context, r *runtime) error {
	if err := r.cache.Clear(ctx, c.Bool("keep-blocked")); err != nil {
		return err
	}

	fmt.Fprintln(c.App.Writer, "cleared")
	return nil
}

// flushAllAction empties the data plane only. Lock and generation are left as
// they are, so running processes keep their shadows and restore permanent
// values on the next read.
func flushAllAction(ctx context.Context, c *cli.Context, r *runtime) error {
	if r.backend == nil {
		return types.Errorf(types.ErrInvalidParameter, "flush-all needs a distributed cache")
	}

	if err := r.backend.FlushAll(ctx); err != nil {
		return types.WrapError(err, "failed to flush backend")
	}

	r.logger.Info("Backend data flushed")
	fmt.Fprintln(c.App.Writer, "flushed")
	return nil
}

func blockAction(ctx context.Context, c *cli.Context, r *runtime) error {
	if err := r.cache.Block(ctx); err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "blocked by %s\n", ownerOf(r))
	return nil
}

func unblockAction(ctx context.Context, c *cli.Context, r *runtime) error {
	released, err := r.cache.Unblock(ctx, c.Bool("flush"))
	if err != nil {
		return err
	}
	if !released {
		return cli.Exit("lock is not held by this owner", 3)
	}

	fmt.Fprintln(c.App.Writer, "unblocked")
	return nil
}

func statusAction(ctx context.Context, c *cli.Context, r *runtime) error {
	status := map[string]interface{}{
		"type": r.config.GetConfig().Cache.Type,
	}

	if r.backend != nil {
		state, err := r.backend.Control(ctx)
		if err != nil {
			return err
		}
		status["locked"] = state.Locked()
		status["lock_owner"] = state.LockOwner
		status["generation"] = state.Generation
	}

	return printJSON(c.App.Writer, status)
}

func healthAction(ctx context.Context, c *cli.Context, r *runtime) error {
	hm := health.NewManager(r.config.GetConfig().Name, r.logger)
	hm.RegisterChecker("cache", health.CacheChecker(r.cache))
	if r.backend != nil {
		hm.RegisterChecker("backend", health.BackendChecker(r.backend))
	}

	report := hm.Check(ctx)
	if err := printJSON(c.App.Writer, report); err != nil {
		return err
	}
	if report.Status != types.StatusHealthy {
		return cli.Exit(fmt.Sprintf("status: %s", report.Status), 4)
	}
	return nil
}

func statsAction(ctx context.Context, c *cli.Context, r *runtime) error {
	n, err := r.cache.Len(ctx)
	if err != nil {
		return err
	}

	stats := map[string]interface{}{"entries": n}

	if prom, ok := r.metrics.(*metrics.PrometheusMetrics); ok {
		values, err := prom.Snapshot()
		if err != nil {
			return err
		}
		stats["metrics"] = values
	}

	return printJSON(c.App.Writer, stats)
}

func configAction(c *cli.Context) error {
	cm, err := config.NewConfigurationManager(c.Context, c.String("config"))
	if err != nil {
		return err
	}

	if c.NArg() == 0 {
		for _, path := range cm.GetAllPaths() {
			fmt.Fprintln(c.App.Writer, path)
		}
		return nil
	}

	path := c.Args().First()
	value := cm.GetValue(path, nil)
	if value == nil {
		return types.Errorf(types.ErrConfigNotFound, "path: %s", path)
	}

	return printJSON(c.App.Writer, value)
}

func requireArg(c *cli.Context, index int, name string) (string, error) {
	value := c.Args().Get(index)
	if value == "" {
		return "", types.Errorf(types.ErrInvalidParameter, "%s is required", name)
	}
	return value, nil
}

// parseValue keeps VALUE as a string unless it is valid JSON.
func parseValue(raw string) interface{} {
	var value interface{}
	if err := utils.Unmarshal([]byte(raw), &value); err != nil {
		return raw
	}
	return value
}

func ownerOf(r *runtime) string {
	if owned, ok := r.cache.(interface{ Owner() string }); ok {
		return owned.Owner()
	}
	return "local"
}

func printJSON(out io.Writer, value interface{}) error {
	data, err := utils.Marshal(value)
	if err != nil {
		return types.WrapError(err, "failed to encode output")
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
