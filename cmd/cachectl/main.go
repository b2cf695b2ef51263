// Command cachectl inspects and tunes a running cache node through its admin HTTP API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/pflag"

	"github.com/dhis2/dhis2-core-sub010/internal/client"
	"github.com/dhis2/dhis2-core-sub010/internal/config"
	"github.com/dhis2/dhis2-core-sub010/internal/models"
)

const usage = `Usage: cachectl [global flags] <command> [flags]

Commands:
  info [--condensed]                 show the cache snapshot
  regions                            list region names
  region <name>                      show one region
  cap                                show the cap percentages
  set-cap [--heap N] [--hard N] [--soft N]
                                     update the cap percentages
  invalidate [region]                clear the whole cache or one region
  health                             show node health

Global flags:
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "cachectl:", err)
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg := config.GetConfig()
	logger := config.GetLogger()

	global := pflag.NewFlagSet("cachectl", pflag.ContinueOnError)
	global.SetOutput(stderr)
	global.SetInterspersed(false)
	baseURL := global.String("url", fmt.Sprintf("http://%s:%d", cfg.Server.Address, cfg.Server.Port), "base URL of the cache admin API")
	timeout := global.String("timeout", "30s", "request timeout")
	retries := global.Int("retries", 2, "retries for transient failures, negative disables retrying")
	proxy := global.String("proxy", "", "HTTP proxy URL")
	global.Usage = func() {
		fmt.Fprint(stderr, usage)
		global.PrintDefaults()
	}
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return pflag.ErrHelp
	}

	c := client.NewClient(client.Options{
		BaseURL:               *baseURL,
		Timeout:               *timeout,
		ProxyConnectionString: *proxy,
		Retries:               *retries,
		Logger:                &logger,
	})
	return dispatch(ctx, c, global.Arg(0), global.Args()[1:], stdout, stderr)
}

func dispatch(ctx context.Context, c client.Client, command string, args []string, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet(command, pflag.ContinueOnError)
	fs.SetOutput(stderr)

	switch command {
	case "info":
		condensed := fs.Bool("condensed", false, "only list non-empty regions, largest first")
		if err := fs.Parse(args); err != nil {
			return err
		}
		info, err := c.Info(ctx, *condensed)
		if err != nil {
			return err
		}
		return printJSON(stdout, info)

	case "regions":
		names, err := c.Regions(ctx)
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintln(stdout, name)
		}
		return nil

	case "region":
		if err := fs.Parse(args); err != nil {
			return err
		}
		if fs.NArg() != 1 {
			return errors.New("region: expected exactly one region name")
		}
		info, err := c.Region(ctx, fs.Arg(0))
		if err != nil {
			return err
		}
		return printJSON(stdout, info)

	case "cap":
		info, err := c.Cap(ctx)
		if err != nil {
			return err
		}
		return printJSON(stdout, info)

	case "set-cap":
		heap := fs.Int("heap", 0, "percentage of heap capacity usable by the cache")
		hard := fs.Int("hard", 0, "hard cap as a percentage of the ceiling")
		soft := fs.Int("soft", 0, "soft cap as a percentage of the ceiling")
		if err := fs.Parse(args); err != nil {
			return err
		}
		var update models.CapUpdate
		if fs.Changed("heap") {
			update.Heap = heap
		}
		if fs.Changed("hard") {
			update.Hard = hard
		}
		if fs.Changed("soft") {
			update.Soft = soft
		}
		if update.IsEmpty() {
			return errors.New("set-cap: at least one of --heap, --hard or --soft is required")
		}
		if err := c.UpdateCap(ctx, update); err != nil {
			return err
		}
		info, err := c.Cap(ctx)
		if err != nil {
			return err
		}
		return printJSON(stdout, info)

	case "invalidate":
		if err := fs.Parse(args); err != nil {
			return err
		}
		switch fs.NArg() {
		case 0:
			if err := c.Invalidate(ctx); err != nil {
				return err
			}
			fmt.Fprintln(stdout, "invalidated all regions")
		case 1:
			if err := c.InvalidateRegion(ctx, fs.Arg(0)); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "invalidated region %s\n", fs.Arg(0))
		default:
			return errors.New("invalidate: expected at most one region name")
		}
		return nil

	case "health":
		health, err := c.Health(ctx)
		if err != nil {
			return err
		}
		return printJSON(stdout, health)

	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
