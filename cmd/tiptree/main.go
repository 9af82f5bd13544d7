package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/docopt/docopt-go"
	"github.com/jrhy/tiptree"
	"github.com/jrhy/tiptree/persist/file"
	"github.com/jrhy/tiptree/rpc"
	"go.uber.org/zap"
)

const version = "0.1.0"

const usage = `Versioned content-addressed trees.

Usage:
    tiptree set --store=<dir> [--tip=<tip>] <path> <json>
    tiptree get --store=<dir> --tip=<tip> [--expand] <path>
    tiptree diff --store=<dir> <old_tip> <new_tip>
    tiptree serve --store=<dir> [--addr=<addr>]
    tiptree -h | --help
    tiptree --version

Options:
    -h --help         Show this screen.
    --version         Show version.
    --store=<dir>     Directory holding the blocks.
    --tip=<tip>       Revision to read or write on top of [default: <empty>].
    --expand          Replace links with the contents of the nodes they refer to.
    --addr=<addr>     Address to listen on [default: 127.0.0.1:8040].`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		panic(err)
	}
	ctx := context.Background()

	if set, _ := opts.Bool("set"); set {
		err = cmdSet(ctx, opts)
	} else if get, _ := opts.Bool("get"); get {
		err = cmdGet(ctx, opts)
	} else if diff, _ := opts.Bool("diff"); diff {
		err = cmdDiff(ctx, opts)
	} else if serve, _ := opts.Bool("serve"); serve {
		err = cmdServe(opts)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "tiptree: %v\n", err)
		os.Exit(1)
	}
}

func openStore(opts docopt.Opts, log *zap.Logger) (*tiptree.Store, error) {
	dir, _ := opts.String("--store")
	p, err := file.NewPersistForPath(dir)
	if err != nil {
		return nil, err
	}
	return tiptree.NewStore(tiptree.Config{
		StoreImmutablePartsWith: p,
		NodeCache:               tiptree.NewNodeCache(1024),
		Log:                     log,
	})
}

func tipOpt(opts docopt.Opts, key string) (tiptree.Tip, error) {
	s, _ := opts.String(key)
	return tiptree.ParseTip(s)
}

func cmdSet(ctx context.Context, opts docopt.Opts) error {
	store, err := openStore(opts, nil)
	if err != nil {
		return err
	}
	prev, err := tipOpt(opts, "--tip")
	if err != nil {
		return err
	}
	path, _ := opts.String("<path>")
	doc, _ := opts.String("<json>")
	v, err := tiptree.ParseJSON([]byte(doc))
	if err != nil {
		return err
	}
	tip, err := store.Apply(ctx, prev, path, v)
	if err != nil {
		return err
	}
	fmt.Println(tip)
	return nil
}

func cmdGet(ctx context.Context, opts docopt.Opts) error {
	store, err := openStore(opts, nil)
	if err != nil {
		return err
	}
	tip, err := tipOpt(opts, "--tip")
	if err != nil {
		return err
	}
	path, _ := opts.String("<path>")
	v, found, err := store.Resolve(ctx, tip, path)
	if err != nil {
		return err
	}
	if !found {
		fmt.Println("null")
		return nil
	}
	if expand, _ := opts.Bool("--expand"); expand {
		v, err = store.Expand(ctx, v)
		if err != nil {
			return err
		}
	}
	b, err := tiptree.MarshalJSON(v)
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func cmdDiff(ctx context.Context, opts docopt.Opts) error {
	store, err := openStore(opts, nil)
	if err != nil {
		return err
	}
	oldTip, err := tipOpt(opts, "<old_tip>")
	if err != nil {
		return err
	}
	newTip, err := tipOpt(opts, "<new_tip>")
	if err != nil {
		return err
	}
	return store.Diff(ctx, oldTip, newTip, func(path string, added, removed tiptree.Value) (bool, error) {
		switch {
		case added != nil && removed != nil:
			fmt.Printf("changed %s from %s to %s\n", path, render(removed), render(added))
		case removed != nil:
			fmt.Printf("removed %s value %s\n", path, render(removed))
		default:
			fmt.Printf("added   %s value %s\n", path, render(added))
		}
		return true, nil
	})
}

func render(v tiptree.Value) string {
	b, err := tiptree.MarshalJSON(v)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(b)
}

func cmdServe(opts docopt.Opts) error {
	log, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer log.Sync()
	store, err := openStore(opts, log)
	if err != nil {
		return err
	}
	addr, _ := opts.String("--addr")
	log.Info("listening", zap.String("addr", addr))
	return http.ListenAndServe(addr, rpc.NewServer(store, rpc.ServerConfig{Log: log}))
}
