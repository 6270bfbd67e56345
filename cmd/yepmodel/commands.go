package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/shinyes/yep_model/pkg/config"
	"github.com/shinyes/yep_model/pkg/normalize"
	"github.com/shinyes/yep_model/pkg/patch"
	"github.com/shinyes/yep_model/pkg/schema"
	"github.com/shinyes/yep_model/pkg/store"
	"github.com/shinyes/yep_model/pkg/ydoc"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var inspectRoot string

func init() {
	InspectCmd.Flags().StringVar(&inspectRoot, "root", defaultRoot, "root map to print")
}

// ReplayCmd applies a scenario to a local document.
var ReplayCmd = &cobra.Command{
	Use:   "replay <scenario.yaml>",
	Short: "`replay` applies scenario steps and prints the bound model after each",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScenario(cmd.OutOrStdout(), args[0], false)
	},
}

// SyncCmd applies a scenario on one pool peer and prints the model bound
// on another.
var SyncCmd = &cobra.Command{
	Use:   "sync <scenario.yaml>",
	Short: "`sync` replays a scenario on peer A and prints the model bound on peer B",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScenario(cmd.OutOrStdout(), args[0], true)
	},
}

// InspectCmd lists saved documents, or prints one.
var InspectCmd = &cobra.Command{
	Use:   "inspect [name]",
	Short: "`inspect` lists saved documents or prints the root map of one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := setup()
		if err != nil {
			return err
		}
		s, closeFn, err := openStore(cfg)
		if err != nil {
			return err
		}
		if s == nil {
			return errors.New("inspect needs --data or storage.path")
		}
		defer closeFn()

		if len(args) == 0 {
			return listSaved(cmd.OutOrStdout(), s)
		}
		return printSaved(cmd.OutOrStdout(), s, args[0], inspectRoot)
	},
}

func runScenario(out io.Writer, path string, replicated bool) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	in, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	sc, model, err := parseScenario(in)
	if err != nil {
		return err
	}
	return playScenario(out, cfg, sc, model, replicated, log)
}

func playScenario(out io.Writer, cfg *config.Config, sc *Scenario, model *schema.Model, replicated bool, log *logrus.Entry) error {
	source := ydoc.NewDoc()
	observed := source
	if replicated {
		pool := ydoc.NewPool()
		pool.OnError = func(peer *ydoc.Doc, err error) {
			log.WithError(err).WithField("peer", peer.ClientID()).Error("replication failed")
		}
		var err error
		if source, err = pool.NewPeer(); err != nil {
			return err
		}
		if observed, err = pool.NewPeer(); err != nil {
			return err
		}
	}

	if err := run(sc, model, source, observed, cfg.Binding.Options(), log, out); err != nil {
		return err
	}

	s, closeFn, err := openStore(cfg)
	if err != nil || s == nil {
		return err
	}
	defer closeFn()
	if err := ydoc.Save(s, sc.Name, observed); err != nil {
		return err
	}
	log.WithField("name", sc.Name).Info("document saved")
	return nil
}

func listSaved(out io.Writer, s store.Store) error {
	names, err := ydoc.ListSaved(s)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Fprintln(out, "(empty)")
		return nil
	}
	for _, name := range names {
		fmt.Fprintln(out, name)
	}
	return nil
}

func printSaved(out io.Writer, s store.Store, name, root string) error {
	d, err := ydoc.Load(s, name)
	if err != nil {
		return err
	}
	snap, err := normalize.Snapshot(d.Map(root))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(plain(snap))
}

// plain renders texts as strings for printing.
func plain(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = plain(item)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = plain(item)
		}
		return out
	case patch.Text:
		return x.String()
	default:
		return x
	}
}
