package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/colloquy"
	"github.com/hupe1980/colloquy/config"
	"github.com/hupe1980/colloquy/core"
	"github.com/hupe1980/colloquy/inbox"
	"github.com/hupe1980/colloquy/recorder"
	"github.com/hupe1980/colloquy/session"
)

type runFlags struct {
	*globalFlags
	inboxDir  string
	export    string
	maxRounds int
	verbose   bool
	noSave    bool
	step      bool
}

func newRunCmd(g *globalFlags) *cobra.Command {
	f := runFlags{globalFlags: g}

	cmd := &cobra.Command{
		Use:   "run <dialogue-file>",
		Short: "Run a dialogue defined in a YAML or JSON file",
		Example: `  # Run a debate and save it to the default store
  colloquy run debate.yaml

  # Steer the dialogue by dropping files into ./inbox while it runs
  colloquy run debate.yaml --inbox ./inbox --export debate.json

  # Take one turn per key press
  colloquy run debate.yaml --step`,
		Args: cobra.ExactArgs(1),
		RunE: f.run,
	}

	cmd.Flags().StringVar(&f.inboxDir, "inbox", "", "Directory watched for interjection files")
	cmd.Flags().StringVar(&f.export, "export", "", "Write the session snapshot to this JSON file")
	cmd.Flags().IntVar(&f.maxRounds, "max-rounds", 0, "Override max_rounds from the dialogue file (0 runs until interrupted)")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "Print turn headers and streamed output")
	cmd.Flags().BoolVar(&f.noSave, "no-save", false, "Do not store the session when the dialogue ends")
	cmd.Flags().BoolVar(&f.step, "step", false, "Take one turn each time enter is pressed, q stops")

	return cmd
}

func (f *runFlags) run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(args[0])
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("max-rounds") {
		cfg.MaxRounds = core.Int(f.maxRounds)
	}

	m, cleanup, err := f.newManager(ctx, func(o *colloquy.Options) {
		o.AutoSave = !f.noSave
	})
	if err != nil {
		return err
	}
	defer cleanup()

	p := newPrinter(cmd.OutOrStdout(), nil, f.verbose)
	if res := m.Subscribe(p.observer()); !res.Success {
		return res.Err()
	}

	st, err := colloquy.DataAs[core.DialogueState](m.CreateDialogue(ctx, *cfg))
	if err != nil {
		return err
	}
	p.setAgents(st.Agents)
	id := st.DialogueID

	if f.inboxDir != "" {
		logger, err := f.logger()
		if err != nil {
			return err
		}
		w, err := inbox.New(f.inboxDir, func(ctx context.Context, in core.Interjection) error {
			return m.AddInterjection(ctx, id, in).Err()
		}, func(o *inbox.Options) {
			o.Logger = logger.WithComponent("inbox")
		})
		if err != nil {
			return err
		}
		inboxCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() { _ = w.Run(inboxCtx) }()
	}

	var waitErr error
	if f.step {
		waitErr = f.stepThrough(ctx, cmd, m, id)
	} else {
		// The loop outlives ctx; an interrupt stops the dialogue gracefully.
		if res := m.Start(ctx, id); !res.Success {
			return res.Err()
		}
		waitErr = m.Wait(ctx, id).Err()
		if errors.Is(ctx.Err(), context.Canceled) {
			m.Stop(context.WithoutCancel(ctx), id)
			waitErr = m.Wait(context.WithoutCancel(ctx), id).Err()
		}
	}

	snap, err := colloquy.DataAs[*core.Snapshot](m.Export(ctx, id))
	if err != nil {
		return err
	}
	if f.export != "" {
		data, err := recorder.EncodeSnapshot(snap)
		if err != nil {
			return err
		}
		if err := session.WriteSnapshotFile(f.export, data); err != nil {
			return err
		}
	}
	printf(cmd.OutOrStdout(), "session %s: %d exchanges\n", snap.ID, len(snap.Exchanges))
	if waitErr != nil {
		return fmt.Errorf("dialogue halted: %w", waitErr)
	}
	return nil
}

// stepThrough drives the dialogue one turn per input line. The run loop never
// starts in step mode, so the session is saved here instead of on loop exit.
func (f *runFlags) stepThrough(ctx context.Context, cmd *cobra.Command, m *colloquy.Manager, id string) error {
	out := cmd.OutOrStdout()
	in := bufio.NewScanner(cmd.InOrStdin())

	var stepErr error
	for ctx.Err() == nil {
		printf(out, "[enter] next turn, q stops: ")
		if !in.Scan() || strings.TrimSpace(in.Text()) == "q" {
			m.Stop(context.WithoutCancel(ctx), id)
			break
		}

		res := m.Step(ctx, id)
		st, err := colloquy.DataAs[core.DialogueState](m.State(id))
		if err != nil {
			return err
		}
		if st.Status == core.StatusStopped {
			if st.StopReason == core.StopReasonHalted {
				stepErr = res.Err()
			}
			break
		}
		if !res.Success {
			printf(out, "turn failed: %s\n", res.Error.Message)
		}
	}

	if !f.noSave {
		if res := m.Save(context.WithoutCancel(ctx), id); !res.Success {
			return res.Err()
		}
	}
	return stepErr
}
