package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/colloquy"
	"github.com/hupe1980/colloquy/core"
	"github.com/hupe1980/colloquy/replay"
	"github.com/hupe1980/colloquy/session"
	"github.com/hupe1980/colloquy/spectator"
)

type replayFlags struct {
	*globalFlags
	file     string
	speed    string
	loop     bool
	from     int
	noInterj bool
}

func newReplayCmd(g *globalFlags) *cobra.Command {
	f := replayFlags{globalFlags: g}

	cmd := &cobra.Command{
		Use:   "replay [session-id]",
		Short: "Replay a recorded session without calling any agent",
		Example: `  # Replay a stored session quickly
  colloquy replay 3f2c... --speed fast

  # Replay an exported snapshot file
  colloquy replay --file debate.json --speed instant`,
		Args: cobra.MaximumNArgs(1),
		RunE: f.run,
	}

	cmd.Flags().StringVarP(&f.file, "file", "f", "", "Replay a snapshot file instead of a stored session")
	cmd.Flags().StringVar(&f.speed, "speed", string(replay.SpeedNormal), "Playback speed (instant, fast, normal, slow)")
	cmd.Flags().BoolVar(&f.loop, "loop", false, "Restart from the beginning after the last exchange")
	cmd.Flags().IntVar(&f.from, "from", 0, "Index of the first exchange to replay")
	cmd.Flags().BoolVar(&f.noInterj, "hide-interjections", false, "Do not show consumed interjections")

	return cmd
}

func (f *replayFlags) run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if (len(args) == 0) == (f.file == "") {
		return fmt.Errorf("pass either a session id or --file")
	}

	m, cleanup, err := f.newManager(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	var snap *core.Snapshot
	if f.file != "" {
		snap, err = session.ReadSnapshotFile(f.file)
	} else {
		snap, err = colloquy.DataAs[*core.Snapshot](m.LoadSession(ctx, args[0]))
	}
	if err != nil {
		return err
	}

	p := newPrinter(cmd.OutOrStdout(), snap.Agents, true)
	completed := make(chan struct{}, 1)
	watch := spectator.Handlers{
		OnReplayCompleted: func(context.Context, core.Event, core.ReplayCompletedPayload) {
			select {
			case completed <- struct{}{}:
			default:
			}
		},
	}
	for _, obs := range []spectator.Observer{p.observer(), watch} {
		if res := m.Subscribe(obs, core.EventReplayStarted, core.EventReplayExchange, core.EventReplayCompleted); !res.Success {
			return res.Err()
		}
	}

	status, err := colloquy.DataAs[replay.Status](m.CreateReplayFromSnapshot(snap, replay.Config{
		Speed:             replay.Speed(f.speed),
		Loop:              f.loop,
		AutoAdvance:       true,
		ShowInterjections: !f.noInterj,
	}))
	if err != nil {
		return err
	}
	if f.from > 0 {
		if res := m.JumpReplay(status.ID, f.from); !res.Success {
			return res.Err()
		}
	}
	if res := m.PlayReplay(ctx, status.ID); !res.Success {
		return res.Err()
	}

	select {
	case <-completed:
	case <-ctx.Done():
		m.StopReplay(context.WithoutCancel(ctx), status.ID)
	}
	return nil
}
