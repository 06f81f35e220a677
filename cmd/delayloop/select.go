package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yok-tottii/delayloop/internal/audio"
	"github.com/yok-tottii/delayloop/internal/console"
	"github.com/yok-tottii/delayloop/internal/device"
)

func newSelectCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "select",
		Short: "Run the device selection and print the chosen indices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(opts)
			if err != nil {
				return err
			}
			defer log.Close()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			driver, err := audio.NewPortAudioDriver()
			if err != nil {
				return err
			}
			defer driver.Terminate()

			out := cmd.OutOrStdout()
			selector := device.New(device.Config{
				Devices:  driver,
				Prompter: console.NewPrompter(cmd.InOrStdin(), out),
				Out:      out,
				HostAPI:  cfg.HostAPI,
				Logger:   log.Logger,
			})

			for _, step := range []struct {
				dir     audio.Direction
				guesses []string
			}{
				{audio.Input, cfg.InputGuesses},
				{audio.Output, cfg.OutputGuesses},
			} {
				sel, err := selector.Select(ctx, step.dir, step.guesses)
				if err != nil {
					return selectionError(err, out, log.Logger)
				}
				fmt.Fprintln(out, sel.Index)
			}
			return nil
		},
	}
}
