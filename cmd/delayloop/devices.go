package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/yok-tottii/delayloop/internal/audio"
	"github.com/yok-tottii/delayloop/internal/device"
)

func newDevicesCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List input and output devices with the guessed defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(opts)
			if err != nil {
				return err
			}
			defer log.Close()

			driver, err := audio.NewPortAudioDriver()
			if err != nil {
				return err
			}
			defer driver.Terminate()

			return listDevices(cmd.OutOrStdout(), driver, cfg.HostAPI, cfg.InputGuesses, cfg.OutputGuesses)
		},
	}
}

func listDevices(out io.Writer, devices device.Enumerator, hostAPI int, inputGuesses, outputGuesses []string) error {
	selector := device.New(device.Config{Devices: devices, Out: out, HostAPI: hostAPI})

	if err := selector.List(audio.Input, inputGuesses); err != nil {
		return err
	}
	fmt.Fprintln(out)
	return selector.List(audio.Output, outputGuesses)
}
