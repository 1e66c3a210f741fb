package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/theckman/yacspin"

	"github.com/cryolab/dacadc/dacadc"
	"github.com/cryolab/dacadc/client"
	"github.com/cryolab/dacadc/util"
)

func newRampCommand() *cobra.Command {
	var (
		req     dacadc.BufferRampRequest
		out     string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ramp",
		Short: "Run a buffered ramp on a node and write the samples as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			spinner, err := yacspin.New(yacspin.Config{
				Frequency:         100 * time.Millisecond,
				CharSet:           yacspin.CharSets[11],
				Suffix:            " ramping",
				SuffixAutoColon:   true,
				StopCharacter:     "✓",
				StopFailCharacter: "✗",
				Writer:            cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			spinner.Message(fmt.Sprintf("%d steps on DAC %s", req.Steps, util.IntSliceToCSV(req.DACChannels)))
			spinner.Start()
			resp, err := client.New(nodeURL).BufferRamp(ctx, req)
			if err != nil {
				spinner.StopFailMessage(err.Error())
				spinner.StopFail()
				return err
			}
			spinner.StopMessage(resp.State.String())
			spinner.Stop()

			w := cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return writeCSV(w, req.ADCChannels, resp.Data)
		},
	}
	f := cmd.Flags()
	f.StringVar(&nodeURL, "url", nodeURL, "URL of the node")
	f.IntSliceVar(&req.DACChannels, "dac", []int{0}, "DAC channels to ramp")
	f.IntSliceVar(&req.ADCChannels, "adc", []int{0}, "ADC channels to read")
	f.Float64SliceVar(&req.StartVoltages, "start", []float64{0}, "start voltage of each DAC channel")
	f.Float64SliceVar(&req.EndVoltages, "end", []float64{1}, "end voltage of each DAC channel")
	f.IntVar(&req.Steps, "steps", 100, "number of steps")
	f.IntVar(&req.Delay, "delay", 1000, "delay between steps, in the box's delay unit")
	f.IntVar(&req.NumReadingsIgnored, "ignore", 1, "readings discarded before each step's sample")
	f.StringVar(&out, "out", "", "CSV file to write, stdout if empty")
	f.DurationVar(&timeout, "timeout", 0, "give up and stop the ramp after this long, 0 waits forever")
	return cmd
}

// writeCSV writes one column per ADC channel, with a header naming them
func writeCSV(w io.Writer, channels []int, data [][]float64) error {
	if _, err := fmt.Fprintf(w, "# adc %s\n", util.IntSliceToCSV(channels)); err != nil {
		return err
	}
	for _, row := range util.Transpose(data) {
		if _, err := fmt.Fprintln(w, util.FloatSliceToCSV(row)); err != nil {
			return err
		}
	}
	return nil
}
