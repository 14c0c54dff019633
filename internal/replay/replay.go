/*
battery-advisor - Derives battery trends and advice from battery samples
Copyright (C) 2025, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package replay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/TheCacophonyProject/battery-advisor/internal/advisor"
	"github.com/TheCacophonyProject/go-utils/logging"
	arg "github.com/alexflint/go-arg"
)

var (
	version = "<not set>"
	log     = logging.NewLogger("info")
)

// Step is the engine's output after a sample was pushed.
type Step struct {
	Sample      advisor.Sample   `json:"sample"`
	Advisory    advisor.Advisory `json:"advisory"`
	RecentRates []float64        `json:"recent_rates"`
}

// Replay pushes the samples through a new engine in order, returning the output after each.
func Replay(samples []advisor.Sample) ([]Step, *advisor.EngineState) {
	state := advisor.NewEngineState()
	steps := make([]Step, 0, len(samples))
	for _, s := range samples {
		state.Push(s)
		steps = append(steps, Step{
			Sample:      s,
			Advisory:    state.Advisory(),
			RecentRates: state.RecentRates(),
		})
	}
	return steps, state
}

type Args struct {
	File string `arg:"positional,required" help:"CSV file of 'timestamp, value, charging' rows, - for stdin"`
	All  bool   `arg:"-a,--all" help:"show the advisory after every sample, not just the last"`
	JSON bool   `arg:"--json" help:"output JSON"`
	logging.LogArgs
}

func procArgs(input []string) (Args, error) {
	args := Args{}

	parser, err := arg.NewParser(arg.Config{}, &args)
	if err != nil {
		return Args{}, err
	}
	err = parser.Parse(input)
	if errors.Is(err, arg.ErrHelp) {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if errors.Is(err, arg.ErrVersion) {
		fmt.Println(version)
		os.Exit(0)
	}
	return args, err
}

// Run is the advise subcommand. It replays a CSV file of samples and prints the advice.
func Run(inputArgs []string, ver string) error {
	version = ver
	args, err := procArgs(inputArgs)
	if err != nil {
		return fmt.Errorf("failed to parse args: %v", err)
	}
	log = logging.NewLogger(args.LogLevel)

	in := io.Reader(os.Stdin)
	if args.File != "-" {
		file, err := os.Open(args.File)
		if err != nil {
			return err
		}
		defer file.Close()
		in = file
	}
	return advise(args, in, os.Stdout)
}

func advise(args Args, in io.Reader, out io.Writer) error {
	res, err := ReadCSV(in)
	if err != nil {
		return err
	}
	if res.Skipped > 0 {
		log.Infof("Skipped %d rows that weren't valid samples", res.Skipped)
	}
	log.Debugf("Replaying %d samples", len(res.Samples))

	steps, _ := Replay(res.Samples)
	if !args.All && len(steps) > 0 {
		steps = steps[len(steps)-1:]
	}

	if args.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(steps)
	}

	if len(steps) == 0 {
		_, err := fmt.Fprintln(out, advisor.NoDataAdvisory.Message)
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, step := range steps {
		state := "discharging"
		if step.Sample.Flag {
			state = "charging"
		}
		fmt.Fprintf(w, "%s\t%.1f%%\t%s\t%s\t%s\n",
			step.Sample.Timestamp.Local().Format(TimeFormat),
			step.Sample.Value,
			state,
			formatRates(step.RecentRates),
			step.Advisory.WithFinishTime(step.Sample.Timestamp.Local()))
	}
	return w.Flush()
}

func formatRates(rates []float64) string {
	if len(rates) == 0 {
		return "-"
	}
	return fmt.Sprintf("%+.2f%%/min", rates[len(rates)-1])
}

// Tail returns at most the last n samples.
func Tail(samples []advisor.Sample, n int) []advisor.Sample {
	if len(samples) <= n {
		return samples
	}
	return samples[len(samples)-n:]
}
