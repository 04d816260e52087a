// enn_loadtest runs every session of a demo model concurrently, through the full bind, commit, execute and
// wait protocol, and checks every output.
//
// Configuration comes from the environment (ENN_SESSION_COUNT, ENN_ITERATION_COUNT, ENN_DRIVER, ...), an
// optional YAML file given with -config, and the flags, in increasing order of precedence.
//
// It can also inspect or convert a region table file, with -regions and -convert.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/AaronZLT/CL-EDEN-kernel-sub009/driver"
	_ "github.com/AaronZLT/CL-EDEN-kernel-sub009/driver/cpu"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/engine"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/loadtest"
	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

var (
	flagConfig     = flag.String("config", "", "YAML file with the load test configuration. Environment variables override it.")
	flagSessions   = flag.Int("sessions", 0, "Number of sessions. Overrides ENN_SESSION_COUNT.")
	flagIterations = flag.Int("iterations", 0, "Number of executions per session. Overrides ENN_ITERATION_COUNT.")
	flagDriver     = flag.String("driver", "", fmt.Sprintf("Driver configuration \"<name>:<config>\". Overrides %s.", driver.EnvDriver))
	flagMode       = flag.String("mode", "", "How sessions are driven: \"threads\" or \"pipeline\". Overrides ENN_MODE.")
	flagDump       = flag.String("dump", "", "If set, the regions of session 0 are dumped to files with this prefix after the run.")
	flagProgress   = flag.Bool("progress", true, "Display a progress bar.")
	flagList       = flag.Bool("list_drivers", false, "List the registered drivers and exit.")
	flagRegions    = flag.String("regions", "", "Region table file (.json, .yaml or .cbor) to display, instead of running the load test.")
	flagConvert    = flag.String("convert", "", "Together with -regions, write the region table to this file, in the format of its extension.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	switch {
	case *flagList:
		fmt.Printf("Registered drivers: %s (default %q)\n", strings.Join(driver.List(), ", "), driver.DefaultConfig)
		return
	case *flagRegions != "":
		showRegions(*flagRegions, *flagConvert)
		return
	}

	if err := runLoadTest(); err != nil {
		klog.Errorf("Load test failed: %+v", err)
		os.Exit(1)
	}
}

func runLoadTest() error {
	cfg := must.M1(loadtest.LoadConfig(*flagConfig))
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "sessions":
			cfg.SessionCount = *flagSessions
		case "iterations":
			cfg.IterationCount = *flagIterations
		case "driver":
			cfg.Driver = *flagDriver
		case "mode":
			cfg.Mode = loadtest.Mode(*flagMode)
		case "dump":
			cfg.DumpPrefix = *flagDump
		}
	})

	var drv driver.Driver
	if cfg.Driver == "" {
		drv = must.M1(driver.New())
	} else {
		drv = must.M1(driver.NewWithConfig(cfg.Driver))
	}
	e := engine.New(drv)
	defer e.Finalize()

	runner, err := loadtest.NewRunner(e, cfg)
	if err != nil {
		return err
	}
	if *flagProgress {
		bar := progressbar.NewOptions(runner.TotalExecutions(),
			progressbar.OptionSetDescription(fmt.Sprintf("Load test %s", runner.RunID()[:8])),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("exec"),
			progressbar.OptionSetTheme(progressbar.ThemeASCII),
			progressbar.OptionClearOnFinish(),
		)
		term := termenv.NewOutput(os.Stderr)
		term.HideCursor()
		defer term.ShowCursor()
		runner.OnExecution = func() { _ = bar.Add(1) }
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	report, err := runner.Run(ctx)
	if report != nil {
		fmt.Println(report)
	}
	return err
}
