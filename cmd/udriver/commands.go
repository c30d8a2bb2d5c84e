package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/go-chi/chi"
	"github.com/theckman/yacspin"

	"github.com/StuartLittlefair/udriver/apprec"
	"github.com/StuartLittlefair/udriver/ccd"
	"github.com/StuartLittlefair/udriver/datavol"
	"github.com/StuartLittlefair/udriver/fitshdr"
	"github.com/StuartLittlefair/udriver/photometry"
	"github.com/StuartLittlefair/udriver/rtplot"
	"github.com/StuartLittlefair/udriver/servers"
	"github.com/StuartLittlefair/udriver/timing"
	"github.com/StuartLittlefair/udriver/udriverhttp"

	yml "gopkg.in/yaml.v2"
)

func estimator(cfg config) *photometry.Estimator {
	tables := photometry.DefaultTables()
	if cfg.PhotometryTables != "" {
		f, err := os.Open(cfg.PhotometryTables)
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
		tables, err = photometry.LoadTables(f)
		if err != nil {
			log.Fatalf("error loading photometry tables: %v", err)
		}
	}
	return photometry.NewEstimator(tables)
}

func client(cfg config) *servers.Client {
	sc := cfg.Servers
	if !sc.Enabled {
		return nil
	}
	c := servers.NewClient(sc.Camera, sc.Data)
	c.PathConfig, c.PathExec, c.PathGet, c.SearchAttr = sc.PathConfig, sc.PathExec, sc.PathGet, sc.SearchAttr
	return c
}

func newServer(cfg config) *udriverhttp.Server {
	srv := udriverhttp.NewServer(udriverhttp.NewSession(cfg.State), estimator(cfg), cfg.Templates)
	srv.TemplateDir = cfg.TemplateDir
	srv.Client = client(cfg)
	srv.PowerOnApp, srv.PowerOffApp = cfg.Servers.PowerOn, cfg.Servers.PowerOff
	if cfg.Recorder.Enabled {
		rec := apprec.New(cfg.Recorder.Root, cfg.Recorder.Prefix)
		srv.EnableRecorder(rec)
	}
	return srv
}

func run() {
	cfg := loadconfig()
	srv := newServer(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if srv.Client != nil {
		go srv.Watch(ctx)
	} else {
		log.Println("servers disabled, running standalone")
	}

	rt := chi.NewRouter()
	rt.Get("/", rtplot.Handler(srv.Session))
	go func() {
		log.Println("rtplot server listening at", cfg.RtplotAddr)
		log.Fatal(http.ListenAndServe(cfg.RtplotAddr, rt))
	}()

	log.Println("now listening for requests at ", cfg.Addr)
	log.Fatal(http.ListenAndServe(cfg.Addr, srv.Handler()))
}

var (
	warn   = color.New(color.FgYellow).SprintFunc()
	danger = color.New(color.FgRed, color.Bold).SprintFunc()
	good   = color.New(color.FgGreen).SprintFunc()
)

func peakColour(l photometry.Level) func(a ...interface{}) string {
	switch l {
	case photometry.Warning:
		return warn
	case photometry.Saturated:
		return danger
	}
	return good
}

func diskColour(l datavol.Level) func(a ...interface{}) string {
	switch l {
	case datavol.Warn:
		return warn
	case datavol.Danger:
		return danger
	}
	return good
}

// calc prints the report of the configured setup and returns the exit status
func calc() int {
	return report(color.Output, loadconfig())
}

func report(w io.Writer, cfg config) int {
	st := cfg.State
	rep := udriverhttp.Evaluate(st, estimator(cfg))
	if !rep.Valid {
		fmt.Fprintln(w, danger("setup is invalid:"))
		for _, p := range rep.Problems {
			fmt.Fprintln(w, "\t"+p)
		}
		return 1
	}
	fmt.Fprintf(w, "%s, %s binning, %s readout\n", st.Setup.Mode, st.Setup.Windows.Bin.HxV(), st.Setup.Speed)
	for _, row := range rep.Timing.Table() {
		fmt.Fprintf(w, "%-16s %12s %s\n", row.Label, row.Value, row.Unit)
	}
	if !rep.Synchronised {
		fmt.Fprintln(w, warn("windows are not synchronised"))
	}
	if p := rep.Photometry; p != nil {
		fmt.Fprintf(w, "%-16s %12.0f\n", "Total counts", p.TotalCounts)
		fmt.Fprintf(w, "%-16s %12s\n", "Peak counts", peakColour(p.Level)(fmt.Sprintf("%.0f", p.PeakCounts)))
		fmt.Fprintf(w, "%-16s %12.1f\n", "S/N", p.SNR)
		fmt.Fprintf(w, "%-16s %12.1f\n", "S/N (3h)", p.SNR3h)
	} else {
		fmt.Fprintf(w, "%-16s %12s\n", "S/N", "unavailable")
	}
	mb := datavol.MegabytesUsed(time.Hour, rep.Timing.CycleTime, rep.BytesPerFrame)
	fmt.Fprintf(w, "%-16s %12d bytes\n", "Frame size", rep.BytesPerFrame)
	fmt.Fprintf(w, "%-16s %12s MB\n", "Disk per hour", diskColour(datavol.DiskLevel(mb))(mb))
	return 0
}

// syncWindows prints the configured setup with its windows synchronised
func syncWindows() {
	cfg := loadconfig()
	s := cfg.State.Setup
	ws, err := ccd.Synchronise(s.Mode, s.Windows)
	if err != nil {
		log.Fatal(err)
	}
	s.Windows = ws
	if err := yml.NewEncoder(os.Stdout).Encode(s); err != nil {
		log.Fatal(err)
	}
}

func output(args []string) (io.WriteCloser, error) {
	if len(args) == 0 || args[0] == "-" {
		return os.Stdout, nil
	}
	return os.Create(args[0])
}

// windowsFile writes the rtplot windows file of the configured setup
func windowsFile(args []string) {
	cfg := loadconfig()
	s := cfg.State.Setup
	w, err := output(args)
	if err != nil {
		log.Fatal(err)
	}
	defer w.Close()
	if err := rtplot.WriteFile(w, s.Mode, s.Windows); err != nil {
		log.Fatal(err)
	}
}

// fits writes a FITS header describing the configured setup
func fits(args []string) {
	if len(args) == 0 {
		log.Fatal("usage: udriver fits <file>")
	}
	cfg := loadconfig()
	rep := udriverhttp.Evaluate(cfg.State, nil)
	if !rep.Valid {
		log.Fatalf("setup is invalid: %v", rep.Problems)
	}
	f, err := os.Create(args[0])
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	if err := fitshdr.Write(f, fitshdr.Cards(cfg.State.Setup, *rep.Timing)); err != nil {
		log.Fatal(err)
	}
}

// descriptor prints the application descriptor of the configured setup
func descriptor() {
	cfg := loadconfig()
	srv := newServer(cfg)
	b, err := srv.Descriptor(context.Background(), cfg.State)
	if err != nil {
		log.Fatal(err)
	}
	os.Stdout.Write(b)
}

// watch follows a run on the data server until it ends, polling on the
// schedule implied by the cycle time of the configured setup
func watch() {
	cfg := loadconfig()
	c := client(cfg)
	if c == nil {
		log.Fatal("servers are not enabled in the configuration")
	}
	rep := udriverhttp.Evaluate(cfg.State, nil)
	cycle := 0.
	if rep.Timing != nil {
		cycle = rep.Timing.CycleTime
	}
	interval, delay := timing.PollPolicy(cycle, cfg.State.Setup.Exposure.NumExposures)

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " run",
		SuffixAutoColon:   true,
		Message:           "waiting for the first poll",
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopMessage:       "finished",
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		log.Fatal(err)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	spinner.Start()
	select {
	case <-ctx.Done():
		spinner.StopFail()
		return
	case <-time.After(delay):
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		active, err := c.RunActive(ctx)
		switch {
		case ctx.Err() != nil:
			spinner.StopFailMessage("interrupted")
			spinner.StopFail()
			return
		case err != nil:
			spinner.Message(fmt.Sprintf("%v, assuming the run is active", err))
		case !active:
			if n, err := c.RunNumber(ctx); err == nil {
				spinner.StopMessage(fmt.Sprintf("run %d finished", n))
			}
			spinner.Stop()
			return
		default:
			n, err := c.RunNumber(ctx)
			if err == nil {
				spinner.Message(fmt.Sprintf("run %d active", n))
			} else {
				spinner.Message("active")
			}
		}
		select {
		case <-ctx.Done():
		case <-tick.C:
		}
	}
}
