package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/mitchellh/mapstructure"

	"github.com/StuartLittlefair/udriver/appdesc"
	"github.com/StuartLittlefair/udriver/ccd"
	"github.com/StuartLittlefair/udriver/photometry"
	"github.com/StuartLittlefair/udriver/rtplot"
	"github.com/StuartLittlefair/udriver/udriverhttp"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "udriver.yml"
	k              = koanf.New(".")
)

type recorder struct {
	// Root is the root folder to write to
	Root string `yaml:"Root" koanf:"Root"`

	// Prefix is the filename prefix to use
	Prefix string `yaml:"Prefix" koanf:"Prefix"`

	// Enabled turns recording of posted applications on
	Enabled bool `yaml:"Enabled" koanf:"Enabled"`
}

type serverConf struct {
	// Enabled is false when running without the camera and data servers
	Enabled bool `yaml:"Enabled" koanf:"Enabled"`

	// Camera and Data are the base URLs of the servers
	Camera string `yaml:"Camera" koanf:"Camera"`
	Data   string `yaml:"Data" koanf:"Data"`

	PathConfig string `yaml:"PathConfig" koanf:"PathConfig"`
	PathExec   string `yaml:"PathExec" koanf:"PathExec"`
	PathGet    string `yaml:"PathGet" koanf:"PathGet"`
	SearchAttr string `yaml:"SearchAttr" koanf:"SearchAttr"`

	// PowerOn and PowerOff are the applications which power the detector
	PowerOn  string `yaml:"PowerOn" koanf:"PowerOn"`
	PowerOff string `yaml:"PowerOff" koanf:"PowerOff"`
}

type config struct {
	Addr       string `yaml:"Addr" koanf:"Addr"`
	RtplotAddr string `yaml:"RtplotAddr" koanf:"RtplotAddr"`

	// TemplateDir holds the application templates.  Empty fetches them
	// from the camera server.
	TemplateDir string `yaml:"TemplateDir" koanf:"TemplateDir"`

	// PhotometryTables is a YAML file of telescopes and sky brightness
	// which extends the built in tables
	PhotometryTables string `yaml:"PhotometryTables" koanf:"PhotometryTables"`

	Templates appdesc.Templates `yaml:"Templates" koanf:"Templates"`
	Servers   serverConf        `yaml:"Servers" koanf:"Servers"`
	Recorder  recorder          `yaml:"Recorder" koanf:"Recorder"`

	// State is the setup loaded at startup
	State udriverhttp.State `yaml:"State" koanf:"State"`
}

func defaults() config {
	return config{
		Addr:       ":8000",
		RtplotAddr: rtplot.DefaultAddr,
		Templates:  appdesc.DefaultTemplates(),
		Servers: serverConf{
			Camera:     "http://localhost:9980/",
			Data:       "http://localhost:9981/",
			PathConfig: "config",
			PathExec:   "exec",
			PathGet:    "get",
			SearchAttr: "name",
			PowerOn:    "ccd_power_on.xml",
			PowerOff:   "ccd_power_off.xml",
		},
		Recorder: recorder{Root: "applications", Prefix: "run"},
		State: udriverhttp.State{
			Setup:     ccd.DefaultSetup(),
			Telescope: photometry.WHT.String(),
			Target: photometry.Target{
				Magnitude: 18,
				Band:      photometry.G,
				Seeing:    1,
				Airmass:   1.5,
				Moon:      photometry.Dark,
			},
			Run: appdesc.RunInfo{Type: appdesc.Data},
		},
	}
}

func setupconfig() {
	k.Load(structs.Provider(defaults(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

// loadconfig unmarshals the configuration.  Modes, speeds and the like are
// written by name in the file, so text unmarshalers are honoured.
func loadconfig() config {
	c := config{}
	dc := &mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.TextUnmarshallerHookFunc()),
		Result:           &c,
		WeaklyTypedInput: true,
	}
	err := k.UnmarshalWithConf("", &c, koanf.UnmarshalConf{Tag: "koanf", DecoderConfig: dc})
	if err != nil {
		log.Fatal(err)
	}
	c.Templates.MustCheck()
	return c
}

func root() {
	str := `udriver configures the windows, binning, readout speed and exposure of a
frame transfer CCD camera, reports the timing, signal-to-noise and data volume
they imply, and sends them to the camera and data servers.

Usage:
	udriver <command>

Commands:
	run
	calc
	sync
	rtplot [file]
	fits <file>
	descriptor
	watch
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `udriver is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used.  Keys are case-sensitive and
spelled as mkconf writes them; a key spelled differently is ignored.  The command mkconf
generates the configuration file with the default values.

The State section holds the setup used by calc, sync, rtplot, fits and descriptor,
and the setup the server starts from.  Modes are written by label, e.g. "2 windows",
and speeds by name.

run serves the HTTP interface on Addr and the rtplot window server on RtplotAddr.
With Servers.Enabled the camera and data servers are polled and edits are refused
while a run is active.

calc exits with status 1 if the setup is invalid.

watch follows a run on the data server until it ends.`
	fmt.Println(str)
}

func mkconf() {
	c := loadconfig()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := loadconfig()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("udriver version %v\n", Version)
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
	case "mkconf":
		mkconf()
	case "conf":
		printconf()
	case "run":
		run()
	case "calc":
		os.Exit(calc())
	case "sync":
		syncWindows()
	case "rtplot":
		windowsFile(args[2:])
	case "fits":
		fits(args[2:])
	case "descriptor":
		descriptor()
	case "watch":
		watch()
	case "version":
		pversion()
	default:
		log.Fatal("unknown command")
	}
}
