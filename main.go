package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v6"
	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"

	. "github.com/CodedInternet/panthera/onboard"
	"github.com/CodedInternet/panthera/onboard/canbus"
	"github.com/CodedInternet/panthera/onboard/hardware"
	"github.com/CodedInternet/panthera/onboard/kinematics"
)

type EnvConfig struct {
	CONFIG  string `env:"PANTHERA_CONFIG" envDefault:"./panthera.yaml"`
	POSE_DB string `env:"POSE_DB" envDefault:"./tmp/poses.db"`
	DEBUG   bool   `env:"DEBUG" envDefault:"0"`
}

type Options struct {
	Simulated bool   `long:"sim" description:"Run against simulated drives instead of the bus"`
	Config    string `short:"c" long:"config" description:"Arm config file (overrides PANTHERA_CONFIG)"`
	Driver    string `short:"d" long:"driver" choice:"socketcan" choice:"slcan" choice:"virtual" description:"Override the bus driver"`
	Interface string `short:"i" long:"iface" description:"Override the bus interface, e.g. can0 or /dev/ttyACM0"`
}

var (
	ENV  *EnvConfig
	opts Options
)

func init() {
	ENV = new(EnvConfig)
	if err := env.Parse(ENV); err != nil {
		logrus.WithError(err).Fatal("unable to read environment")
	}

	if ENV.DEBUG {
		logrus.SetLevel(logrus.DebugLevel)
	}
}

func main() {
	parser := flags.NewParser(&opts, flags.Default)
	parser.LongDescription = "Panthera follower arm controller"
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	config, err := loadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("unable to load arm config")
	}

	bus, err := openBus(config)
	if err != nil {
		logrus.WithError(err).Fatal("unable to open bus")
	}

	control := hardware.NewMotorControl(bus, controlOptions(config)...)

	kin := kinematics.NewKinematic()
	kin.Tolerance = config.Kinematics.Tolerance
	kin.MaxIterations = config.Kinematics.MaxIterations

	follower, err := NewFollower(control, kin, config)
	if err != nil {
		logrus.WithError(err).Fatal("unable to set up follower")
	}
	defer follower.Close()

	if err = follower.Init(context.Background()); err != nil {
		logrus.WithError(err).Fatal("unable to initialise follower")
	}

	poses, err := openPoseStore(ENV.POSE_DB)
	if err != nil {
		logrus.WithError(err).Warn("pose store unavailable")
	} else {
		defer poses.Close()
		follower.SetPoseStore(poses)
	}

	shell := newShell(follower, control)
	shell.Println("Panthera development shell")
	shell.Run()
}

func loadConfig() (*ArmConfig, error) {
	path := ENV.CONFIG
	if len(opts.Config) > 0 {
		path = opts.Config
	}

	config, err := LoadArmConfig(path)
	if errors.Is(err, fs.ErrNotExist) && len(opts.Config) == 0 {
		logrus.Warnf("%s not found, using the stock arm", path)
		config, err = DefaultArmConfig(), nil
	}
	if err != nil {
		return nil, err
	}

	if len(opts.Driver) > 0 {
		config.Bus.Driver = opts.Driver
	}
	if len(opts.Interface) > 0 {
		config.Bus.Interface = opts.Interface
	}
	return config, nil
}

func openBus(config *ArmConfig) (canbus.CANBusInterface, error) {
	if opts.Simulated {
		logrus.Info("creating simulator")
		bus := canbus.NewVirtualBus()
		NewSimulatedDrives(bus).AddArm(config)
		return bus, nil
	}

	logrus.Infof("opening %s on %s", config.Bus.Driver, config.Bus.Interface)
	return canbus.Open(config.Bus)
}

func controlOptions(config *ArmConfig) []hardware.Option {
	var out []hardware.Option
	if config.Timing.TxTimeout > 0 {
		out = append(out, hardware.WithTxTimeout(config.Timing.TxTimeout))
	}
	if config.Timing.RefreshTimeout > 0 {
		out = append(out, hardware.WithRefreshTimeout(config.Timing.RefreshTimeout))
	}
	if config.Timing.NoPacing || opts.Simulated {
		out = append(out, hardware.WithPacing(hardware.Pacing{}))
	}
	return out
}

func openPoseStore(dbFile string) (*PoseStore, error) {
	dbFile, err := filepath.Abs(dbFile)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(dbFile)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		os.MkdirAll(dir, 0755)
	}

	return OpenPoseStore(dbFile)
}
