package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"

	"github.com/CodedInternet/panthera/onboard/canbus"
	"github.com/CodedInternet/panthera/onboard/hardware"
)

var opts struct {
	Driver    string `short:"d" long:"driver" default:"socketcan" description:"Bus driver"`
	Interface string `short:"i" long:"iface" default:"can0" description:"Bus interface"`
	Type      string `short:"t" long:"type" default:"DM4310" description:"Motor type"`
	Slave     uint32 `short:"s" long:"slave" default:"1" description:"Slave (command) id"`
	Master    uint32 `short:"m" long:"master" default:"17" description:"Master (feedback) id"`
}

// Polls a single drive and prints its feedback.
func main() {
	if _, err := flags.Parse(&opts); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	cfg := canbus.DefaultConfig()
	cfg.Driver = opts.Driver
	cfg.Interface = opts.Interface
	bus, err := canbus.Open(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("unable to open bus")
	}

	mt, err := hardware.ParseMotorType(opts.Type)
	if err != nil {
		logrus.WithError(err).Fatal("bad motor type")
	}

	control := hardware.NewMotorControl(bus)
	defer control.Close()

	motor := hardware.NewMotor(mt, opts.Slave, opts.Master)
	if err = control.AddMotor(motor); err != nil {
		logrus.WithError(err).Fatal("unable to register motor")
	}
	if err = control.Init(); err != nil {
		logrus.WithError(err).Fatal("unable to start controller")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err = control.RefreshMotorStatus(ctx, motor); err != nil {
		logrus.WithError(err).Fatal("no answer from drive")
	}

	fmt.Printf("Success! %s answered\n", motor)
	hardware.WriteStatusTable(os.Stdout, control.Motors())
}
