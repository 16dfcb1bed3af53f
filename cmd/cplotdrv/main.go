// command cplotdrv is a thin smoke-test binary for the plotter driver
// stack: it lowers a small demo square into a plan, dumps it as CBOR,
// and, when a controller is reachable, draws it. Argument parsing,
// richer logging, and a device-profile table are left to whatever
// front end embeds this stack.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/tkoval83/cplot-sub000/axidraw"
	"github.com/tkoval83/cplot-sub000/canvas"
	"github.com/tkoval83/cplot-sub000/lowlevel"
	"github.com/tkoval83/cplot-sub000/planner"
	"github.com/tkoval83/cplot-sub000/profile"
	"github.com/tkoval83/cplot-sub000/serialport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "cplotdrv: %v\n", err)
		os.Exit(2)
	}
}

func run() error {
	log.SetFlags(log.Flags() &^ (log.Ldate | log.Ltime))

	dp := profile.Default
	square := canvas.Polyline{
		{X: 10, Y: 10}, {X: 40, Y: 10}, {X: 40, Y: 40}, {X: 10, Y: 40}, {X: 10, Y: 10},
	}
	blocks, ok := canvas.Lower([]canvas.Polyline{square}, dp.SpeedMMS, nil, dp)
	if !ok {
		return fmt.Errorf("planner rejected the demo path")
	}
	log.Printf("planned %d blocks for a %d-vertex square", len(blocks), len(square))

	dump, err := planner.Dump(blocks)
	if err != nil {
		return fmt.Errorf("dump plan: %w", err)
	}
	if _, err := os.Stdout.Write(dump); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}

	devPath, err := serialport.GuessDevicePort()
	if err != nil || devPath == "" {
		log.Printf("no controller found, skipping draw")
		return nil
	}
	return draw(devPath, dp, blocks)
}

func draw(devPath string, dp profile.DeviceProfile, blocks []planner.Block) error {
	sess := axidraw.NewSession()
	settings := axidraw.DefaultSettings()
	settings.StepsPerMM = dp.StepsPerMM
	settings.WorkingSpeedMMS = dp.SpeedMMS
	settings.WorkingAccelMMS2 = dp.AccelMMS2
	if err := sess.Configure(devPath, 115200, 2000, settings); err != nil {
		return err
	}
	if err := sess.Connect(); err != nil {
		return err
	}
	defer sess.Disconnect()

	if err := sess.HomeDefault(); err != nil {
		return err
	}
	enc := lowlevel.Encoder{Move: sess, StepsPerMM: dp.StepsPerMM}
	for _, b := range blocks {
		if b.PenDown {
			if err := sess.PenDown(); err != nil {
				return err
			}
		} else {
			if err := sess.PenUp(); err != nil {
				return err
			}
		}
		if err := enc.EmitBlock(b); err != nil {
			return err
		}
	}
	if err := sess.WaitIdle(500); err != nil {
		return err
	}
	return sess.PenUp()
}
