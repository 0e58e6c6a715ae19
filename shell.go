package main

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell/v2"

	. "github.com/CodedInternet/panthera/onboard"
	"github.com/CodedInternet/panthera/onboard/hardware"
	"github.com/CodedInternet/panthera/onboard/kinematics"
)

const commandTimeout = 5 * time.Second

func parseFloats(args []string, n int) ([]float64, error) {
	if len(args) != n {
		return nil, fmt.Errorf("need %d values, got %d", n, len(args))
	}
	out := make([]float64, n)
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func parseDegrees(args []string) (j kinematics.Joint, err error) {
	vals, err := parseFloats(args, kinematics.Joints)
	if err != nil {
		return
	}
	var d [kinematics.Joints]float64
	copy(d[:], vals)
	return kinematics.JointFromDegrees(d), nil
}

// run gives each shell command its own deadline.
func run(c *ishell.Context, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		c.Err(err)
	}
}

func newShell(follower *Follower, control *hardware.MotorControl) *ishell.Shell {
	shell := ishell.New()

	masterIDs := func([]string) []string {
		var ids []string
		for _, m := range control.Motors() {
			ids = append(ids, fmt.Sprintf("0x%02x", m.MasterID))
		}
		return ids
	}

	shell.AddCmd(&ishell.Cmd{
		Name:      "enable",
		Help:      "enable [on|off]",
		Completer: func([]string) []string { return []string{"on", "off"} },
		Func: func(c *ishell.Context) {
			run(c, func(ctx context.Context) error {
				if len(c.Args) > 0 && c.Args[0] == "off" {
					return follower.Disable(ctx)
				}
				return follower.Enable(ctx)
			})
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "zero",
		Help: "move every motor to its zero position",
		Func: func(c *ishell.Context) {
			run(c, follower.GotoZero)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "setzero",
		Help: "record the current position of every motor as zero",
		Func: func(c *ishell.Context) {
			run(c, follower.SetZero)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "goto",
		Help: "goto <x> <y> <z> (metres)",
		Func: func(c *ishell.Context) {
			xyz, err := parseFloats(c.Args, 3)
			if err != nil {
				c.Err(err)
				return
			}
			run(c, func(ctx context.Context) error {
				q, err := follower.GotoPosition(ctx, xyz[0], xyz[1], xyz[2])
				if err == nil {
					c.Printf("joints %v\n", q.Degrees())
				}
				return err
			})
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "joints",
		Help: "joints <j1> .. <j6> (degrees)",
		Func: func(c *ishell.Context) {
			j, err := parseDegrees(c.Args)
			if err != nil {
				c.Err(err)
				return
			}
			run(c, func(ctx context.Context) error {
				return follower.GotoJoints(ctx, j)
			})
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name:    "read",
		Aliases: []string{"status"},
		Help:    "poll every motor and print its feedback",
		Func: func(c *ishell.Context) {
			run(c, func(ctx context.Context) error {
				_, err := follower.ReadPositions(ctx)
				var sb strings.Builder
				if e := follower.Status(&sb); e != nil {
					return e
				}
				c.Print(sb.String())
				return err
			})
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "fk",
		Help: "fk <j1> .. <j6> (degrees), print the tool transform",
		Func: func(c *ishell.Context) {
			j, err := parseDegrees(c.Args)
			if err != nil {
				c.Err(err)
				return
			}
			c.Println(kinematics.NewKinematic().SolveForwardKinematics(j))
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name:      "gripper",
		Help:      "gripper open|close|<position>",
		Completer: func([]string) []string { return []string{"open", "close"} },
		Func: func(c *ishell.Context) {
			if len(c.Args) != 1 {
				c.Println(c.Cmd.HelpText())
				return
			}
			run(c, func(ctx context.Context) error {
				switch c.Args[0] {
				case "open":
					return follower.OpenGripper(ctx)
				case "close":
					return follower.CloseGripper(ctx)
				}
				pos, err := strconv.ParseFloat(c.Args[0], 64)
				if err != nil {
					return err
				}
				return follower.Gripper(ctx, pos)
			})
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name:      "mode",
		Help:      "mode <master id> mit|pos_vel|vel|pos_force",
		Completer: masterIDs,
		Func: func(c *ishell.Context) {
			if len(c.Args) != 2 {
				c.Println(c.Cmd.HelpText())
				return
			}
			id, err := strconv.ParseUint(c.Args[0], 0, 32)
			if err != nil {
				c.Err(err)
				return
			}
			mode, err := hardware.ParseControlMode(c.Args[1])
			if err != nil {
				c.Err(err)
				return
			}
			run(c, func(ctx context.Context) error {
				return control.SwitchControlModeByID(ctx, uint32(id), mode)
			})
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name:      "motor",
		Help:      "motor <master id> <position> [speed], move a single motor",
		Completer: masterIDs,
		Func: func(c *ishell.Context) {
			if len(c.Args) < 2 {
				c.Println(c.Cmd.HelpText())
				return
			}
			id, err := strconv.ParseUint(c.Args[0], 0, 32)
			if err != nil {
				c.Err(err)
				return
			}
			vals, err := parseFloats(c.Args[1:], len(c.Args)-1)
			if err != nil {
				c.Err(err)
				return
			}
			speed := 1.0
			if len(vals) > 1 {
				speed = math.Abs(vals[1])
			}
			run(c, func(ctx context.Context) error {
				return control.PosVelControlByID(ctx, uint32(id), vals[0], speed)
			})
		},
	})

	poseCmd := &ishell.Cmd{
		Name: "pose",
		Help: "save and recall named poses",
	}
	poseCmd.AddCmd(&ishell.Cmd{
		Name: "save",
		Help: "pose save <name>",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 1 {
				c.Println(c.Cmd.HelpText())
				return
			}
			run(c, func(ctx context.Context) error {
				p, err := follower.SavePose(ctx, c.Args[0])
				if err == nil {
					c.Printf("saved %s %v\n", p.Name, p.Joints.Degrees())
				}
				return err
			})
		},
	})
	poseCmd.AddCmd(&ishell.Cmd{
		Name: "go",
		Help: "pose go <name>",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 1 {
				c.Println(c.Cmd.HelpText())
				return
			}
			run(c, func(ctx context.Context) error {
				return follower.GotoPose(ctx, c.Args[0])
			})
		},
	})
	poseCmd.AddCmd(&ishell.Cmd{
		Name: "list",
		Help: "list saved poses",
		Func: func(c *ishell.Context) {
			poses, err := follower.Poses()
			if err != nil {
				c.Err(err)
				return
			}
			for _, p := range poses {
				c.Printf("%-12s %v gripper %.3f\n", p.Name, p.Joints.Degrees(), p.Gripper)
			}
		},
	})
	poseCmd.AddCmd(&ishell.Cmd{
		Name: "rm",
		Help: "pose rm <name>",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 1 {
				c.Println(c.Cmd.HelpText())
				return
			}
			if err := follower.DeletePose(c.Args[0]); err != nil {
				c.Err(err)
			}
		},
	})
	shell.AddCmd(poseCmd)

	return shell
}
