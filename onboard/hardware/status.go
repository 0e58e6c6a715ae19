package hardware

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"
)

// WriteStatusTable prints one row of feedback per motor, angles in rad and
// degrees.
func WriteStatusTable(w io.Writer, motors []*Motor) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MASTER\tTYPE\tMODE\tSTATE\tPOS (rad)\tPOS (deg)\tVEL (rad/s)\tTORQUE\tMOS\tROTOR")

	for _, m := range motors {
		fb := m.Feedback()
		fmt.Fprintf(tw, "0x%02x\t%s\t%s\t%s\t%.4f\t%.2f\t%.4f\t%.3f\t%d\t%d\n",
			m.MasterID, m.Type, m.ControlMode(), fb.State,
			fb.Position, fb.Position*180/math.Pi, fb.Velocity, fb.Torque,
			fb.TemperMOS, fb.TemperRotor)
	}
	return tw.Flush()
}
