package kinematics

import (
	"errors"
	"fmt"
	. "math"

	"gonum.org/v1/gonum/floats"
)

const (
	DefaultTolerance     = 1e-4
	DefaultMaxIterations = 100
	DefaultDamping       = 0.1

	minStep = 1e-3
)

var (
	ErrNotConverged  = errors.New("inverse kinematics did not converge")
	ErrStepCollapsed = errors.New("no step size improves the solution")
)

type IKOption func(c *ikConfig)

type ikConfig struct {
	tolerance     float64
	maxIterations int
}

func WithTolerance(tol float64) IKOption {
	return func(c *ikConfig) { c.tolerance = tol }
}

func WithMaxIterations(n int) IKOption {
	return func(c *ikConfig) { c.maxIterations = n }
}

// PoseError is the translation error followed by the rotation error from
// current to target.
func PoseError(current, target TransformMatrix) Vector6 {
	dp := target.Position().Sub(current.Position())
	dw := current.RotationError(target)
	return Vector6{dp[0], dp[1], dp[2], dw[0], dw[1], dw[2]}
}

func norm(v Vector6) float64 {
	return floats.Norm(v[:], 2)
}

// NormalizeAngle wraps a into [-π, π].
func NormalizeAngle(a float64) float64 {
	return Remainder(a, 2*Pi)
}

// SolveInverseKinematics runs damped Gauss-Newton from seed until the pose
// error norm drops below the tolerance. On failure the last accepted joint
// vector is returned with the error.
func (k *Kinematic) SolveInverseKinematics(target TransformMatrix, seed Joint, opts ...IKOption) (Joint, error) {
	cfg := ikConfig{
		tolerance:     k.Tolerance,
		maxIterations: k.MaxIterations,
	}
	if cfg.tolerance <= 0 {
		cfg.tolerance = DefaultTolerance
	}
	if cfg.maxIterations <= 0 {
		cfg.maxIterations = DefaultMaxIterations
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	q := seed
	for it := 0; it < cfg.maxIterations; it++ {
		e := PoseError(k.SolveForwardKinematics(q), target)
		n := norm(e)
		if n < cfg.tolerance {
			log.Debugf("ik converged after %d iterations, error %.2e", it, n)
			return q, nil
		}

		dq, err := k.step(q, e)
		if err != nil {
			return q, fmt.Errorf("iteration %d: %w", it, err)
		}

		accepted := false
		for step := 1.0; step >= minStep; step /= 2 {
			var cand Joint
			for i := range q {
				cand[i] = NormalizeAngle(q[i] + step*dq[i])
			}
			if norm(PoseError(k.SolveForwardKinematics(cand), target)) < n {
				q = cand
				accepted = true
				break
			}
		}
		if !accepted {
			return q, fmt.Errorf("iteration %d: %w", it, ErrStepCollapsed)
		}
	}

	return q, fmt.Errorf("%w after %d iterations", ErrNotConverged, cfg.maxIterations)
}

// step solves (JᵀJ)Δq = Jᵀe, adding k.Damping·I once if JᵀJ is singular.
func (k *Kinematic) step(q Joint, e Vector6) (Vector6, error) {
	jac := k.Jacobian(q)
	jt := jac.Transpose()
	jtj := jt.Mul(jac)

	if Abs(jtj.Determinant()) < singularEpsilon {
		jtj = jtj.AddDiagonal(k.Damping)
		if Abs(jtj.Determinant()) < singularEpsilon {
			return Vector6{}, ErrSingular
		}
	}

	inv, err := jtj.Inverse()
	if err != nil {
		return Vector6{}, err
	}
	return inv.MulVec(jt.MulVec(e)), nil
}
