package kinematics

import (
	"errors"
	. "math"
)

const singularEpsilon = 1e-12

var ErrSingular = errors.New("matrix is singular")

type Vector6 [6]float64

type Matrix6 [6][6]float64

func Identity6() (m Matrix6) {
	for i := range m {
		m[i][i] = 1
	}
	return
}

func (m Matrix6) Transpose() (t Matrix6) {
	for i := range m {
		for j := range m[i] {
			t[j][i] = m[i][j]
		}
	}
	return
}

func (m Matrix6) Mul(o Matrix6) (r Matrix6) {
	for i := range m {
		for j := range o[0] {
			var s float64
			for k := range o {
				s += m[i][k] * o[k][j]
			}
			r[i][j] = s
		}
	}
	return
}

func (m Matrix6) MulVec(v Vector6) (r Vector6) {
	for i := range m {
		var s float64
		for k := range v {
			s += m[i][k] * v[k]
		}
		r[i] = s
	}
	return
}

// AddDiagonal returns m + λI.
func (m Matrix6) AddDiagonal(lambda float64) Matrix6 {
	for i := range m {
		m[i][i] += lambda
	}
	return m
}

// Determinant expands along the first row down to 3x3 minors.
func (m Matrix6) Determinant() float64 {
	rows := make([][]float64, len(m))
	for i := range m {
		rows[i] = m[i][:]
	}
	return cofactorDet(rows)
}

func cofactorDet(a [][]float64) float64 {
	switch len(a) {
	case 0:
		return 1
	case 1:
		return a[0][0]
	case 2:
		return a[0][0]*a[1][1] - a[0][1]*a[1][0]
	case 3:
		return a[0][0]*(a[1][1]*a[2][2]-a[1][2]*a[2][1]) -
			a[0][1]*(a[1][0]*a[2][2]-a[1][2]*a[2][0]) +
			a[0][2]*(a[1][0]*a[2][1]-a[1][1]*a[2][0])
	}

	n := len(a)
	minor := make([][]float64, n-1)
	for i := range minor {
		minor[i] = make([]float64, n-1)
	}

	var det float64
	sign := 1.0
	for col := 0; col < n; col++ {
		for r := 1; r < n; r++ {
			k := 0
			for c := 0; c < n; c++ {
				if c == col {
					continue
				}
				minor[r-1][k] = a[r][c]
				k++
			}
		}
		det += sign * a[0][col] * cofactorDet(minor)
		sign = -sign
	}
	return det
}

// Inverse is Gauss-Jordan elimination with partial pivoting.
func (m Matrix6) Inverse() (Matrix6, error) {
	const n = len(m)
	var aug [n][2 * n]float64
	for i := 0; i < n; i++ {
		copy(aug[i][:n], m[i][:])
		aug[i][n+i] = 1
	}

	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if Abs(aug[r][col]) > Abs(aug[pivot][col]) {
				pivot = r
			}
		}
		if Abs(aug[pivot][col]) < singularEpsilon {
			return Matrix6{}, ErrSingular
		}
		aug[col], aug[pivot] = aug[pivot], aug[col]

		p := aug[col][col]
		for j := range aug[col] {
			aug[col][j] /= p
		}
		for r := 0; r < n; r++ {
			if r == col {
				continue
			}
			f := aug[r][col]
			if f == 0 {
				continue
			}
			for j := range aug[r] {
				aug[r][j] -= f * aug[col][j]
			}
		}
	}

	var inv Matrix6
	for i := 0; i < n; i++ {
		copy(inv[i][:], aug[i][n:])
	}
	return inv, nil
}
