package hardware

import "context"

// The ByID forms look the motor up by master id first and fail with
// MotorNotFoundError for unknown ids.

func (c *MotorControl) withMotor(masterID uint32, fn func(m *Motor) error) error {
	m, err := c.GetMotorByMasterID(masterID)
	if err != nil {
		return err
	}
	return fn(m)
}

func (c *MotorControl) EnableMotorByID(ctx context.Context, masterID uint32) error {
	return c.withMotor(masterID, func(m *Motor) error { return c.EnableMotor(ctx, m) })
}

func (c *MotorControl) DisableMotorByID(ctx context.Context, masterID uint32) error {
	return c.withMotor(masterID, func(m *Motor) error { return c.DisableMotor(ctx, m) })
}

func (c *MotorControl) SaveZeroPositionByID(ctx context.Context, masterID uint32) error {
	return c.withMotor(masterID, func(m *Motor) error { return c.SaveZeroPosition(ctx, m) })
}

func (c *MotorControl) PosVelControlByID(ctx context.Context, masterID uint32, pos, vel float64) error {
	return c.withMotor(masterID, func(m *Motor) error { return c.PosVelControl(ctx, m, pos, vel) })
}

func (c *MotorControl) VelControlByID(ctx context.Context, masterID uint32, vel float64) error {
	return c.withMotor(masterID, func(m *Motor) error { return c.VelControl(ctx, m, vel) })
}

func (c *MotorControl) MITControlByID(ctx context.Context, masterID uint32, pos, vel, kp, kd, torque float64) error {
	return c.withMotor(masterID, func(m *Motor) error { return c.MITControl(ctx, m, pos, vel, kp, kd, torque) })
}

func (c *MotorControl) WriteMotorParamByID(ctx context.Context, masterID uint32, rid uint8, data [4]byte) error {
	return c.withMotor(masterID, func(m *Motor) error { return c.WriteMotorParam(ctx, m, rid, data) })
}

func (c *MotorControl) SwitchControlModeByID(ctx context.Context, masterID uint32, mode ControlMode) error {
	return c.withMotor(masterID, func(m *Motor) error { return c.SwitchControlMode(ctx, m, mode) })
}

func (c *MotorControl) RefreshMotorStatusByID(ctx context.Context, masterID uint32) error {
	return c.withMotor(masterID, func(m *Motor) error { return c.RefreshMotorStatus(ctx, m) })
}
