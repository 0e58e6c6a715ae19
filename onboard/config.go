package onboard

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/Masterminds/semver"
	"gopkg.in/yaml.v2"

	"github.com/CodedInternet/panthera/onboard/canbus"
	"github.com/CodedInternet/panthera/onboard/hardware"
	"github.com/CodedInternet/panthera/onboard/kinematics"
)

const (
	CONFIG_VERSION = "~1.0"

	defaultSpeed = 2.0 // rad/s
)

type ArmConfig struct {
	Version    string           `yaml:"version"`
	Bus        canbus.Config    `yaml:"bus"`
	Motors     []MotorConfig    `yaml:"motors"`
	Kinematics KinematicsConfig `yaml:"kinematics"`
	Timing     TimingConfig     `yaml:"timing"`
	Gripper    GripperConfig    `yaml:"gripper"`
}

type MotorConfig struct {
	Name     string
	Type     hardware.MotorType
	Slave    uint32
	Master   uint32
	Mode     hardware.ControlMode
	Inverted bool    // commanded angle is negated
	Speed    float64 // rad/s used for position moves
	Gripper  bool
}

type KinematicsConfig struct {
	Tolerance     float64 `yaml:"tolerance"`
	MaxIterations int     `yaml:"max_iterations"`
}

type TimingConfig struct {
	TxTimeout      time.Duration `yaml:"tx_timeout"`
	RefreshTimeout time.Duration `yaml:"refresh_timeout"`
	NoPacing       bool          `yaml:"no_pacing"`
}

type GripperConfig struct {
	Open  float64 `yaml:"open"`
	Close float64 `yaml:"close"`
	Speed float64 `yaml:"speed"`
}

type yamlMotor struct {
	Name     string  `yaml:"name"`
	Type     string  `yaml:"type"`
	Slave    uint32  `yaml:"slave"`
	Master   uint32  `yaml:"master"`
	Mode     string  `yaml:"mode,omitempty"`
	Inverted bool    `yaml:"inverted,omitempty"`
	Speed    float64 `yaml:"speed,omitempty"`
	Gripper  bool    `yaml:"gripper,omitempty"`
}

func (mc MotorConfig) MarshalYAML() (interface{}, error) {
	return &yamlMotor{
		Name:     mc.Name,
		Type:     mc.Type.String(),
		Slave:    mc.Slave,
		Master:   mc.Master,
		Mode:     mc.Mode.String(),
		Inverted: mc.Inverted,
		Speed:    mc.Speed,
		Gripper:  mc.Gripper,
	}, nil
}

func (mc *MotorConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var ym yamlMotor
	if err := unmarshal(&ym); err != nil {
		return err
	}

	mt, err := hardware.ParseMotorType(ym.Type)
	if err != nil {
		return err
	}
	mode := hardware.ModePosVel
	if len(ym.Mode) > 0 {
		if mode, err = hardware.ParseControlMode(ym.Mode); err != nil {
			return err
		}
	}

	*mc = MotorConfig{
		Name:     ym.Name,
		Type:     mt,
		Slave:    ym.Slave,
		Master:   ym.Master,
		Mode:     mode,
		Inverted: ym.Inverted,
		Speed:    ym.Speed,
		Gripper:  ym.Gripper,
	}
	return nil
}

// DefaultArmConfig describes the stock follower: six joints on slaves
// 0x01-0x06 answering on 0x11-0x16, and the gripper on 0x07/0x17.
func DefaultArmConfig() *ArmConfig {
	return &ArmConfig{
		Version: "1.0.0",
		Bus:     canbus.DefaultConfig(),
		Motors: []MotorConfig{
			{Name: "base", Type: hardware.DM4340, Slave: 0x01, Master: 0x11, Mode: hardware.ModePosVel, Speed: 2},
			{Name: "shoulder", Type: hardware.DM4340, Slave: 0x02, Master: 0x12, Mode: hardware.ModePosVel, Speed: 2},
			{Name: "elbow", Type: hardware.DM4340, Slave: 0x03, Master: 0x13, Mode: hardware.ModePosVel, Speed: 4, Inverted: true},
			{Name: "wrist_pitch", Type: hardware.DM4310, Slave: 0x04, Master: 0x14, Mode: hardware.ModePosVel, Speed: 2},
			{Name: "wrist_yaw", Type: hardware.DM4310, Slave: 0x05, Master: 0x15, Mode: hardware.ModePosVel, Speed: 2},
			{Name: "wrist_roll", Type: hardware.DM4310, Slave: 0x06, Master: 0x16, Mode: hardware.ModePosVel, Speed: 2},
			{Name: "gripper", Type: hardware.DM4310, Slave: 0x07, Master: 0x17, Mode: hardware.ModePosVel, Speed: 5, Gripper: true},
		},
		Kinematics: KinematicsConfig{
			Tolerance:     kinematics.DefaultTolerance,
			MaxIterations: kinematics.DefaultMaxIterations,
		},
		Timing: TimingConfig{
			TxTimeout:      hardware.DefaultTxTimeout,
			RefreshTimeout: hardware.DefaultRefreshTimeout,
		},
		Gripper: GripperConfig{Open: 5.0, Close: 1.25, Speed: 5.0},
	}
}

func LoadArmConfig(path string) (*ArmConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseArmConfig(raw)
}

// ParseArmConfig decodes raw over the defaults and validates the result.
func ParseArmConfig(raw []byte) (*ArmConfig, error) {
	config := DefaultArmConfig()
	config.Motors = nil

	if err := yaml.Unmarshal(raw, config); err != nil {
		return nil, err
	}
	if len(config.Motors) == 0 {
		config.Motors = DefaultArmConfig().Motors
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *ArmConfig) Validate() error {
	v, err := semver.NewVersion(c.Version)
	if err != nil {
		return fmt.Errorf("config version %q: %v", c.Version, err)
	}
	constraint, err := semver.NewConstraint(CONFIG_VERSION)
	if err != nil {
		return err
	}
	if !constraint.Check(v) {
		return fmt.Errorf("unable to use config: version %s, require %s", c.Version, CONFIG_VERSION)
	}

	seen := make(map[uint32]string, len(c.Motors))
	grippers := 0
	for i := range c.Motors {
		m := &c.Motors[i]
		if m.Master == 0 {
			return fmt.Errorf("motor %q: master id 0 is reserved", m.Name)
		}
		if other, ok := seen[m.Master]; ok {
			return fmt.Errorf("motor %q: master id 0x%02x already used by %q", m.Name, m.Master, other)
		}
		seen[m.Master] = m.Name

		if m.Speed <= 0 {
			m.Speed = defaultSpeed
		}
		if lim := m.Type.Limits(); m.Speed > lim.VMax {
			m.Speed = lim.VMax
		}
		if m.Gripper {
			grippers++
		}
	}
	if grippers > 1 {
		return fmt.Errorf("%d grippers configured, at most one is supported", grippers)
	}

	return nil
}

// Joints returns the arm joints (every non gripper motor) in master id order.
func (c *ArmConfig) Joints() []MotorConfig {
	out := make([]MotorConfig, 0, len(c.Motors))
	for _, m := range c.Motors {
		if !m.Gripper {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Master < out[j].Master })
	return out
}

// GripperMotor returns the gripper entry, if any.
func (c *ArmConfig) GripperMotor() (MotorConfig, bool) {
	for _, m := range c.Motors {
		if m.Gripper {
			return m, true
		}
	}
	return MotorConfig{}, false
}
