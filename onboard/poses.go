package onboard

import (
	"errors"
	"fmt"
	"time"

	"github.com/asdine/storm/v3"

	"github.com/CodedInternet/panthera/onboard/kinematics"
)

var ErrPoseNotFound = errors.New("pose not found")

// Pose is a named joint configuration. Joint angles are stored as the arm
// sees them, before any per motor inversion.
type Pose struct {
	Name    string `storm:"id"`
	Joints  kinematics.Joint
	Gripper float64
	Saved   time.Time
}

type PoseStore struct {
	db *storm.DB
}

func OpenPoseStore(path string) (ps *PoseStore, err error) {
	db, err := storm.Open(path)
	if err != nil {
		return
	}

	if err = db.Init(&Pose{}); err != nil {
		db.Close()
		return nil, err
	}

	return &PoseStore{db: db}, nil
}

func (ps *PoseStore) Save(p Pose) error {
	if len(p.Name) == 0 {
		return errors.New("pose needs a name")
	}
	if p.Saved.IsZero() {
		p.Saved = time.Now()
	}
	return ps.db.Save(&p)
}

func (ps *PoseStore) Get(name string) (p Pose, err error) {
	err = ps.db.One("Name", name, &p)
	if err == storm.ErrNotFound {
		err = fmt.Errorf("%w: %s", ErrPoseNotFound, name)
	}
	return
}

func (ps *PoseStore) List() (poses []Pose, err error) {
	err = ps.db.All(&poses)
	return
}

func (ps *PoseStore) Delete(name string) error {
	err := ps.db.DeleteStruct(&Pose{Name: name})
	if err == storm.ErrNotFound {
		return fmt.Errorf("%w: %s", ErrPoseNotFound, name)
	}
	return err
}

func (ps *PoseStore) Close() error {
	return ps.db.Close()
}
