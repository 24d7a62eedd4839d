package objmap

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

type slamStamp struct {
	Seconds     int64 `json:"seconds"`
	Nanoseconds int64 `json:"nanoseconds"`
}

func (s slamStamp) float() float64 {
	return float64(s.Seconds) + float64(s.Nanoseconds)*1e-9
}

type slamSegment struct {
	SegmentIndex int `json:"segment_index"`
	CentroidOdom struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
		Z float64 `json:"z"`
	} `json:"centroid_odom"`
	ShapeAttributes struct {
		Volume     float64 `json:"volume"`
		Linearity  float64 `json:"linearity"`
		Planarity  float64 `json:"planarity"`
		Scattering float64 `json:"scattering"`
	} `json:"shape_attributes"`
	FirstSeen slamStamp `json:"first_seen"`
	LastSeen  slamStamp `json:"last_seen"`
	RobotName string    `json:"robot_name"`
}

type slamSubmap struct {
	SubmapIndex int   `json:"submap_index"`
	Stamp       int64 `json:"stamp"`
	TOdomSubmap struct {
		TX float64 `json:"tx"`
		TY float64 `json:"ty"`
		TZ float64 `json:"tz"`
		QX float64 `json:"qx"`
		QY float64 `json:"qy"`
		QZ float64 `json:"qz"`
		QW float64 `json:"qw"`
	} `json:"T_odom_submap"`
	SegmentIndices []int  `json:"segment_indices"`
	RobotName      string `json:"robot_name"`
}

type slamFile struct {
	Segments []slamSegment `json:"segments"`
	Submaps  []slamSubmap  `json:"submaps"`
}

func readSlamFile(path string) (*slamFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading segment_slam file: %w", err)
	}
	var f slamFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing segment_slam file: %w", err)
	}
	return &f, nil
}

func (f *slamFile) segments(robot string) map[int]*Segment {
	out := make(map[int]*Segment, len(f.Segments))
	for _, s := range f.Segments {
		if robot != "" && s.RobotName != robot {
			continue
		}
		out[s.SegmentIndex] = NewMinimalSegment(s.SegmentIndex, Shape{
			Center:     r3.Vector{X: s.CentroidOdom.X, Y: s.CentroidOdom.Y, Z: s.CentroidOdom.Z},
			Volume:     s.ShapeAttributes.Volume,
			Linearity:  s.ShapeAttributes.Linearity,
			Planarity:  s.ShapeAttributes.Planarity,
			Scattering: s.ShapeAttributes.Scattering,
		}, s.FirstSeen.float(), s.LastSeen.float())
	}
	return out
}

// LoadSegmentSlamSegments reads the minimal segments of a segment_slam
// export, ordered by segment index. An empty robot name loads every robot.
func LoadSegmentSlamSegments(path, robot string) ([]*Segment, error) {
	f, err := readSlamFile(path)
	if err != nil {
		return nil, err
	}
	byID := f.segments(robot)
	out := make([]*Segment, 0, len(byID))
	for _, s := range byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LoadSegmentSlamSubmaps reads the submaps of a segment_slam export.
// Segments stay in the odom frame and the submap Frame is FrameOdom.
func LoadSegmentSlamSubmaps(path, robot string) ([]*Submap, error) {
	f, err := readSlamFile(path)
	if err != nil {
		return nil, err
	}
	byID := f.segments(robot)

	var submaps []*Submap
	for _, js := range f.Submaps {
		if robot != "" && js.RobotName != robot {
			continue
		}
		T := js.TOdomSubmap
		sm := &Submap{
			ID:    js.SubmapIndex,
			Time:  float64(js.Stamp) * 1e-9,
			Pose:  FromQuaternion(quat.Number{Real: T.QW, Imag: T.QX, Jmag: T.QY, Kmag: T.QZ}, r3.Vector{X: T.TX, Y: T.TY, Z: T.TZ}),
			Frame: FrameOdom,
		}
		for _, id := range js.SegmentIndices {
			seg, ok := byID[id]
			if !ok {
				return nil, fmt.Errorf("submap %d references unknown segment %d", js.SubmapIndex, id)
			}
			sm.Segments = append(sm.Segments, seg.Clone())
			sm.ArenaIndex = append(sm.ArenaIndex, -1)
		}
		submaps = append(submaps, sm)
	}
	logger.Infof("[MAP] loaded %d segment_slam submaps from %s", len(submaps), path)
	return submaps, nil
}
