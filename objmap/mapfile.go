package objmap

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/golang/geo/r3"
)

// MapFileVersion is the version written by Encode.
const MapFileVersion = 2

// ErrUnsupportedVersion is returned for map files with an unknown version.
var ErrUnsupportedVersion = errors.New("unsupported map file version")

type mapFileHeader struct {
	Version int `json:"version"`
}

// v2: nested 4x4 poses and an explicit frame-convention flag.
type mapFileV2 struct {
	Version     int           `json:"version"`
	PosesAreFLU bool          `json:"poses_are_flu"`
	Times       []float64     `json:"times"`
	Trajectory  [][][]float64 `json:"trajectory"`
	Segments    []mapSegment  `json:"segments"`
}

// v1: flat row-major poses, frame convention implied FLU.
type mapFileV1 struct {
	Version    int          `json:"version"`
	Times      []float64    `json:"times"`
	Trajectory [][]float64  `json:"trajectory"`
	Segments   []mapSegment `json:"segments"`
}

type mapSegment struct {
	ID        int          `json:"id"`
	FirstSeen float64      `json:"first_seen"`
	LastSeen  float64      `json:"last_seen"`
	CenterRef CenterRef    `json:"center_ref,omitempty"`
	Points    [][3]float64 `json:"points,omitempty"`
	// Shape is only written for minimal segments.
	Shape *Shape `json:"shape,omitempty"`
}

// migrations[v] upgrades a decoded version-v document to version v+1.
var migrations = map[int]func(json.RawMessage) (json.RawMessage, error){
	1: migrateV1,
}

func migrateV1(raw json.RawMessage) (json.RawMessage, error) {
	var v1 mapFileV1
	if err := json.Unmarshal(raw, &v1); err != nil {
		return nil, err
	}
	v2 := mapFileV2{
		Version:     2,
		PosesAreFLU: true,
		Times:       v1.Times,
		Segments:    v1.Segments,
		Trajectory:  make([][][]float64, len(v1.Trajectory)),
	}
	for i, flat := range v1.Trajectory {
		if len(flat) != 16 {
			return nil, fmt.Errorf("trajectory[%d]: %w: got %d values, want 16", i, ErrPoseShape, len(flat))
		}
		rows := make([][]float64, 4)
		for r := range rows {
			rows[r] = flat[r*4 : r*4+4]
		}
		v2.Trajectory[i] = rows
	}
	return json.Marshal(v2)
}

// Decode reads a map file, migrating older versions to the current one.
func Decode(r io.Reader) (*ObjectMap, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading map: %w", err)
	}
	var hdr mapFileHeader
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return nil, fmt.Errorf("parsing map header: %w", err)
	}
	if hdr.Version < 1 || hdr.Version > MapFileVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, hdr.Version)
	}
	for v := hdr.Version; v < MapFileVersion; v++ {
		raw, err = migrations[v](raw)
		if err != nil {
			return nil, fmt.Errorf("migrating map from v%d: %w", v, err)
		}
		logger.Debugf("[MAP] migrated map file v%d -> v%d", v, v+1)
	}

	var doc mapFileV2
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing map: %w", err)
	}
	return doc.objectMap()
}

func (doc mapFileV2) objectMap() (*ObjectMap, error) {
	m := &ObjectMap{
		PosesAreFLU: doc.PosesAreFLU,
		Times:       doc.Times,
		Trajectory:  make([]Transform, len(doc.Trajectory)),
		Segments:    make([]*Segment, len(doc.Segments)),
	}
	for i, rows := range doc.Trajectory {
		t, err := TransformFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("trajectory[%d]: %w", i, err)
		}
		m.Trajectory[i] = t
	}
	for i, ms := range doc.Segments {
		var s *Segment
		if ms.Shape != nil {
			s = NewMinimalSegment(ms.ID, *ms.Shape, ms.FirstSeen, ms.LastSeen)
		} else {
			pts := make([]r3.Vector, len(ms.Points))
			for k, p := range ms.Points {
				pts[k] = r3.Vector{X: p[0], Y: p[1], Z: p[2]}
			}
			s = NewSegment(ms.ID, pts, ms.FirstSeen, ms.LastSeen)
		}
		if ms.CenterRef != "" {
			if err := s.SetCenterRef(ms.CenterRef); err != nil {
				return nil, fmt.Errorf("segment %d: %w", ms.ID, err)
			}
		}
		m.Segments[i] = s
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Encode writes m in the current map file version. Maps that fail
// Validate are not written.
func Encode(w io.Writer, m *ObjectMap) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("encoding map: %w", err)
	}
	doc := mapFileV2{
		Version:     MapFileVersion,
		PosesAreFLU: m.PosesAreFLU,
		Times:       m.Times,
		Trajectory:  make([][][]float64, len(m.Trajectory)),
		Segments:    make([]mapSegment, len(m.Segments)),
	}
	if doc.Times == nil {
		doc.Times = []float64{}
	}
	for i, t := range m.Trajectory {
		doc.Trajectory[i] = t.Rows()
	}
	for i, s := range m.Segments {
		ms := mapSegment{ID: s.ID, FirstSeen: s.FirstSeen, LastSeen: s.LastSeen, CenterRef: s.CenterRef()}
		if s.IsMinimal() {
			if sh, ok := s.Shape(); ok {
				ms.Shape = &sh
			}
		} else {
			ms.Points = make([][3]float64, len(s.Points()))
			for k, p := range s.Points() {
				ms.Points[k] = [3]float64{p.X, p.Y, p.Z}
			}
		}
		doc.Segments[i] = ms
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding map: %w", err)
	}
	return nil
}

// LoadMap reads a map file from disk.
func LoadMap(path string) (*ObjectMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening map file: %w", err)
	}
	defer f.Close()
	m, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	logger.Infof("[MAP] loaded %s: %d segments, %d poses", path, len(m.Segments), len(m.Times))
	return m, nil
}

// SaveMap writes m to path, creating parent directories as needed.
func SaveMap(path string, m *ObjectMap) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("saving map: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating map directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating map file: %w", err)
	}
	if err := Encode(f, m); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("writing map file: %w", err)
	}
	return nil
}
