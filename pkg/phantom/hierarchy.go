// Package phantom describes the patient or test object being scanned: a hierarchy of
// nested shapes, each filled with a material, and the attenuation of X-rays through it.
//
// Objects are stored in an arena and refer to their parent by index. Exactly one object,
// the world, has no parent; every other object is contained in its parent. Children of
// the same parent are assumed not to overlap.
package phantom

import (
	"errors"
	"fmt"

	"ctsim/internal/logging"
	"ctsim/pkg/geometry"
	"ctsim/pkg/materials"
)

// WorldParent is the parent name that marks an object as the world.
const WorldParent = "None"

// NoParent is the parent index of the world object.
const NoParent = -1

var (
	// ErrParentNotFound is returned when AddObject names a parent that does not exist.
	ErrParentNotFound = errors.New("parent not found")
	// ErrDuplicateWorld is returned when a second world object is added.
	ErrDuplicateWorld = errors.New("world object already defined")
	// ErrDuplicateName is returned when an object name is reused.
	ErrDuplicateName = errors.New("object name already used")
	// ErrNoWorld is returned by MakeTree when no world object was added.
	ErrNoWorld = errors.New("no world object")
	// ErrCycle is returned by MakeTree when a parent chain never reaches the world.
	ErrCycle = errors.New("parent chain does not reach the world")
	// ErrTreeNotBuilt is returned by ray queries made before MakeTree.
	ErrTreeNotBuilt = errors.New("object tree not built, call MakeTree first")
)

// Object is one named shape in the hierarchy.
type Object struct {
	Name     string
	Parent   int
	Material string
	Shape    geometry.Shape
}

// Model is the object hierarchy plus the material data needed to attenuate rays
// through it. Build it with AddObject and MakeTree; after that it is read-only and
// safe for concurrent ray queries.
type Model struct {
	objects []Object
	index   map[string]int
	world   int

	depth  []int
	levels [][]int
	built  bool

	materials materials.Service
	atten     *attenuationTable

	// Warn receives non-fatal problems. Defaults to logging.Stdout.
	Warn logging.WarnFunc
}

// NewModel creates an empty model that looks up attenuation data in svc.
func NewModel(svc materials.Service) *Model {
	return &Model{
		index:     make(map[string]int),
		world:     NoParent,
		materials: svc,
		Warn:      logging.Stdout,
	}
}

// AddObject appends an object. parentName must name an object added earlier, or be
// "None" to create the single world object. Rejected objects are reported through
// Warn and not added.
func (m *Model) AddObject(name string, shape geometry.Shape, parentName, materialName string) error {
	if _, dup := m.index[name]; dup {
		m.Warn("object %q already exists, ignoring", name)
		return fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}

	parent := NoParent
	if parentName == WorldParent {
		if m.world != NoParent {
			m.Warn("object %q: world already defined as %q, ignoring", name, m.objects[m.world].Name)
			return fmt.Errorf("%w: %q", ErrDuplicateWorld, m.objects[m.world].Name)
		}
	} else {
		p, ok := m.index[parentName]
		if !ok {
			m.Warn("object %q: parent %q not found, ignoring", name, parentName)
			return fmt.Errorf("%w: %q", ErrParentNotFound, parentName)
		}
		parent = p
	}

	m.objects = append(m.objects, Object{
		Name:     name,
		Parent:   parent,
		Material: materialName,
		Shape:    shape,
	})
	idx := len(m.objects) - 1
	m.index[name] = idx
	if parent == NoParent {
		m.world = idx
	}
	m.built = false
	// The table has one row per object; the new object needs its own.
	m.atten = nil
	return nil
}

// MakeTree computes every object's depth below the world and groups object indices
// by depth. Depth 0 holds only the world. It must be called after the last AddObject
// and before any ray query.
func (m *Model) MakeTree() error {
	if m.world == NoParent {
		return ErrNoWorld
	}

	n := len(m.objects)
	m.depth = make([]int, n)
	maxDepth := 0
	for i := range m.objects {
		d := 0
		for p := i; m.objects[p].Parent != NoParent; p = m.objects[p].Parent {
			d++
			if d > n {
				return fmt.Errorf("%w: object %q", ErrCycle, m.objects[i].Name)
			}
		}
		m.depth[i] = d
		if d > maxDepth {
			maxDepth = d
		}
	}

	m.levels = make([][]int, maxDepth+1)
	for i, d := range m.depth {
		m.levels[d] = append(m.levels[d], i)
	}
	m.built = true
	return nil
}

// Len returns the number of objects.
func (m *Model) Len() int { return len(m.objects) }

// Object returns the object at index i.
func (m *Model) Object(i int) Object { return m.objects[i] }

// Index returns the index of the named object.
func (m *Model) Index(name string) (int, bool) {
	i, ok := m.index[name]
	return i, ok
}

// World returns the index of the world object, or NoParent.
func (m *Model) World() int { return m.world }

// Built reports whether MakeTree has run since the last AddObject.
func (m *Model) Built() bool { return m.built }

// Depth returns the depth of object i computed by MakeTree.
func (m *Model) Depth(i int) int { return m.depth[i] }

// Levels returns a copy of the level-order partition built by MakeTree.
func (m *Model) Levels() [][]int {
	out := make([][]int, len(m.levels))
	for d, level := range m.levels {
		out[d] = append([]int(nil), level...)
	}
	return out
}

// MaterialAt returns the material of the innermost object containing p. Objects whose
// shape does not implement geometry.Container are skipped; points in no object belong
// to the world.
func (m *Model) MaterialAt(p geometry.Vector3) (string, error) {
	if !m.built {
		return "", ErrTreeNotBuilt
	}
	best := m.world
	for d := len(m.levels) - 1; d >= 1 && best == m.world; d-- {
		for _, i := range m.levels[d] {
			c, ok := m.objects[i].Shape.(geometry.Container)
			if ok && c.Contains(p) {
				best = i
				break
			}
		}
	}
	return m.objects[best].Material, nil
}
