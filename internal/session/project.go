package session

import (
	"fmt"

	"arbor/internal/diagstore"
	"arbor/internal/source"
	"arbor/internal/unit"
)

// Project bundles the durable facts shared by producers and the session:
// files, units and diagnostics. All three are safe for concurrent use.
type Project struct {
	Files *source.FileSet
	Units *unit.Registry
	Store *diagstore.Store
}

// NewProject creates an empty project rooted at baseDir.
func NewProject(baseDir string) *Project {
	files := source.NewFileSetWithBase(baseDir)
	units := unit.NewRegistry(files)
	return &Project{
		Files: files,
		Units: units,
		Store: diagstore.New(files, units),
	}
}

// AddContainer registers in-memory content as the file behind module.
func (p *Project) AddContainer(path, module string, content []byte) (unit.Unit, error) {
	id := p.Files.AddVirtual(path, module, content)
	u, err := p.Units.DefineContainer(module, id)
	if err != nil {
		p.Files.Invalidate(id)
		return unit.Unit{}, fmt.Errorf("define container %s: %w", module, err)
	}
	return u, nil
}

// LoadContainer reads path from disk and registers it as module.
func (p *Project) LoadContainer(path, module string) (unit.Unit, error) {
	id, err := p.Files.Load(path, module)
	if err != nil {
		return unit.Unit{}, fmt.Errorf("load %s: %w", path, err)
	}
	u, err := p.Units.DefineContainer(module, id)
	if err != nil {
		p.Files.Invalidate(id)
		return unit.Unit{}, fmt.Errorf("define container %s: %w", module, err)
	}
	return u, nil
}

// ContainerByPath returns the container whose current file has path.
func (p *Project) ContainerByPath(path string) (unit.Unit, bool) {
	id, ok := p.Files.GetLatest(path)
	if !ok {
		return unit.Unit{}, false
	}
	return p.Units.ContainerOf(id)
}
