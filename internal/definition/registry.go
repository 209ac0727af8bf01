package definition

import (
	"crypto/sha256"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/pitabwire/crudadmin/model"
)

// Group is a dashboard section listing the admins of one definition group.
type Group struct {
	Name   string                  `json:"name"`
	Admins []model.AdminDefinition `json:"admins"`
}

// snapshot is an immutable view of all loaded admins.
type snapshot struct {
	admins   map[string]model.AdminDefinition
	groups   []Group
	checksum string
}

// Registry is a read-optimized, thread-safe store of all loaded definitions.
// It uses atomic pointer swap for lock-free concurrent reads.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from the given files.
func NewRegistry(files []model.DefinitionFile) *Registry {
	r := &Registry{}
	r.Replace(files)
	return r
}

// Replace atomically swaps the registry contents for the given files.
func (r *Registry) Replace(files []model.DefinitionFile) {
	s := &snapshot{admins: make(map[string]model.AdminDefinition)}

	byGroup := make(map[string]int)
	var checksumParts []string
	for _, f := range files {
		checksumParts = append(checksumParts, f.Checksum)
		gi, ok := byGroup[f.Group]
		if !ok {
			gi = len(s.groups)
			byGroup[f.Group] = gi
			s.groups = append(s.groups, Group{Name: f.Group})
		}
		for _, a := range f.Admins {
			a.Group = f.Group
			s.admins[a.Code] = a
			s.groups[gi].Admins = append(s.groups[gi].Admins, a)
		}
	}
	slices.SortFunc(s.groups, func(a, b Group) int { return strings.Compare(a.Name, b.Name) })

	slices.Sort(checksumParts)
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(strings.Join(checksumParts, ":"))))

	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// GetAdmin returns the admin definition with the given code.
func (r *Registry) GetAdmin(code string) (model.AdminDefinition, bool) {
	a, ok := r.current().admins[code]
	return a, ok
}

// AllAdmins returns every admin definition, sorted by code.
func (r *Registry) AllAdmins() []model.AdminDefinition {
	s := r.current()
	out := make([]model.AdminDefinition, 0, len(s.admins))
	for _, a := range s.admins {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b model.AdminDefinition) int { return strings.Compare(a.Code, b.Code) })
	return out
}

// Children returns the admins whose parent is code, sorted by code.
func (r *Registry) Children(code string) []model.AdminDefinition {
	var out []model.AdminDefinition
	for _, a := range r.AllAdmins() {
		if a.Parent == code {
			out = append(out, a)
		}
	}
	return out
}

// Groups returns the dashboard groups, sorted by name.
func (r *Registry) Groups() []Group {
	return r.current().groups
}

// Len returns the number of loaded admins.
func (r *Registry) Len() int {
	return len(r.current().admins)
}

// Checksum returns the combined checksum of all loaded definitions.
func (r *Registry) Checksum() string {
	return r.current().checksum
}
