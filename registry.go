package fusion

import (
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"sync"
)

// NodeClassCtor constructs a NodeInterface for a given node class, bound
// to the caller's requested thread count.
type NodeClassCtor func(threadNum int) NodeInterface

var registry = struct {
	mu      sync.Mutex
	classes map[string]NodeClassCtor
}{classes: map[string]NodeClassCtor{}}

// RegisterNodeClass adds name to the process-wide node registry. Leaf-node plugins under nodes/* call this from an init() so that
// importing the plugin package is sufficient to make its class available
// to topology construction.
func RegisterNodeClass(name string, ctor NodeClassCtor) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.classes[name] = ctor
}

// LookupNodeClass returns the constructor registered for name, if any.
func LookupNodeClass(name string) (NodeClassCtor, bool) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	ctor, ok := registry.classes[name]
	return ctor, ok
}

// RegisteredNodeClasses returns the names currently registered, for
// diagnostics.
func RegisteredNodeClasses() []string {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	out := make([]string, 0, len(registry.classes))
	for name := range registry.classes {
		out = append(out, name)
	}
	return out
}

// LoadNodeLibraries walks dir recursively for *.so files and, for each,
// looks up a symbol "<ClassName>Create" of type func(int) NodeInterface,
// registering it under <ClassName>. Go's plugin package has no way to
// enumerate a .so's exported symbols, so the expected symbol name is
// derived from the file's base name (foo.so -> FooCreate), matching the
// ABI convention expected for dynamically loaded node classes. Walking
// recursively lets an operator lay plugins out as dir/<vendor>/<name>.so
// instead of flattening every class into dir's top level.
func LoadNodeLibraries(dir string) error {
	var errs []error
	err := filepath.WalkDir(dir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".so" {
			return nil
		}
		if err := loadNodeLibrary(path); err != nil {
			errs = append(errs, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("fusion: scanning node library dir %q: %w", dir, err)
	}
	if len(errs) > 0 {
		return joinErrors(errs)
	}
	return nil
}

func loadNodeLibrary(path string) error {
	className := classNameFromPath(path)

	p, err := plugin.Open(path)
	if err != nil {
		return fmt.Errorf("fusion: opening node library %q: %w", path, err)
	}

	sym, err := p.Lookup(className + "Create")
	if err != nil {
		return fmt.Errorf("fusion: node library %q missing %sCreate: %w", path, className, err)
	}

	ctor, ok := sym.(func(int) NodeInterface)
	if !ok {
		return fmt.Errorf("fusion: node library %q symbol %sCreate has wrong signature", path, className)
	}

	RegisterNodeClass(className, ctor)
	return nil
}

func classNameFromPath(path string) string {
	base := filepath.Base(path)
	base = base[:len(base)-len(filepath.Ext(base))]
	if base == "" {
		return base
	}
	r := []rune(base)
	if r[0] >= 'a' && r[0] <= 'z' {
		r[0] = r[0] - ('a' - 'A')
	}
	return string(r)
}

// NodeLibraryPathEnv is the environment variable the CLI's serve command
// reads for the plugin directory when fusion.node_lib_dir is not set.
const NodeLibraryPathEnv = "FUSION_NODE_LIB_PATH"
