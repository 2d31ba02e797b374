package vm

import (
	"context"
	"fmt"

	"github.com/brane-lang/brane/internal/bytecode"
	"github.com/brane-lang/brane/internal/heap"
)

// opImport implements IMPORT C: C names a package in the constant pool.
// Every function the package's manifest declares becomes a FunctionExt
// global bound under its own name, and every declared type becomes an
// empty Class global, so a later CALL or NEW resolves them exactly like
// any other global (spec §6.1, §6.3).
func (vm *VM) opImport(ctx context.Context, chunk *bytecode.Chunk, idx int) error {
	c, err := chunk.Constant(idx)
	if err != nil {
		return err
	}
	if c.Kind != bytecode.ConstString {
		return &VmError{Kind: VmUnknownPackage, Message: "IMPORT operand is not a package name"}
	}
	name := c.Str

	if vm.cfg.Packages == nil {
		return &VmError{Kind: VmUnknownPackage, Message: fmt.Sprintf("no package index configured, cannot import %q", name)}
	}
	pkg, ok := vm.cfg.Packages.Lookup(name)
	if !ok {
		return &VmError{Kind: VmUnknownPackage, Message: fmt.Sprintf("unknown package %q", name)}
	}
	if pkg.Manifest.Digest == "" {
		return &VmError{Kind: VmPackageWithoutDigest, Message: fmt.Sprintf("package %q has no digest", name)}
	}

	for _, fn := range pkg.Manifest.Functions {
		if _, exists := vm.globals[fn.Name]; exists {
			return &VmError{Kind: VmDuplicateFunctionImport, Message: fmt.Sprintf("function %q already imported", fn.Name)}
		}
		params := make([]string, len(fn.Parameters))
		for i, p := range fn.Parameters {
			params[i] = p.Name
		}
		h, err := vm.Heap.Alloc(&heap.Object{
			Kind:          heap.KindFunctionExt,
			ExtName:       fn.Name,
			ExtParameters: params,
			ExtPackage:    pkg.Manifest.Name,
			ExtVersion:    pkg.Manifest.Version,
			ExtKind:       string(pkg.Manifest.Kind),
			ExtDigest:     pkg.Manifest.Digest,
			ExtDetached:   pkg.Manifest.Detached,
		})
		if err != nil {
			return err
		}
		vm.globals[fn.Name] = heap.Obj(h)
	}

	for _, typeName := range pkg.Manifest.Types {
		if _, exists := vm.globals[typeName]; exists {
			return &VmError{Kind: VmGlobalAlreadyDefined, Message: fmt.Sprintf("type %q already imported", typeName)}
		}
		h, err := vm.Heap.Alloc(&heap.Object{Kind: heap.KindClass, ClassName: typeName, ClassMethods: map[string]heap.Slot{}})
		if err != nil {
			return err
		}
		vm.globals[typeName] = heap.Obj(h)
	}

	if vm.cfg.Executor != nil {
		_ = vm.cfg.Executor.Debug(ctx, fmt.Sprintf("imported package %s:%s (%d functions, %d types)", pkg.Manifest.Name, pkg.Manifest.Version, len(pkg.Manifest.Functions), len(pkg.Manifest.Types)))
	}
	return nil
}
