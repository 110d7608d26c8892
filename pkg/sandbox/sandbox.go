// Package sandbox implements the Execution Sandbox (K4): static and
// runtime restriction of dynamically executed code (spec §4.4). Since the
// kernel itself is implemented in Go, the "dynamically executed code" it
// screens is Go source submitted for evaluation by a scripting/plugin
// tool; the static phase uses the standard library's own parser rather
// than re-implementing one.
package sandbox

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"sync"
	"time"
)

// Violation reports a single blocked reference found during static
// analysis (spec §4.4: "SandboxViolation{type, line, symbol}").
type Violation struct {
	Type   string
	Line   int
	Symbol string
}

var blockedSymbols = map[string]struct{}{
	"eval": {}, "exec": {}, "compile": {},
}

var blockedImports = map[string]string{
	"os/exec":      "process/shell runner",
	"os":           "OS facilities",
	"io/ioutil":    "file-system recursion",
	"path/filepath": "file-system recursion",
	"net":          "sockets",
	"net/http":     "sockets",
	"plugin":       "foreign-function interface",
	"unsafe":       "foreign-function interface",
	"syscall":      "OS facilities",
}

// StaticScan parses src and walks the AST looking for blocked symbols and
// imports. Any hit yields one Violation; the caller denies the request if
// len(violations) > 0 (spec: "Presence of any blocked symbol yields
// SandboxViolation... and the request is DENIED before execution").
func StaticScan(filename, src string) ([]Violation, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, src, parser.AllErrors)
	if err != nil {
		return nil, fmt.Errorf("sandbox: parse error: %w", err)
	}

	var violations []Violation

	for _, imp := range file.Imports {
		path := trimQuotes(imp.Path.Value)
		if reason, blocked := blockedImports[path]; blocked {
			pos := fset.Position(imp.Pos())
			violations = append(violations, Violation{
				Type: "blocked_import", Line: pos.Line, Symbol: path + " (" + reason + ")",
			})
		}
	}

	ast.Inspect(file, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		ident, ok := call.Fun.(*ast.Ident)
		if !ok {
			return true
		}
		if _, blocked := blockedSymbols[ident.Name]; blocked {
			pos := fset.Position(call.Pos())
			violations = append(violations, Violation{
				Type: "blocked_symbol", Line: pos.Line, Symbol: ident.Name,
			})
		}
		return true
	})

	return violations, nil
}

func trimQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// ImportHook is the runtime phase's defence-in-depth check: installed
// before running sandboxed code and uninstalled on every exit path
// (including panics), it denies an import of a blocked module at call
// time even if static analysis was fooled by obfuscation.
type ImportHook struct {
	mu       sync.Mutex
	active   bool
	denied   []string
}

// Install activates the hook. Callers must defer Uninstall immediately
// after a successful Install.
func (h *ImportHook) Install() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.active = true
	h.denied = nil
}

// Uninstall deactivates the hook; safe to call even if Install panicked
// partway, and safe to call multiple times.
func (h *ImportHook) Uninstall() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.active = false
}

// CheckImport is invoked by the sandboxed runtime for every import it
// attempts. It returns an error (and records the denial) when the module
// is blocked and the hook is active.
func (h *ImportHook) CheckImport(module string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.active {
		return nil
	}
	if reason, blocked := blockedImports[module]; blocked {
		h.denied = append(h.denied, module)
		return fmt.Errorf("sandbox: import of %q denied at runtime (%s)", module, reason)
	}
	return nil
}

// Denied returns the modules denied since the last Install.
func (h *ImportHook) Denied() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.denied...)
}

// Budget bounds resource usage for one sandboxed execution (spec §4.4).
type Budget struct {
	MaxMemoryMB    int64
	MaxCPUSeconds  float64
	MaxWallSeconds float64
}

// ErrBudgetExceeded is raised when a resource budget is overrun; the
// kernel's signal subsystem maps this to SIGBUDGET.
type ErrBudgetExceeded struct {
	Dimension string
}

func (e *ErrBudgetExceeded) Error() string {
	return fmt.Sprintf("sandbox: resource budget exceeded: %s", e.Dimension)
}

// Request describes one CODE_EXECUTION attempt submitted to the sandbox.
type Request struct {
	Filename string
	Source   string
	Budget   Budget
	// Shadow, when true, short-circuits actual execution and reports what
	// would have happened instead of performing any side effects (spec
	// §9 Open Question: single-step shadow mode only).
	Shadow bool
}

// Result is returned by Run.
type Result struct {
	Violations  []Violation
	Denied      bool
	Shadowed    bool
	WouldSignal []string
}

// Run performs the static phase. For Shadow requests, violations never
// deny the request outright; instead they are reported as
// WouldSignal so the caller can observe what a live run would have
// blocked without actually stopping it. Non-shadow execution is left to
// the caller (which owns the actual interpreter or subprocess); Run only
// gates whether that execution is permitted to start and supplies the
// ImportHook it must install.
func Run(ctx context.Context, req Request) (Result, error) {
	violations, err := StaticScan(req.Filename, req.Source)
	if err != nil {
		return Result{}, err
	}

	if req.Shadow {
		would := make([]string, 0, len(violations))
		for _, v := range violations {
			would = append(would, v.Symbol)
		}
		return Result{Violations: violations, Shadowed: true, WouldSignal: would}, nil
	}

	if len(violations) > 0 {
		return Result{Violations: violations, Denied: true}, nil
	}

	return Result{Denied: false}, nil
}

// WithTimeout runs fn under the wall-clock budget in Budget.MaxWallSeconds,
// returning ErrBudgetExceeded if it is not met.
func WithTimeout(ctx context.Context, budget Budget, fn func(context.Context) error) error {
	if budget.MaxWallSeconds <= 0 {
		return fn(ctx)
	}
	deadline := time.Duration(budget.MaxWallSeconds * float64(time.Second))
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return &ErrBudgetExceeded{Dimension: "max_wall_seconds"}
	}
}
