package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStaticScanFlagsBlockedImport(t *testing.T) {
	src := `package main

import "os/exec"

func main() {
	exec.Command("ls").Run()
}
`
	violations, err := StaticScan("sample.go", src)
	require.NoError(t, err)
	require.NotEmpty(t, violations)
	require.Equal(t, "blocked_import", violations[0].Type)
}

func TestStaticScanFlagsBlockedSymbol(t *testing.T) {
	src := `package main

func main() {
	eval("1+1")
}
`
	violations, err := StaticScan("sample.go", src)
	require.NoError(t, err)
	require.Equal(t, "blocked_symbol", violations[0].Type)
	require.Equal(t, "eval", violations[0].Symbol)
}

func TestStaticScanCleanCodePasses(t *testing.T) {
	src := `package main

func main() {
	println("hello")
}
`
	violations, err := StaticScan("sample.go", src)
	require.NoError(t, err)
	require.Empty(t, violations)
}

func TestRunDeniesOnViolation(t *testing.T) {
	src := `package main

import "net"

func main() { _ = net.Dial }
`
	result, err := Run(context.Background(), Request{Filename: "s.go", Source: src})
	require.NoError(t, err)
	require.True(t, result.Denied)
}

func TestImportHookDeniesBlockedModuleAtRuntime(t *testing.T) {
	hook := &ImportHook{}
	hook.Install()
	defer hook.Uninstall()

	err := hook.CheckImport("os/exec")
	require.Error(t, err)
	require.Contains(t, hook.Denied(), "os/exec")
}

func TestWithTimeoutRaisesBudgetExceeded(t *testing.T) {
	err := WithTimeout(context.Background(), Budget{MaxWallSeconds: 0.01}, func(ctx context.Context) error {
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	var budgetErr *ErrBudgetExceeded
	require.True(t, errors.As(err, &budgetErr))
}
