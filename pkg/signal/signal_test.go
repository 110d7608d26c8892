package signal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSigkillTerminatesSynchronously(t *testing.T) {
	d := NewDispatcher()
	d.Send("agent-1", Signal{Kind: SIGKILL, Source: "test"})
	require.Equal(t, StateTerminated, d.State("agent-1"))
}

func TestUnmaskableSignalsWithinMaskScope(t *testing.T) {
	d := NewDispatcher()
	d.Mask("agent-1", []Kind{SIGSTOP, SIGCONT}, func() {
		d.Send("agent-1", SIGPOLICY.signalFrom("test"))
	})
	require.Equal(t, StateTerminated, d.State("agent-1"))
}

func TestMaskQueuesMaskableSignalsUntilScopeExit(t *testing.T) {
	d := NewDispatcher()
	d.Mask("agent-1", []Kind{SIGSTOP}, func() {
		d.Send("agent-1", Signal{Kind: SIGSTOP})
		require.Equal(t, StateRunning, d.State("agent-1"))
	})
	require.Equal(t, StateStopped, d.State("agent-1"))
}

func TestDuplicateTerminalSignalDiscarded(t *testing.T) {
	d := NewDispatcher()
	d.Send("agent-1", Signal{Kind: SIGKILL})
	require.NotPanics(t, func() {
		d.Send("agent-1", Signal{Kind: SIGTERM})
	})
	require.Equal(t, StateTerminated, d.State("agent-1"))
}

func TestSigcontNoopWhenAlreadyRunning(t *testing.T) {
	d := NewDispatcher()
	d.Send("agent-1", Signal{Kind: SIGCONT})
	require.Equal(t, StateRunning, d.State("agent-1"))
}

func TestBudgetSignalStopsAgentWithNoHandlerRegistered(t *testing.T) {
	d := NewDispatcher()
	d.Send("agent-1", Signal{Kind: SIGBUDGET, Source: "sandbox"})
	require.Equal(t, StateStopped, d.State("agent-1"))
}

func TestBudgetSignalDefersToRegisteredHandler(t *testing.T) {
	d := NewDispatcher()
	handled := false
	d.OnSignal("agent-1", SIGBUDGET, func(Signal) { handled = true })
	d.Send("agent-1", Signal{Kind: SIGBUDGET, Source: "sandbox"})
	require.True(t, handled)
	require.Equal(t, StateRunning, d.State("agent-1"))
}

// signalFrom is a tiny test helper so the mask-scope test reads naturally.
func (k Kind) signalFrom(source string) Signal {
	return Signal{Kind: k, Source: source}
}
