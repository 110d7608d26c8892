package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	agentsv1alpha1 "github.com/agentgovernor/kernel/api/v1alpha1"
	"github.com/agentgovernor/kernel/pkg/controller"
)

var scheme = runtime.NewScheme()

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(agentsv1alpha1.AddToScheme(scheme))
}

// controllerState holds the optional Kubernetes GovernancePolicy watcher.
// Kept separate from Kernel's zero-value-usable fields since most
// embedders (the CLI, unit tests) never touch a cluster.
type controllerState struct {
	mu       sync.RWMutex
	watching bool
	mgr      ctrl.Manager
}

// StartController starts the Kubernetes controller that watches
// GovernancePolicy CRDs and syncs them into this Kernel's Policy Engine.
// The controller runs in a background goroutine; cancel ctx to shut it
// down.
func (k *Kernel) StartController(ctx context.Context, useOPA bool) error {
	if k.ctl == nil {
		k.ctl = &controllerState{}
	}

	k.ctl.mu.Lock()
	if k.ctl.watching {
		k.ctl.mu.Unlock()
		return errors.New("controller already running")
	}
	k.ctl.watching = true
	k.ctl.mu.Unlock()

	ctrl.SetLogger(zap.New(zap.UseDevMode(true)))

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme:         scheme,
		LeaderElection: false,
	})
	if err != nil {
		k.ctl.mu.Lock()
		k.ctl.watching = false
		k.ctl.mu.Unlock()
		return fmt.Errorf("failed to create manager: %w", err)
	}
	k.ctl.mgr = mgr

	reconciler := &controller.GovernancePolicyReconciler{
		Client:       mgr.GetClient(),
		Scheme:       mgr.GetScheme(),
		PolicyEngine: k.engine,
		UseOPA:       useOPA,
	}

	if err := reconciler.SetupWithManager(mgr); err != nil {
		k.ctl.mu.Lock()
		k.ctl.watching = false
		k.ctl.mu.Unlock()
		return fmt.Errorf("failed to setup controller: %w", err)
	}

	go func() {
		if err := mgr.Start(ctx); err != nil {
			fmt.Printf("controller manager error: %v\n", err)
		}
		k.ctl.mu.Lock()
		k.ctl.watching = false
		k.ctl.mu.Unlock()
	}()

	return nil
}

// IsControllerRunning reports whether the Kubernetes controller is active.
func (k *Kernel) IsControllerRunning() bool {
	if k.ctl == nil {
		return false
	}
	k.ctl.mu.RLock()
	defer k.ctl.mu.RUnlock()
	return k.ctl.watching
}
