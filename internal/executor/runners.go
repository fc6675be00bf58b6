package executor

import (
	"context"

	"github.com/angelstreet/virtualpytest-sub002/internal/controller"
	"github.com/angelstreet/virtualpytest-sub002/internal/model"
)

// DeviceContext identifies the device a step runs against.
type DeviceContext struct {
	DeviceID    string
	DeviceModel string
}

// ActionRunner dispatches a single action to its controller (spec.md §4.2.1).
type ActionRunner interface {
	Run(ctx context.Context, dc DeviceContext, action model.Action) (success bool, evidence map[string]interface{}, err error)
}

// VerificationRunner dispatches a single verification to its controller.
type VerificationRunner interface {
	Run(ctx context.Context, dc DeviceContext, v model.Verification) (success bool, evidence map[string]interface{}, err error)
}

// controllerActionRunner routes actions through the Controller Registry's
// command->category dispatch (spec.md §4.4).
type controllerActionRunner struct {
	registry *controller.Registry
}

// NewControllerActionRunner builds an ActionRunner backed by a Controller Registry.
func NewControllerActionRunner(registry *controller.Registry) ActionRunner {
	return &controllerActionRunner{registry: registry}
}

func (r *controllerActionRunner) Run(ctx context.Context, dc DeviceContext, action model.Action) (bool, map[string]interface{}, error) {
	return r.registry.ExecuteCommand(ctx, dc.DeviceID, dc.DeviceModel, action.Command, action.Params)
}

type controllerVerificationRunner struct {
	registry *controller.Registry
}

// NewControllerVerificationRunner builds a VerificationRunner backed by a Controller Registry.
func NewControllerVerificationRunner(registry *controller.Registry) VerificationRunner {
	return &controllerVerificationRunner{registry: registry}
}

func (r *controllerVerificationRunner) Run(ctx context.Context, dc DeviceContext, v model.Verification) (bool, map[string]interface{}, error) {
	params := v.Params
	if params == nil {
		params = map[string]interface{}{}
	} else {
		merged := make(map[string]interface{}, len(params)+1)
		for k, val := range params {
			merged[k] = val
		}
		params = merged
	}
	params["verification_type"] = v.Type
	return r.registry.ExecuteCommand(ctx, dc.DeviceID, dc.DeviceModel, v.Command, params)
}
