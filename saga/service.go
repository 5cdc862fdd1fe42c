package saga

import (
	"context"
	"errors"
	"fmt"

	berr "github.com/next-trace/scg-service-runtime/contract/errors"
	"github.com/next-trace/scg-service-runtime/servicebus"
)

// StartRequest is the argument of the start_saga method.
type StartRequest struct {
	SagaType string         `json:"saga_type"`
	Data     map[string]any `json:"data"`
}

// StatusRequest is the argument of the get_saga_status method.
type StatusRequest struct {
	SagaID string `json:"saga_id"`
}

// ListRequest is the argument of the list_sagas method.
type ListRequest struct {
	Limit int `json:"limit"`
}

// RegisterService exposes c on d as the start_saga, get_saga_status and list_sagas
// RPC methods.
func RegisterService(d *servicebus.Dispatcher, c *Coordinator) error {
	return errors.Join(
		servicebus.BindRPC(d, "start_saga", servicebus.RPCHandlerFunc[StartRequest, StartResult](
			func(ctx context.Context, req StartRequest) (StartResult, error) {
				return c.StartSaga(ctx, req.SagaType, req.Data)
			},
		)),
		servicebus.BindRPC(d, "get_saga_status", servicebus.RPCHandlerFunc[StatusRequest, Status](
			func(ctx context.Context, req StatusRequest) (Status, error) {
				if req.SagaID == "" {
					return Status{}, fmt.Errorf("get saga status: missing saga_id: %w", berr.ErrSagaNotFound)
				}

				return c.GetSagaStatus(ctx, req.SagaID)
			},
		)),
		servicebus.BindRPC(d, "list_sagas", servicebus.RPCHandlerFunc[ListRequest, []Status](
			func(ctx context.Context, req ListRequest) ([]Status, error) {
				return c.List(ctx, req.Limit)
			},
		)),
	)
}
