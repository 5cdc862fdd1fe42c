// Package saga coordinates multi-service business transactions as ordered sequences of
// remote actions with automatic, reverse-order compensation.
//
// Every step is an RPC call issued through a Caller (normally a *servicebus.Dispatcher):
//
//	c := saga.New(dispatcher, logger)
//	_ = c.DefineSaga("transfer", []saga.StepDefinition{
//		{Name: "debit", Service: "accounts", Action: "debit", Compensation: "reverse_debit"},
//		{Name: "credit", Service: "accounts", Action: "credit", Compensation: "reverse_credit"},
//		{Name: "notify", Service: "notifications", Action: "notify"},
//	})
//	started, _ := c.StartSaga(ctx, "transfer", map[string]any{"amount": 200})
//	status, _ := c.Await(ctx, started.SagaID)
//
// StartSaga never blocks on completion. Executions live in memory only; a process
// restart loses in-flight sagas. The Journal archives terminal snapshots for status
// lookups and is not a recovery mechanism.
//
// Compensation is best-effort: a failed undo is logged and recorded on its step, and the
// sweep continues with the remaining steps.
package saga
