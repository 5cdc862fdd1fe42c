package errors

// Error codes for the runtime contracts. Keep stable; used across adapters, dispatcher and coordinator.
const (
	ErrCodeHandlerExists          = "servicebus.handler_exists"
	ErrCodeHandlerNotFound        = "servicebus.handler_not_found"
	ErrCodeUnknownMethod          = "servicebus.unknown_method"
	ErrCodeInvalidSubject         = "servicebus.invalid_subject"
	ErrCodeTransportNotConfigured = "servicebus.transport_not_configured"
	ErrCodePublishFailed          = "servicebus.publish_failed"
	ErrCodeRequestFailed          = "servicebus.request_failed"
	ErrCodeSerializationFailed    = "servicebus.serialization_failed"
	ErrCodeRemoteTimeout          = "servicebus.remote_timeout"
	ErrCodeRemote                 = "servicebus.remote_error"
	ErrCodeNoResponders           = "servicebus.no_responders"
	ErrCodeClosed                 = "servicebus.closed"
	ErrCodeUnknownSaga            = "saga.unknown_type"
	ErrCodeInvalidSaga            = "saga.invalid_definition"
	ErrCodeSagaNotFound           = "saga.not_found"
	ErrCodeStepFailed             = "saga.step_failed"
	ErrCodeJournalFailed          = "saga.journal_failed"
)

// Code returns an error value that carries only a code string.
// It implements error by returning the code string in Error().
func Code(code string) error { return codedError(code) }

type codedError string

func (e codedError) Error() string { return string(e) }

var (
	ErrHandlerExists          = Code(ErrCodeHandlerExists)
	ErrHandlerNotFound        = Code(ErrCodeHandlerNotFound)
	ErrUnknownMethod          = Code(ErrCodeUnknownMethod)
	ErrInvalidSubject         = Code(ErrCodeInvalidSubject)
	ErrTransportNotConfigured = Code(ErrCodeTransportNotConfigured)
	ErrPublishFailed          = Code(ErrCodePublishFailed)
	ErrRequestFailed          = Code(ErrCodeRequestFailed)
	ErrSerializationFailed    = Code(ErrCodeSerializationFailed)
	ErrRemoteTimeout          = Code(ErrCodeRemoteTimeout)
	ErrRemote                 = Code(ErrCodeRemote)
	ErrNoResponders           = Code(ErrCodeNoResponders)
	ErrClosed                 = Code(ErrCodeClosed)
	ErrUnknownSaga            = Code(ErrCodeUnknownSaga)
	ErrInvalidSaga            = Code(ErrCodeInvalidSaga)
	ErrSagaNotFound           = Code(ErrCodeSagaNotFound)
	ErrStepFailed             = Code(ErrCodeStepFailed)
	ErrJournalFailed          = Code(ErrCodeJournalFailed)
)
