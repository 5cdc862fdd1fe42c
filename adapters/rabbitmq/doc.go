/*
Package rabbitmq mirrors dispatcher events to a RabbitMQ topic exchange.
The event subject becomes the routing key, so AMQP bindings such as `accounts.*` or
`accounts.#` select events the same way dispatcher patterns do. Publishing goes through
an auto-reconnecting publisher, with optional header propagation via a bus.HeaderPropagator.
*/
package rabbitmq
