// Package broker owns the AMQP side of every stage process: dialing the
// broker, declaring the exchange/queue/retry topology, publishing with
// confirms, and the consume loop that applies the ack/retry/drop protocol.
//
// Retries are delayed by the broker rather than the process. A rejected
// delivery is dead-lettered into <queue>.retry, waits there for the
// configured TTL, then expires back into the main exchange under its original
// routing key. Each pass through the primary queue appends to the x-death
// header, which the executor reads to bound the number of attempts.
package broker
