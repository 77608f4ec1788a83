// Package dispatch is a typed job dispatch and execution pipeline for
// game-server automation. Jobs carry structured payloads for one of four
// kinds (hooks, commands, cronjobs, domain reconciliation); workers consume
// them with bounded concurrency, retry with exponential backoff, and
// dead-letter what cannot succeed. Function-backed jobs execute user code in
// an external sandbox under a fresh, domain-scoped credential that lives
// exactly as long as the job.
//
// Queues are generic over their payload type and share a Broker:
//
//	broker := memory.NewBroker(memory.DefaultOptions())
//	hooks := queue.New[job.HookData](job.KindHook, broker)
//
//	id, err := hooks.Enqueue(ctx, job.HookData{
//		Base:      job.Base{DomainID: "d1", GameServerID: "gs-1", FunctionID: "fn-1"},
//		EventType: "player-connected",
//	})
//
// The pipeline package wires queues, workers, and the executor into a
// runnable unit; cmd/dispatchd is the production entry point. Redis and
// RabbitMQ brokers live under brokers/, sharing the same delivery
// semantics: at-least-once, attempts counted at dequeue, delayed retries,
// and per-queue dead letter retention.
package dispatch
