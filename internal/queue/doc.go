// Package queue delivers job messages from the HTTP server and CLI to background workers.
//
// Three backends implement [Queue]:
//   - [Memory] : buffered channel, single process only
//   - [Redis] : LPUSH/BRPOP on one list key
//   - [JetStream] : NATS JetStream work-queue stream with a durable pull consumer
//
// [Pool] runs a fixed number of workers over any backend and hands each message to a [JobRunner].
package queue
