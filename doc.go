// Package chainkit and its sub-packages implement a blockchain access middleware for Counterparty-style protocols
// on top of bitcoin, and for ethereum.
/*
chainkit resolves which of several candidate sets of remote daemons is alive, executes JSON-RPC calls against them
with response caching and failure classification, decodes the binary transaction protocol and broadcasts
transactions, optionally signed by a remote signing queue.

Libraries

The rpc package (lib/rpc) chooses the first healthy candidate service set and keeps the choice in a cache store
(lib/store: memory, mongodb or postgresql). Its gateway executes the commands of the blockchain layers (lib/block)
through the JSON-RPC clients of lib/rpc/jsonrpc. Responses are cached unless a cache rule rejects them, for example
unconfirmed transactions. The codec package (lib/codec) decodes asset identifiers, protocol payloads and filters
the protocol messages of blocks by asset. The queue package (lib/queue) signs, submits and archives transactions.

Services

The services communicate via a message broker (package lib/msg, implemented for AMQP brokers in lib/msg/amqp).

1) an API microservice (package api) exposes the layer operations through a RESTful API: server state, transaction
 decoding, asset messages of blocks, balances and transfers. Transfers are published to the broadcaster. The API
 also provides a hierarchical deterministic wallet (HD wallet) which comes quite handy in a single-user
 configuration.

2) an explorer microservice (package explorer) scans the protocol messages of mined blocks and publishes an event
 for every message about a tracked asset. Clients request the explorer to track assets through the API.

3) a broadcaster microservice (package broadcaster) consumes the transfers published by the API, broadcasts them
 and publishes their outcome.

The API and the explorer can be started running cmd/api/main.go and cmd/explorer/main.go. The broadcaster is
started with "chainkit broadcaster" (cmd/chainkit), which also decodes transactions and payloads, resolves the
service set of a network and broadcasts single transactions from the command line.

Every service is configured via a YAML or JSON config file and CK_* OS ENV variables (see lib/config and
cmd/conf.yaml) and exposes Prometheus metrics.
*/
package chainkit
