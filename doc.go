// Package cgw and its sub-packages implement a custodial gateway for account-model ledgers such as Ripple.
/*
cgw provides you with two microservices:

1) a gateway microservice (package gateway) that implements a RESTful API to build unsigned transactions, broadcast
 signed ones, track their lifecycle and manage the balance observation list of the custodial wallet.

2) a signer microservice (package signer) that holds the wallet secret, signs transaction contexts produced by the
 gateway and can issue fresh paper wallets. It is meant to run in an isolated network segment.

Architecture

The gateway keeps a single custodial wallet per deployment. Client deposits share the wallet's chain address and are
told apart by a numeric payment tag appended to it (base+tag). Each tag has a balance row in the database; incoming
chain transactions credit tags, and internal transfers between two tags of the same wallet settle entirely off-chain
without ever touching the ledger.

Transaction lifecycle events reach the gateway through the wallet adapter's refresh loop: the adapter polls the node
for validated ledger activity on the custodial account and hands every affecting transaction to the ingester, which
applies it to the database exactly once and publishes an event to the message broker. Other services can consume the
broker queues to notify end users in real time. The message broker is implemented as a product agnostic layer
(package lib/msg) and is configured via a JSON config file at service startup.

Persistence is product agnostic too (package lib/store); the shipped backend is MongoDB. Gateway instances can share
a database because every mutation that matters for correctness is a conditional single-document operation.

The wallet adapter contract (package lib/wallet) isolates the chain specifics so new ledgers can be added. The Ripple
implementation (package lib/wallet/ripple) talks JSON-RPC to a rippled node configured in the JSON config file.

The microservices can also be monitored via a Prometheus API by setting the flag "-m" at startup.

Gateway

The gateway microservice (package gateway) can be started running cmd/gateway/main.go. It exposes the HTTP RESTful
API used by clients: asset metadata, address validation, observed balances with continuation paging, single and
multi-input/multi-output transaction building, broadcasting, broadcast state queries and per-address history. Builds
are idempotent per operation id, and broadcasts of an already sent operation are rejected with a conflict.

Signer

The signer microservice (package signer) can be started running cmd/signer/main.go. It exposes a minimal API to
initialize the signing wallet, sign a transaction context with exactly one provided key and create new paper wallets.
Internal transfer contexts pass through unsigned since they never reach the chain.
*/
package cgw
