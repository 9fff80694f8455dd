// Package dtrack and its sub-packages implement the backend services to interact with an on-chain donation registry
// where recipient organizations register, donors contribute and organizations attach proofs of how funds were used.
/*
dtrack provides you with two microservices:

1) a tracker microservice (package tracker) that implements a RESTful API for user requests such as connecting a
 wallet session, browsing registered organizations and donations, submitting donations and withdrawing funds.

2) a watcher microservice (package watcher) that provides real-time events for those organizations that watching has
 been requested for.

Architecture

The tracker and watcher services communicate via a message broker. The user can request the watcher to watch
organization wallets channeling requests to the message broker. The watcher service consumes requests and scans mined
blocks for registry contract events. When a watched organization is involved in an event, the watcher will send it to
the message broker. Tracker services can then listen to the broker to notify their users about these events in
real-time. The message broker is implemented as a product agnostic layer (package lib/msg) and is configured via a
JSON config file at service startup.

Both tracker and watcher share a database used for persistence of watch subscriptions and scan cursors. Its layered
implementation (package lib/store) provides a database product agnostic interface.

A chain layer (package lib/chain) is implemented so new network interfaces can be developed and added. The layer
provides basic functionality to request balances, submit transactions, read contract state and fetch event logs. It
also hosts the wallet session connector and a hierarchical deterministic wallet (HD wallet) which comes quite handy
in a single-user configuration. Both services connect to the networks indicated in the JSON config file provided at
startup.

The registry layer (package lib/registry) encodes and decodes the donation registry contract: organization records,
donation records, pending withdrawals and the contract's event log. Packages lib/search and lib/page provide the
in-memory filtering, sorting and pagination used by the tracker's list endpoints.

Depending on workload and resources, one or more instances of the microservices can be orchestrated in order to
provide the required service level to the users.

Tracker

The tracker microservice (package tracker) can be started running cmd/tracker/main.go. The tracker exposes an HTTP
RESTful API that can be used by multiple clients. The API provides functionality to establish a wallet session, get
the available networks, request address balances, search organizations and donations with filters and pagination,
donate, register and approve organizations, attach proofs, withdraw pending balances and set organizations for
watching. Registry events sent by the watcher service are logged and can be read by clients. Any client front-end can
also get the events by consuming the appropriate queues of the message broker. The tracker serves its Prometheus
metrics at /metrics.

Watcher

The watcher microservice (package watcher) can be started running cmd/watcher/main.go. The watcher scans mined blocks
of the configured networks and sends registry events to the message broker when a watched organization is involved.
Tracker services can send requests for the watcher to start or stop watching organizations so that real time eventing
can be provided to the clients or front-end. The watcher can be monitored via a Prometheus API by setting the flag
"-m" at startup.

*/
package dtrack
