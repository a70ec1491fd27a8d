// Package relay routes inbound chat commands onto the message store:
// creating special messages, appending comments by identifier, listing and
// retrieving threads for their owner, and answering inline identifier
// lookups. The router is stateless across requests; everything durable
// lives in storage.
package relay
