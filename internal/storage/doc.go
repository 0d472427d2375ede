package storage

// Package storage provides a minimal persistence layer for the gateway.
//
// It currently supports:
//   - Outage record appends (backend down/recovered episodes)
//   - Optional alert dedup state (to survive restarts)
