// Package postgres archives finished saga snapshots in PostgreSQL through gorm.
//
// The journal is an audit trail and a status backend for executions that have
// already finished. It does not resume executions after a restart.
package postgres
