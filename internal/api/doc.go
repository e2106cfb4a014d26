// Package api exposes the REST surface of the calendar assistant: token
// issuance, conversational chat, event CRUD, ICS export, daily briefings and
// notification queries. Handlers translate unified error codes into HTTP
// statuses and record per-route metrics.
package api
