// Package api implements the HTTP REST API of the HomematicIP bridge.
//
// This package provides:
//   - Read access to light entity states and their history
//   - Light service calls (turn_on, turn_off, toggle)
//   - HS256 bearer-token authentication on everything but /health
//   - Middleware stack (request ID, logging, recovery, body size limit)
//
// # Endpoints
//
//	GET  /api/v1/health
//	GET  /api/v1/states
//	GET  /api/v1/states/{entity_id}
//	GET  /api/v1/states/{entity_id}/history?limit=N
//	POST /api/v1/services/light/{service}
//
// Service calls are executed synchronously: the response is written once
// the cloud has accepted the command for every targeted entity. The new
// state follows through the cloud event stream.
package api
