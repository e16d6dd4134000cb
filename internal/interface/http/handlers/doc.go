// Package handlers contains reusable HTTP building blocks: health checks and
// middleware.
//
// # Health Checks
//
// Named checks run in parallel, each under its own timeout:
//
//	checker := handlers.NewCompositeHealthChecker("v1.0.0")
//	checker.AddCheck("database", handlers.NewPingCheck(conn))
//	checker.AddCheck("cache", handlers.NewPingCheck(cache))
//
//	status := checker.Check(ctx)
//
// # Admin Authentication
//
// Operator endpoints compare the X-Admin-Token header against a bcrypt hash
// taken from ADMIN_TOKEN_HASH:
//
//	auth, err := handlers.NewAdminTokenAuth(cfg.HTTP.AdminTokenHash)
//	admin := router.PathPrefix("/v1/admin").Subrouter()
//	admin.Use(auth.Middleware)
//
// A hash for a new token is produced with HashAdminToken.
package handlers
