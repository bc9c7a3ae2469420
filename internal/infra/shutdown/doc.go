// Package shutdown coordinates graceful termination of jalsync-server.
//
// Components register named hooks as they start. On SIGINT, SIGTERM or
// cancellation of the wait context the hooks run in reverse order under
// one deadline:
//
//	h := shutdown.NewHandler(30 * time.Second, logger)
//	h.OnShutdown("http", srv.Shutdown)
//	err := h.Wait(ctx)
package shutdown
