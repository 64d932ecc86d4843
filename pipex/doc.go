// Package pipex exercises and validates HTTP/1.1 request pipelining:
// sending multiple requests over one persistent connection before
// earlier responses arrive, and verifying that responses come back in
// strict request order even when individual replies are artificially
// delayed.
//
// Highlights
//   - Client: a pipeline window Controller that keeps at most W of N
//     prepared transfers in flight on a MultiEngine, draining
//     completions as they arrive and failing fast on a refused
//     connection.
//   - Server: a per-connection byte-stream parser (terminator matcher
//     plus header field state machine) and a strict-FIFO reply
//     scheduler that honors per-request X-Sleep delays without ever
//     reordering replies.
//   - Observability: plug-in Logger and Meter interfaces.
//
// The server recognizes two request control headers: "X-Sleep" (delay
// in milliseconds before the reply becomes eligible to be written) and
// "X-Request" (an id echoed back in the reply). Replies carry
// "X-Connection" and a per-connection monotonic "X-Reply" sequence so
// a client can verify ordering.
//
// Quick start (server):
//
//	s := &pipex.Server{Addr: ":9001"}
//	if err := s.ListenAndServe(); err != nil { log.Fatal(err) }
//
// Quick start (client):
//
//	slots := pipex.BuildSlotTable(pipex.SlotConfig{Target: "http://127.0.0.1:9001/", Total: 10})
//	eng := pipex.NewMultiEngine()
//	defer eng.Close()
//	ctrl := pipex.NewController(eng, slots, 4)
//	st, err := ctrl.Run(context.Background())
package pipex
