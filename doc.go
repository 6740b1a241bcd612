// Package deferq provides a capacity-bounded deferred task queue together
// with a cross-environment account delegation protocol.
//
// The root Service wires the building blocks found in the sub-packages:
//
//   - taskqueue  – queue creation, authority registration, enqueue and release
//   - delegation – delegatable accounts moving between the base layer and an
//     ephemeral environment, with a settler applying delayed settlements
//   - crank      – the executor running due tasks against a ledger
//   - ledger     – the in-memory base and ephemeral ledgers tasks execute on
//
// A typical embedding looks like:
//
//	srv, _ := deferq.New()
//	q, _ := srv.CreateQueue(ctx, owner, "app", "jobs", 64, nil)
//	_ = srv.TaskQueue().RegisterAuthority(ctx, q.Address, scheduler)
//	ref, _ := srv.TaskQueue().Enqueue(ctx, &taskqueue.EnqueueRequest{...})
//	go srv.Start(ctx)
//	defer srv.Shutdown()
package deferq
