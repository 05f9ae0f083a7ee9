// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

/*
Package services adapts Curator components to suture.Service.

Each wrapper translates one lifecycle shape into Serve(ctx) error:

	HTTPServerService  listen, Serve, Shutdown (net/http)
	RunService         Run(ctx) (queue.Queue, progress.Tracker, schedule.Manager)
	RunnerFunc         any func(ctx) error, e.g. websocket.Hub.RunWithContext
	StartStopService   Start(ctx) / Stop() (background.Runner)
	StoreGCService     periodic RunGC on the badger store

Every wrapper implements fmt.Stringer so suture's event log names it.

A wrapper returns ctx.Err() on a requested shutdown. Any other return is
treated by suture as a failure and the service is restarted with backoff.

Example:

	tree.AddWorkerService(services.NewRunService("job-queue", q))
	tree.AddWorkerService(services.NewStartStopService("background-jobs", runner))
	tree.AddAPIService(services.NewRunService("websocket-hub", services.RunnerFunc(hub.RunWithContext)))
	tree.AddAPIService(services.NewHTTPServerService(srv, 10*time.Second))
*/
package services
