/*
Package workers sizes and runs the extraction worker pool.

# Sizing

A Profile turns GOMAXPROCS, which Go sets from the container CPU limit, and
an optional memory budget into a worker count. Each extraction runs one
ffmpeg process and holds a decoded frame, so the server sizes its pool with
the Extraction profile and the memory it can spare:

	_, available, _ := memory.HostMemory()
	numWorkers := workers.Extraction.Size(available, 8)

# Pool

Pool is a fixed set of goroutines draining a bounded channel. Submit blocks
while the channel is full, so a producer can stream jobs lazily without
materialising a whole batch:

	pool := workers.NewPool(n, 64, handle, monitor)
	defer pool.Stop()

	for _, job := range jobs {
		if err := pool.Submit(ctx, job); err != nil {
			break
		}
	}

Before each job a worker waits on the optional Gate, normally the memory
monitor, so extraction pauses while the heap is near its limit. Stop drops
queued jobs and waits for running handlers; a handler panic is logged and
the worker keeps going.
*/
package workers
