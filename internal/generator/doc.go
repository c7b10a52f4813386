// Package generator plans screenshot batches and runs them on the worker
// pool.
//
// A batch covers one movie: timestamps 0, i, 2i and so on below the video
// duration. Generate supersedes any running batch for the movie, clears its
// timestamped rows and files, and starts a producer that streams jobs into
// the bounded pool. Each job extracts to a staging file named after its
// batch and is committed through [screenshots.Store.Commit], which drops the
// frame if the batch was superseded in the meantime.
//
// Cancel stops the producer. Jobs still queued are skipped; jobs already
// extracting finish and are saved.
package generator
