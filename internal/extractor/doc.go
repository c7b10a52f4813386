/*
Package extractor renders single video frames to JPEG files with ffmpeg.

Each [Extractor.Extract] call reads the video info (cached), clamps timestamps
past the end to just before the end, runs one ffmpeg invocation under a hard
timeout and draws a timestamp label plus optional subtitle text onto the
frame. Overlay problems never fail an extraction: the plain frame is written
instead.

Failures are [*ExtractionError] values carrying a [Kind]. Only transient
kinds (see [IsTransient]) get a second attempt, and only here. Callers
further up must not retry.

Subprocesses go through a [Runner]; [ExecRunner] is the os/exec
implementation and kills tracked processes on [Extractor.Cleanup].
*/
package extractor
