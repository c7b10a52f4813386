// Package subtitles reads SRT and WebVTT sidecars into timed cues so the
// extractor can burn the text active at a timestamp into a frame.
package subtitles
