// Package main is framegrabctl, the command line companion to the framegrab
// server.
//
// It opens the database and screenshot directory in-process, so it needs
// the same MEDIA_DIR, SCREENSHOT_DIR and DATABASE_DIR the server uses:
//
//	framegrabctl scan
//	framegrabctl movies
//	framegrabctl generate 12 --interval 120
//	framegrabctl generate 12 --every-minutes 5 --subtitles /media/film.srt
//	framegrabctl list 12
//	framegrabctl sync 12
//	framegrabctl sync --all --json
//
// Progress is drawn as a bar when stderr is a terminal and printed as plain
// lines otherwise.
package main
