// Package logging is the leveled, printf-style logger every framegrab
// package writes through. Records go to a zerolog logger on stderr.
//
// Environment:
//
//	LOG_LEVEL   debug, info (default), warn or error
//	DEBUG       any truthy value forces debug
//	LOG_FORMAT  json for one JSON record per line, console lines otherwise
//
// Printf and Println ignore the level; the HTTP access log uses them.
package logging
