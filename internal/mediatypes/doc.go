// Package mediatypes classifies files by extension: videos the scanner
// indexes, poster images, and subtitle sidecars.
package mediatypes
