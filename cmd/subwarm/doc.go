// Command subwarm keeps subtitle data warm for the videos a browser
// extension is about to play.
//
// The extension reports each video it sees; subwarm queues the video and
// works through a chain of preload strategies (subtitle server lookup, hidden
// player frame, background tab) until subtitles are available.
//
// Install:
//
//	go install github.com/nuetzliches/subwarm/cmd/subwarm@latest
//
// Usage:
//
//	subwarm run --config ./Subwarmfile
package main
