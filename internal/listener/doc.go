// Package listener owns the network side of each application generation.
//
// A Generation is one listen socket with its bound application and the set
// of connections it accepted. Manager.Start creates one, Manager.Shutdown
// drains it within a deadline and forcibly empties it when the deadline
// passes. A retired generation is never reused; the next load gets a new one.
package listener
