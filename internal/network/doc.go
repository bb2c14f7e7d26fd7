// Package network provides shared socket plumbing for the protocol
// listeners: platform-specific ListenConfig construction with SO_REUSEADDR
// so a restarted process can rebind ports still in TIME_WAIT.
package network
