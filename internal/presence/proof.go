// Package presence implements the long-lived TCP login/presence service.
// Each connection runs its own state machine: challenge on connect, MD5
// challenge-response login correlated with the auth service through the
// session store, then keyed dispatch for profile, buddy and status traffic.
package presence

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// ProofFunc computes a login proof from the bootstrap challenge issued at
// auth time, the bootstrap token and the two connection challenges. The
// derivation is pluggable so the connection state machine stays testable
// with a trivial function.
type ProofFunc func(acChallenge, authToken, clientChallenge, serverChallenge string) string

// GameSpyProof is the legacy derivation. The shared secret is never stored:
// it is the MD5 of the challenge handed out by the auth service, and the
// proof hashes it around the token and both connection challenges with the
// fixed 48-space filler the original SDK used.
func GameSpyProof(acChallenge, authToken, clientChallenge, serverChallenge string) string {
	password := md5hex(acChallenge)
	return md5hex(password + strings.Repeat(" ", 48) + authToken + clientChallenge + serverChallenge + password)
}

// serverProof is the reply proof the client verifies; same derivation with
// the challenge order swapped.
func serverProof(fn ProofFunc, acChallenge, authToken, clientChallenge, serverChallenge string) string {
	return fn(acChallenge, authToken, serverChallenge, clientChallenge)
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
