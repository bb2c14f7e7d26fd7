package auth

// Legacy numeric return codes. The consoles key their error screens off these
// values, so they are part of the wire contract and never change.
const (
	// ReturnLogin acknowledges a successful login handshake.
	ReturnLogin = "001"
	// ReturnAccountCreate acknowledges a first-time account registration.
	ReturnAccountCreate = "002"
	// ReturnSvcLoc answers a service-locator query.
	ReturnSvcLoc = "007"

	// ReturnBadRequest covers malformed or incomplete requests.
	ReturnBadRequest = "109"
	// ReturnBanned tells the console the device or account is not welcome.
	// Intentionally carries no detail about which identifier matched.
	ReturnBanned = "3914"
	// ReturnUnavailable maps record-store trouble onto the legacy
	// maintenance code so clients back off and retry on their own.
	ReturnUnavailable = "880"
)

// Known action field values.
const (
	ActionLogin         = "login"
	ActionAccountCreate = "acctcreate"
	ActionSvcLoc        = "svcloc"
)
