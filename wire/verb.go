package wire

// Verb identifies the payload carried after the inner flags byte. Only
// the low 5 bits of that byte are significant.
type Verb uint8

const (
	VerbNop               Verb = 0
	VerbHello             Verb = 1
	VerbError             Verb = 2
	VerbOK                Verb = 3
	VerbWhois             Verb = 4
	VerbRendezvous        Verb = 5
	VerbEcho              Verb = 8
	VerbPushDirectPaths   Verb = 16
	VerbUserMessage       Verb = 17
	VerbEncap             Verb = 18
	VerbFrame             Verb = 32
	VerbExtFrame          Verb = 33
	VerbMulticastLike     Verb = 34
	VerbMulticastGather   Verb = 35
	VerbMulticastFrame    Verb = 36
	VerbNetworkCredential Verb = 37
	VerbNetworkConfigReq  Verb = 38
	VerbNetworkConfig     Verb = 39

	verbMask = 0x1F
)

func (v Verb) String() string {
	switch v {
	case VerbNop:
		return "NOP"
	case VerbHello:
		return "HELLO"
	case VerbError:
		return "ERROR"
	case VerbOK:
		return "OK"
	case VerbWhois:
		return "WHOIS"
	case VerbRendezvous:
		return "RENDEZVOUS"
	case VerbEcho:
		return "ECHO"
	case VerbPushDirectPaths:
		return "PUSH_DIRECT_PATHS"
	case VerbUserMessage:
		return "USER_MESSAGE"
	case VerbEncap:
		return "ENCAP"
	case VerbFrame:
		return "FRAME"
	case VerbExtFrame:
		return "EXT_FRAME"
	case VerbMulticastLike:
		return "MULTICAST_LIKE"
	case VerbMulticastGather:
		return "MULTICAST_GATHER"
	case VerbMulticastFrame:
		return "MULTICAST_FRAME"
	case VerbNetworkCredential:
		return "NETWORK_CREDENTIALS"
	case VerbNetworkConfigReq:
		return "NETWORK_CONFIG_REQUEST"
	case VerbNetworkConfig:
		return "NETWORK_CONFIG"
	default:
		return "UNKNOWN"
	}
}

// IsVL2 reports whether a verb belongs to the virtual-Ethernet layer and
// should be forwarded to the VL2 collaborator unparsed, once VL1 has
// authenticated the packet and resolved the peer/path.
func (v Verb) IsVL2() bool {
	return v >= VerbFrame
}

// ErrorCode is the single-byte code carried by an ERROR verb payload.
type ErrorCode uint8

const (
	ErrorNone                     ErrorCode = 0
	ErrorObjectNotFound           ErrorCode = 1
	ErrorUnsupportedOperation     ErrorCode = 2
	ErrorNeedMembershipCertificate ErrorCode = 3
	ErrorNetworkAccessDenied      ErrorCode = 4
)
