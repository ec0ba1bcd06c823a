package kinds

// Event kinds the relay and the surrounding application interpret directly.
const (
	KindMetadata      = 0
	KindTextNote      = 1
	KindDirectMessage = 4
	KindDeletion      = 5
	KindClientAuth    = 22242
)

// Class determines an event's storage policy.
type Class int

const (
	// Regular events are stored keyed by event id, every valid instance kept.
	Regular Class = iota
	// Replaceable events keep only the newest per (pubkey, kind).
	Replaceable
	// ParameterizedReplaceable events keep only the newest per
	// (pubkey, kind, d-tag value).
	ParameterizedReplaceable
	// Ephemeral events are broadcast live and never stored.
	Ephemeral
)

func (c Class) String() string {
	switch c {
	case Replaceable:
		return "replaceable"
	case ParameterizedReplaceable:
		return "parameterized-replaceable"
	case Ephemeral:
		return "ephemeral"
	default:
		return "regular"
	}
}

// Classify maps a kind number to its storage class per NIP-01/NIP-16/NIP-33.
// Kinds outside every reserved range fall back to Regular.
func Classify(kind int) Class {
	switch {
	case kind == 0 || kind == 3:
		return Replaceable
	case kind >= 10000 && kind < 20000:
		return Replaceable
	case kind >= 20000 && kind < 30000:
		return Ephemeral
	case kind >= 30000 && kind < 40000:
		return ParameterizedReplaceable
	default:
		return Regular
	}
}
