package fusion

// Protocol is the set of key-strings a port declares it can accept, plus
// the key-string selected once a link negotiation succeeds.
type Protocol struct {
	order    []string
	offered  map[string]struct{}
	selected string
}

// NewProtocol builds a Protocol offering the given key-strings, in order.
func NewProtocol(keyStrings ...string) *Protocol {
	p := &Protocol{offered: map[string]struct{}{}}
	for _, k := range keyStrings {
		if _, ok := p.offered[k]; !ok {
			p.offered[k] = struct{}{}
			p.order = append(p.order, k)
		}
	}
	return p
}

// Offers reports whether the protocol's offered set contains keyString.
func (p *Protocol) Offers(keyString string) bool {
	_, ok := p.offered[keyString]
	return ok
}

// Selected returns the key-string this protocol negotiated to, or "" if
// negotiation has not happened yet.
func (p *Protocol) Selected() string {
	return p.selected
}

// negotiate computes the overlap between an out-port's offered protocol
// and an in-port's offered protocol: the overlap of their protocol sets.
// If empty, linking fails. Otherwise the common element is established as
// both ports' selected key-string.
//
// When more than one key-string overlaps, the first match in the out
// protocol's insertion-independent set is chosen deterministically by
// scanning the in-port's offered keys in the order they were supplied to
// NewProtocol, so repeated negotiations of the same two protocols are
// stable.
func negotiate(out, in *Protocol) (string, error) {
	for _, k := range in.orderedKeys() {
		if out.Offers(k) {
			out.selected = k
			in.selected = k
			return k, nil
		}
	}
	return "", ErrProtocolMismatch
}

func (p *Protocol) orderedKeys() []string {
	return p.order
}
