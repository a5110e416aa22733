package transport

// MultiTransport dispatches to inner transports by address scheme.
type MultiTransport struct {
	inner []Transport
}

func NewMultiTransport(inner ...Transport) *MultiTransport {
	return &MultiTransport{inner: inner}
}

func (t *MultiTransport) Accepts(address string) bool {
	for _, inner := range t.inner {
		if inner.Accepts(address) {
			return true
		}
	}
	return false
}

func (t *MultiTransport) Connect(endpoint string) (Connection, error) {
	for _, inner := range t.inner {
		if inner.Accepts(endpoint) {
			return inner.Connect(endpoint)
		}
	}
	return nil, &ConnectError{Endpoint: endpoint, Err: ErrUnsupportedScheme}
}

func (t *MultiTransport) Listen(bind string) (Listener, error) {
	for _, inner := range t.inner {
		if inner.Accepts(bind) {
			return inner.Listen(bind)
		}
	}
	return nil, ErrUnsupportedScheme
}
