package model

// Remote signer methods.
const (
	MethodConnect      = "connect"
	MethodGetPublicKey = "get_public_key"
	MethodSignEvent    = "sign_event"
	MethodPing         = "ping"
)

// Well-known results.
const (
	ResultAck     = "ack"
	ResultPong    = "pong"
	ResultAuthURL = "auth_url"
)

// Request is the JSON-RPC style body carried inside an encrypted envelope.
type Request struct {
	ID     string   `json:"id"`
	Method string   `json:"method"`
	Params []string `json:"params"`
}

// Response is the decrypted reply. Sender is the envelope author and is not
// part of the encrypted body.
type Response struct {
	ID     string `json:"id"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	Sender string `json:"-"`
}

// IsAuthChallenge reports an auth_url response: Error then holds the URL and
// the real response will follow with the same id.
func (r *Response) IsAuthChallenge() bool {
	return r.Result == ResultAuthURL && r.Error != ""
}

func (r *Response) Failed() bool {
	return r.Error != "" && !r.IsAuthChallenge()
}
