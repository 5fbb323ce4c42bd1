package piaf

// Response is the outcome of a call. Status and headers are complete when
// the call returns; the payload must be drained separately via Body.
type Response struct {
	Status        string // "200 OK"
	StatusCode    int
	Proto         string // "HTTP/1.1" or "HTTP/2.0"
	Header        Header
	ContentLength int64 // -1 when unknown
	Body          *Body
}
