package domain

// Attribute is a key/value pair describing the effect of a command.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Response is the result of a successful command: the attributes it emitted
// and the transfers the funds collaborator must perform.
type Response struct {
	Attributes []Attribute
	Transfers  []Transfer
}

// AddAttribute appends a key/value pair and returns the response for chaining.
func (r *Response) AddAttribute(key, value string) *Response {
	r.Attributes = append(r.Attributes, Attribute{Key: key, Value: value})
	return r
}

// Attr returns the value of the first attribute named key.
func (r *Response) Attr(key string) (string, bool) {
	for _, a := range r.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}
