package wire

import "slices"

// Response holds the parameters of a decoded frame in a single owned buffer.
// The zero value is an empty response ready for use. A Response may be
// reused across decodes; slices returned by Param are invalidated by the
// next decode into the same Response.
type Response struct {
	buf  []byte
	ends []int
}

// Reset empties r keeping its allocated memory.
func (r *Response) Reset() {
	r.buf = r.buf[:0]
	r.ends = r.ends[:0]
}

// Len returns the number of parameters in r.
func (r *Response) Len() int { return len(r.ends) }

// Param returns the i'th parameter. It panics if i is out of range.
func (r *Response) Param(i int) []byte {
	start := 0
	if i > 0 {
		start = r.ends[i-1]
	}
	return r.buf[start:r.ends[i]:r.ends[i]]
}

// Status returns the first byte of the first parameter, which most commands
// use as their result code. Returns 0 if there is no such byte.
func (r *Response) Status() byte {
	if r.Len() == 0 || r.ends[0] == 0 {
		return 0
	}
	return r.buf[0]
}

// Params returns a copy of all parameters.
func (r *Response) Params() [][]byte {
	params := make([][]byte, r.Len())
	for i := range params {
		params[i] = append([]byte{}, r.Param(i)...)
	}
	return params
}

// Append adds p as a new parameter.
func (r *Response) Append(p []byte) {
	copy(r.grow(len(p)), p)
}

// grow adds a parameter of length n and returns it for filling.
func (r *Response) grow(n int) []byte {
	start := len(r.buf)
	r.buf = slices.Grow(r.buf, n)[:start+n]
	r.ends = append(r.ends, len(r.buf))
	return r.buf[start:]
}
