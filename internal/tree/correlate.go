package tree

// departure is a directory that left its parent during the current cycle.
type departure struct {
	handle Handle
	parent Handle
	name   string
}

// correlator pairs directory departures with arrivals within one read cycle.
//
// With cookie support a departure is matched by its cookie. Without it only
// the most recent departure is remembered and the next directory arrival in
// the same parent directory is taken to be its destination. That guess is
// wrong when a directory is renamed away and an unrelated one is created in
// the same directory before anything else happens; there is no information
// to do better.
type correlator struct {
	cookies   bool
	byCookie  map[uint32]departure
	last      *departure
	unmatched []Handle
}

func newCorrelator(cookies bool) *correlator {
	return &correlator{
		cookies:  cookies,
		byCookie: make(map[uint32]departure),
	}
}

// depart records d as waiting for its arrival.
func (c *correlator) depart(cookie uint32, d departure) {
	if c.cookies {
		if cookie == 0 {
			c.unmatched = append(c.unmatched, d.handle)
			return
		}
		c.byCookie[cookie] = d
		return
	}
	if c.last != nil {
		c.unmatched = append(c.unmatched, c.last.handle)
	}
	c.last = &d
}

// arrive returns the departure matching a directory arriving in parent.
func (c *correlator) arrive(cookie uint32, parent Handle) (departure, bool) {
	if c.cookies {
		if cookie == 0 {
			return departure{}, false
		}
		d, ok := c.byCookie[cookie]
		if ok {
			delete(c.byCookie, cookie)
		}
		return d, ok
	}
	if c.last == nil || c.last.parent != parent {
		return departure{}, false
	}
	d := *c.last
	c.last = nil
	return d, true
}

// finish ends the cycle and returns the handles of every departure that did
// not arrive anywhere watched.
func (c *correlator) finish() []Handle {
	out := c.unmatched
	for cookie, d := range c.byCookie {
		out = append(out, d.handle)
		delete(c.byCookie, cookie)
	}
	if c.last != nil {
		out = append(out, c.last.handle)
		c.last = nil
	}
	c.unmatched = nil
	return out
}
